package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/maltedev/shopee-scraper/internal/browser"
	"github.com/maltedev/shopee-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage serves fixed texts per selector. The name and images only appear
// once HTML has been read readyAfter times, imitating a page that renders
// late.
type fakePage struct {
	mu         sync.Mutex
	texts      map[string]string
	attrs      map[string]string
	html       string
	errs       map[string]error
	readyAfter int
	reads      int
}

func (p *fakePage) ready() bool {
	return p.reads >= p.readyAfter
}

func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.errs[selector]; ok {
		return "", err
	}
	text, ok := p.texts[selector]
	if !ok || (!p.ready() && strings.Contains(selector, "WBVL_7")) {
		return "", fmt.Errorf("%q: %w", selector, browser.ErrElementNotFound)
	}
	return text, nil
}

func (p *fakePage) Attribute(ctx context.Context, selector, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	value, ok := p.attrs[selector+"@"+name]
	if !ok {
		return "", fmt.Errorf("%q: %w", selector, browser.ErrElementNotFound)
	}
	return value, nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reads++
	if !p.ready() {
		return "<html><body>loading</body></html>", nil
	}
	return p.html, nil
}

const productHTML = `<html><body>
<img src="https://down-br.img.susercontent.com/file/br-11134207-aaa@resize_w82_nl.webp">
<img src="https://down-br.img.susercontent.com/file/br-11134207-bbb@resize_w450.webp">
<script>{"image":"https://down-br.img.susercontent.com/file/br-11134207-aaa.webp"}</script>
</body></html>`

func completePage() *fakePage {
	return &fakePage{
		texts: map[string]string{
			".WBVL_7 h1": "  Fone de Ouvido Bluetooth  ",
			".F9RHbS":    "4.9",
			".IZPeQz":    "R$49,90",
			".ZA5sW5":    "-30%",
		},
		attrs: map[string]string{
			"video.tpgcVs@src": "https://cvf.shopee.com.br/file/video.mp4",
		},
		html: productHTML,
	}
}

func TestExtractor_Extract(t *testing.T) {
	ctx := context.Background()
	extractor := NewExtractor(DefaultSelectors())

	t.Run("complete page", func(t *testing.T) {
		product, err := extractor.Extract(ctx, completePage())
		require.NoError(t, err)

		assert.Equal(t, "Fone de Ouvido Bluetooth", models.Value(product.Name))
		assert.Equal(t, "4.9", models.Value(product.Rating))
		assert.Equal(t, "R$49,90", models.Value(product.Price))
		assert.Equal(t, "-30%", models.Value(product.Discount))
		assert.Equal(t, "https://cvf.shopee.com.br/file/video.mp4", models.Value(product.Video))
		assert.Nil(t, product.Description)
		assert.Equal(t, []string{
			"https://down-br.img.susercontent.com/file/br-11134207-aaa.webp",
			"https://down-br.img.susercontent.com/file/br-11134207-bbb.webp",
		}, product.Images)
		assert.True(t, product.Complete())
	})

	t.Run("fallback selectors", func(t *testing.T) {
		page := &fakePage{
			texts: map[string]string{
				".WBVL_7 .vR6K3w":                 "Camiseta Basica",
				"div.flex-auto div span._1ohNWN": "R$19,90",
				"div.flex-auto div.CO1sy8":        "10% OFF",
			},
			html: productHTML,
		}

		product, err := extractor.Extract(ctx, page)
		require.NoError(t, err)

		assert.Equal(t, "Camiseta Basica", models.Value(product.Name))
		assert.Equal(t, "R$19,90", models.Value(product.Price))
		assert.Equal(t, "10% OFF", models.Value(product.Discount))
		assert.Nil(t, product.Rating)
		assert.Nil(t, product.Video)
	})

	t.Run("blank text falls through to next candidate", func(t *testing.T) {
		page := completePage()
		page.texts[".WBVL_7 h1"] = "   "
		page.texts[".WBVL_7 .vR6K3w"] = "Nome Alternativo"

		product, err := extractor.Extract(ctx, page)
		require.NoError(t, err)
		assert.Equal(t, "Nome Alternativo", models.Value(product.Name))
	})

	t.Run("blank text everywhere is absent", func(t *testing.T) {
		page := completePage()
		page.texts[".F9RHbS"] = "\n\t"

		product, err := extractor.Extract(ctx, page)
		require.NoError(t, err)
		assert.Nil(t, product.Rating)
	})

	t.Run("no images yields empty list", func(t *testing.T) {
		page := completePage()
		page.html = "<html></html>"

		product, err := extractor.Extract(ctx, page)
		require.NoError(t, err)
		assert.NotNil(t, product.Images)
		assert.Empty(t, product.Images)
		assert.False(t, product.Complete())
	})

	t.Run("page failure aborts extraction", func(t *testing.T) {
		page := completePage()
		pageErr := errors.New("target closed")
		page.errs = map[string]error{".IZPeQz": pageErr}

		_, err := extractor.Extract(ctx, page)
		assert.ErrorIs(t, err, pageErr)
	})
}

func TestDocumentPage(t *testing.T) {
	ctx := context.Background()
	markup := `<html><body>
<div class="WBVL_7"><h1>Mochila Escolar</h1></div>
<div class="F9RHbS">4.7</div>
<div class="IZPeQz">R$89,00</div>
<video class="tpgcVs" src="https://cvf.shopee.com.br/file/v.mp4"></video>
<img src="https://down-br.img.susercontent.com/file/bag@resize_w450_nl.webp">
</body></html>`

	page, err := NewDocumentPage(strings.NewReader(markup))
	require.NoError(t, err)

	t.Run("text and attribute", func(t *testing.T) {
		text, err := page.Text(ctx, ".WBVL_7 h1")
		require.NoError(t, err)
		assert.Equal(t, "Mochila Escolar", text)

		src, err := page.Attribute(ctx, "video.tpgcVs", "src")
		require.NoError(t, err)
		assert.Equal(t, "https://cvf.shopee.com.br/file/v.mp4", src)
	})

	t.Run("missing element", func(t *testing.T) {
		_, err := page.Text(ctx, ".ZA5sW5")
		assert.ErrorIs(t, err, browser.ErrElementNotFound)
	})

	t.Run("full extraction", func(t *testing.T) {
		product, err := NewExtractor(DefaultSelectors()).Extract(ctx, page)
		require.NoError(t, err)

		assert.Equal(t, "Mochila Escolar", models.Value(product.Name))
		assert.Equal(t, "4.7", models.Value(product.Rating))
		assert.Equal(t, "R$89,00", models.Value(product.Price))
		assert.Nil(t, product.Discount)
		assert.Equal(t, []string{"https://down-br.img.susercontent.com/file/bag.webp"}, product.Images)
	})
}
