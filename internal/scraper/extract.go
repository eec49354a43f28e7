package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/shopee-scraper/internal/browser"
	"github.com/maltedev/shopee-scraper/internal/models"
)

// Page is a rendered product page. Text and Attribute return an error
// wrapping browser.ErrElementNotFound when nothing matches the selector.
type Page interface {
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	HTML(ctx context.Context) (string, error)
}

// descriptionSelector points at the second section of the product detail
// block, which holds the seller's description.
const descriptionSelector = "#sll2-normal-pdp-main > div > div > div > div.container > div.wAMdpk > " +
	"div > div.page-product__content--left > " +
	"div.product-detail.page-product__detail > section:nth-child(2)"

// Selectors lists, per field, the candidate selectors tried in order.
type Selectors struct {
	Name        []string
	Rating      []string
	Price       []string
	Discount    []string
	Description []string
	Video       string
	VideoAttr   string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Name:        []string{".WBVL_7 h1", ".WBVL_7 .vR6K3w"},
		Rating:      []string{".F9RHbS"},
		Price:       []string{".IZPeQz", "div.flex-auto div span._1ohNWN"},
		Discount:    []string{".ZA5sW5", "div.flex-auto div.CO1sy8"},
		Description: []string{descriptionSelector},
		Video:       "video.tpgcVs",
		VideoAttr:   "src",
	}
}

type Extractor struct {
	selectors Selectors
}

func NewExtractor(selectors Selectors) *Extractor {
	return &Extractor{selectors: selectors}
}

// Extract reads every field from the page once. Missing elements leave the
// field nil; any other page failure aborts the extraction.
func (e *Extractor) Extract(ctx context.Context, page Page) (*models.Product, error) {
	product := models.NewProduct()

	fields := []struct {
		dst        **string
		candidates []string
	}{
		{&product.Name, e.selectors.Name},
		{&product.Rating, e.selectors.Rating},
		{&product.Price, e.selectors.Price},
		{&product.Discount, e.selectors.Discount},
		{&product.Description, e.selectors.Description},
	}

	for _, f := range fields {
		value, err := firstText(ctx, page, f.candidates)
		if err != nil {
			return nil, err
		}
		*f.dst = value
	}

	if e.selectors.Video != "" {
		video, err := page.Attribute(ctx, e.selectors.Video, e.selectors.VideoAttr)
		if err != nil && !errors.Is(err, browser.ErrElementNotFound) {
			return nil, err
		}
		product.Video = models.Text(video)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page markup: %w", err)
	}
	product.Images = ExtractImageURLs(html)

	return product, nil
}

// firstText returns the first non-blank text among the candidates.
func firstText(ctx context.Context, page Page, candidates []string) (*string, error) {
	for _, selector := range candidates {
		text, err := page.Text(ctx, selector)
		if errors.Is(err, browser.ErrElementNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if value := models.Text(text); value != nil {
			return value, nil
		}
	}
	return nil, nil
}
