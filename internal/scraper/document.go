package scraper

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/shopee-scraper/internal/browser"
)

// DocumentPage is a Page over static markup, such as a product page saved
// from a browser.
type DocumentPage struct {
	doc  *goquery.Document
	html string
}

func NewDocumentPage(r io.Reader) (*DocumentPage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markup: %w", err)
	}

	html := string(raw)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &DocumentPage{doc: doc, html: html}, nil
}

func (p *DocumentPage) Text(ctx context.Context, selector string) (string, error) {
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%q: %w", selector, browser.ErrElementNotFound)
	}
	return sel.Text(), nil
}

func (p *DocumentPage) Attribute(ctx context.Context, selector, name string) (string, error) {
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%q: %w", selector, browser.ErrElementNotFound)
	}
	return sel.AttrOr(name, ""), nil
}

// HTML returns the markup as loaded, so URLs inside scripts and attributes
// are preserved exactly.
func (p *DocumentPage) HTML(ctx context.Context) (string, error) {
	return p.html, nil
}
