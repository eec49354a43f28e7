package models

import (
	"encoding/json"
	"strings"
)

// Product is the data extracted from a single product page. Every text field
// is optional because any selector may fail to match.
type Product struct {
	Name        *string  `json:"nome"`
	Rating      *string  `json:"avaliacao"`
	Price       *string  `json:"preco"`
	Discount    *string  `json:"desconto"`
	Images      []string `json:"imagens"`
	Video       *string  `json:"video"`
	Description *string  `json:"descricao"`
}

// NewProduct returns an empty product with a non-nil image list.
func NewProduct() *Product {
	return &Product{
		Images: make([]string, 0),
	}
}

// Complete reports whether the required fields are present: a name and at
// least one image.
func (p *Product) Complete() bool {
	return p != nil && p.Name != nil && len(p.Images) > 0
}

// Missing lists the required fields that are still absent.
func (p *Product) Missing() []string {
	var missing []string
	if p == nil || p.Name == nil {
		missing = append(missing, "nome")
	}
	if p == nil || len(p.Images) == 0 {
		missing = append(missing, "imagens")
	}
	return missing
}

// MarshalJSON keeps "imagens" an array on the wire even when nothing matched.
func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	if p.Images == nil {
		p.Images = []string{}
	}
	return json.Marshal(alias(p))
}

// Text returns a pointer to the trimmed value, or nil when the value is blank.
func Text(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// Value dereferences an optional field.
func Value(field *string) string {
	if field == nil {
		return ""
	}
	return *field
}
