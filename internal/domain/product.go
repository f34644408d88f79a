package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/semilia/storefront/pkg/slug"
	"github.com/semilia/storefront/pkg/validator"
)

// Product is the catalog snapshot embedded in a guest cart line. Price is in
// minor currency units.
type Product struct {
	ID       string `json:"id" validate:"required,productid"`
	Name     string `json:"name,omitempty" validate:"max=200"`
	Price    int64  `json:"price" validate:"gte=0"`
	ImageURL string `json:"imageUrl,omitempty" validate:"max=2048"`
	Slug     string `json:"slug,omitempty" validate:"max=200"`
}

// Validate checks the product carries an identifier and a non-negative price.
func (p Product) Validate() error {
	return validator.Validate(p)
}

// Normalize fills the slug from the name when the catalog did not send one.
func (p Product) Normalize() Product {
	if p.Slug == "" && p.Name != "" {
		p.Slug = slug.Generate(p.Name)
	}
	return p
}

// DisplayName is the name shown in notifications, falling back to the id.
func (p Product) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// ItemProduct is the product side of a cart line: either an embedded
// snapshot (guest carts) or a bare reference id (carts returned by the cart
// API). On the wire it is a JSON object or a JSON string respectively.
type ItemProduct struct {
	Snapshot *Product
	Ref      string
}

// Inline wraps a product snapshot.
func Inline(p Product) ItemProduct {
	return ItemProduct{Snapshot: &p}
}

// Reference wraps a product id.
func Reference(id string) ItemProduct {
	return ItemProduct{Ref: id}
}

// ID returns the product identifier regardless of representation.
func (ip ItemProduct) ID() string {
	if ip.Snapshot != nil {
		return ip.Snapshot.ID
	}
	return ip.Ref
}

// IsInline reports whether a full snapshot is embedded.
func (ip ItemProduct) IsInline() bool {
	return ip.Snapshot != nil
}

// MarshalJSON writes the snapshot object or the reference string.
func (ip ItemProduct) MarshalJSON() ([]byte, error) {
	if ip.Snapshot != nil {
		return json.Marshal(ip.Snapshot)
	}
	return json.Marshal(ip.Ref)
}

var errEmptyProduct = errors.New("product: empty value")

// UnmarshalJSON accepts either a product object or a product id string.
func (ip *ItemProduct) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errEmptyProduct
	}

	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("product reference: %w", err)
		}
		if id == "" {
			return errEmptyProduct
		}
		*ip = ItemProduct{Ref: id}
	case '{':
		var p Product
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("product snapshot: %w", err)
		}
		if p.ID == "" {
			return errors.New("product snapshot: missing id")
		}
		*ip = ItemProduct{Snapshot: &p}
	default:
		return fmt.Errorf("product: unexpected JSON %q", data[:1])
	}
	return nil
}

func (ip ItemProduct) clone() ItemProduct {
	if ip.Snapshot == nil {
		return ip
	}
	p := *ip.Snapshot
	return ItemProduct{Snapshot: &p}
}
