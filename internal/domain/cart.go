package domain

// CartItem is one product line. Quantity is always at least 1 in a valid
// cart. Price is the unit price snapshotted when a guest added the product;
// lines returned by the cart API may leave it zero and rely on the server's
// total.
type CartItem struct {
	Product  ItemProduct `json:"product"`
	Quantity int         `json:"quantity"`
	Price    int64       `json:"price,omitempty"`
}

// ProductID returns the line's product identifier.
func (it CartItem) ProductID() string {
	return it.Product.ID()
}

// UnitPrice returns the snapshotted price, falling back to the embedded
// product's price.
func (it CartItem) UnitPrice() int64 {
	if it.Price != 0 {
		return it.Price
	}
	if it.Product.Snapshot != nil {
		return it.Product.Snapshot.Price
	}
	return 0
}

// LineTotal is unit price times quantity.
func (it CartItem) LineTotal() int64 {
	return it.UnitPrice() * int64(it.Quantity)
}

// Cart is an ordered set of lines keyed by product id.
type Cart struct {
	Items      []CartItem `json:"items"`
	TotalPrice int64      `json:"totalPrice"`
}

// NewCart returns an empty cart.
func NewCart() *Cart {
	return &Cart{Items: []CartItem{}}
}

// Subtotal sums price times quantity over all lines.
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.LineTotal()
	}
	return total
}

// Recalculate sets TotalPrice from the lines.
func (c *Cart) Recalculate() {
	c.TotalPrice = c.Subtotal()
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var n int
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// FindItemIndex returns the index of the line for productID, or -1.
func (c *Cart) FindItemIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID() == productID {
			return i
		}
	}
	return -1
}

// Item returns the line for productID.
func (c *Cart) Item(productID string) (CartItem, bool) {
	if i := c.FindItemIndex(productID); i >= 0 {
		return c.Items[i], true
	}
	return CartItem{}, false
}

// Clone returns a deep copy that shares nothing with c.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return NewCart()
	}
	out := &Cart{Items: make([]CartItem, len(c.Items)), TotalPrice: c.TotalPrice}
	for i, it := range c.Items {
		it.Product = it.Product.clone()
		out.Items[i] = it
	}
	return out
}

// AddProduct adds qty units of p. An existing line accumulates quantity and
// keeps the price it was first added at; otherwise a new line with the full
// snapshot is appended. The total is recomputed.
func (c *Cart) AddProduct(p Product, qty int) {
	if i := c.FindItemIndex(p.ID); i >= 0 {
		c.Items[i].Quantity += qty
	} else {
		c.Items = append(c.Items, CartItem{Product: Inline(p), Quantity: qty, Price: p.Price})
	}
	c.Recalculate()
}

// RemoveProduct drops the line for productID and recomputes the total. It
// reports whether a line was removed.
func (c *Cart) RemoveProduct(productID string) bool {
	i := c.FindItemIndex(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
	c.Recalculate()
	return true
}

// SetQuantity sets the line's quantity, removing the line when qty < 1. It
// reports whether the product was present.
func (c *Cart) SetQuantity(productID string, qty int) bool {
	if qty < 1 {
		return c.RemoveProduct(productID)
	}
	i := c.FindItemIndex(productID)
	if i < 0 {
		return false
	}
	c.Items[i].Quantity = qty
	c.Recalculate()
	return true
}

// ApplyQuantity sets the line's quantity and moves TotalPrice by the line's
// price delta instead of recomputing it, so a server-computed total stays
// authoritative for lines whose price is unknown. qty < 1 drops the line.
// It reports whether the product was present.
func (c *Cart) ApplyQuantity(productID string, qty int) bool {
	i := c.FindItemIndex(productID)
	if i < 0 {
		return false
	}
	it := c.Items[i]
	if qty < 1 {
		c.TotalPrice -= it.LineTotal()
		c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
		return true
	}
	c.TotalPrice += it.UnitPrice() * int64(qty-it.Quantity)
	c.Items[i].Quantity = qty
	return true
}

// Sanitize repairs a cart read from storage: lines with no product id or a
// quantity below 1 are dropped, duplicate product lines are merged into the
// first occurrence, and the total is recomputed. It reports whether anything
// changed.
func (c *Cart) Sanitize() bool {
	changed := false
	seen := make(map[string]int, len(c.Items))
	kept := make([]CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		id := it.ProductID()
		if id == "" || it.Quantity < 1 {
			changed = true
			continue
		}
		if j, ok := seen[id]; ok {
			kept[j].Quantity += it.Quantity
			changed = true
			continue
		}
		seen[id] = len(kept)
		kept = append(kept, it)
	}
	c.Items = kept
	if total := c.Subtotal(); total != c.TotalPrice {
		c.TotalPrice = total
		changed = true
	}
	return changed
}
