package inventory

// Catalog file structure for catalog.json
type CatalogData struct {
	Products []Product `json:"products"`
}

// Product is one slot in the machine.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
}

// Available reports whether at least one unit is in stock.
func (p Product) Available() bool {
	return p.Quantity > 0
}

// DefaultCatalog is the drink line-up the machine ships with.
func DefaultCatalog() []Product {
	return []Product{
		{ID: "cola", Name: "Cola", Price: 1100, Quantity: 10},
		{ID: "water", Name: "Water", Price: 600, Quantity: 10},
		{ID: "coffee", Name: "Coffee", Price: 700, Quantity: 10},
	}
}
