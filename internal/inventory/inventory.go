// Package inventory tracks the products in the machine, their stock, and
// the units sitting in the dispenser tray.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"vendingmachine/internal/logger"
)

type Service struct {
	order     []string // catalog order for display
	products  map[string]*Product
	dispensed map[string]int

	lastLoaded time.Time
	mutex      sync.RWMutex
}

// NewService creates a service stocked with the given catalog.
func NewService(catalog []Product) (*Service, error) {
	s := &Service{
		products:  make(map[string]*Product),
		dispensed: make(map[string]int),
	}
	if err := s.populate(catalog); err != nil {
		return nil, err
	}
	s.lastLoaded = time.Now()
	return s, nil
}

// LoadCatalog reads a catalog.json file.
func LoadCatalog(catalogPath string) ([]Product, error) {
	logger.LogInfo("Loading catalog from file: %s", catalogPath)

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog CatalogData
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if err := ValidateCatalog(catalog.Products); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", catalogPath, err)
	}

	logger.LogInfo("Successfully loaded catalog: %d products", len(catalog.Products))
	return catalog.Products, nil
}

// ValidateCatalog checks ids, prices and stock counts.
func ValidateCatalog(products []Product) error {
	if len(products) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	seen := make(map[string]bool, len(products))
	for _, p := range products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("product id is required")
		}
		if seen[id] {
			return fmt.Errorf("duplicate product id %q", id)
		}
		seen[id] = true
		if p.Price <= 0 {
			return fmt.Errorf("product %q: price must be positive", id)
		}
		if p.Quantity < 0 {
			return fmt.Errorf("product %q: quantity cannot be negative", id)
		}
	}
	return nil
}

func (s *Service) populate(products []Product) error {
	if err := ValidateCatalog(products); err != nil {
		return err
	}
	for _, p := range products {
		item := p
		item.ID = strings.TrimSpace(item.ID)
		s.order = append(s.order, item.ID)
		s.products[item.ID] = &item
	}
	return nil
}

// Product returns a copy of the product with the given id.
func (s *Service) Product(productID string) (Product, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

// CanPurchase reports whether the product exists and is in stock.
func (s *Service) CanPurchase(productID string) bool {
	p, ok := s.Product(productID)
	return ok && p.Available()
}

// Purchase takes one unit out of stock and drops it into the dispenser
// tray. Unknown or sold-out products are left untouched; callers check
// CanPurchase first.
func (s *Service) Purchase(productID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.products[productID]
	if !ok || p.Quantity <= 0 {
		return
	}
	p.Quantity--
	s.dispensed[productID]++
}

// Products returns copies of all products in catalog order.
func (s *Service) Products() []Product {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.products[id])
	}
	return out
}

// Dispensed returns a copy of the dispenser tray.
func (s *Service) Dispensed() map[string]int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return copyCounts(s.dispensed)
}

// HasDispensed reports whether anything waits in the dispenser tray.
func (s *Service) HasDispensed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.dispensed) > 0
}

// CollectDispensed empties the dispenser tray and returns what was in it.
func (s *Service) CollectDispensed() map[string]int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := copyCounts(s.dispensed)
	s.dispensed = make(map[string]int)
	return out
}

// LoadedAt returns when the catalog was stocked.
func (s *Service) LoadedAt() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastLoaded
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
