package machine

import (
	"time"

	"vendingmachine/internal/card"
	"vendingmachine/internal/cash"
	"vendingmachine/internal/inventory"
)

// ProductState is a product plus whether it can be bought right now.
type ProductState struct {
	inventory.Product
	Purchasable bool `json:"purchasable"`
}

// State is a point-in-time snapshot for displays and the API.
type State struct {
	Mode         Mode           `json:"mode"`
	Currency     string         `json:"currency"`
	Balance      int            `json:"balance"`
	BalanceLabel string         `json:"balance_label"`
	Card         card.Status    `json:"card"`
	Products     []ProductState `json:"products"`
	Inserted     cash.Counts    `json:"inserted"`
	Reserve      cash.Counts    `json:"reserve"`
	Dispensed    map[string]int `json:"dispensed"`
	Returned     cash.Counts    `json:"returned"`
	StockedAt    time.Time      `json:"stocked_at"`
}

// State returns a snapshot of the whole machine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	balance := m.ledger.Balance()
	products := m.inventory.Products()
	states := make([]ProductState, 0, len(products))
	for _, p := range products {
		states = append(states, ProductState{Product: p, Purchasable: m.purchasableLocked(p)})
	}

	return State{
		Mode:         m.mode,
		Currency:     m.ledger.Currency(),
		Balance:      balance,
		BalanceLabel: m.format(balance),
		Card:         m.session.Status(),
		Products:     states,
		Inserted:     m.ledger.Inserted(),
		Reserve:      m.ledger.Reserve(),
		Dispensed:    m.inventory.Dispensed(),
		Returned:     m.ledger.Returned(),
		StockedAt:    m.inventory.LoadedAt(),
	}
}

// purchasableLocked mirrors the front panel: any stocked product while a
// card is in, otherwise only what the balance covers with exact change.
func (m *Machine) purchasableLocked(p inventory.Product) bool {
	if !p.Available() {
		return false
	}
	switch m.mode {
	case ModeCard:
		return true
	case ModeCash:
		balance := m.ledger.Balance()
		return balance >= p.Price && m.ledger.CanMakeChange(balance-p.Price)
	default:
		return false
	}
}
