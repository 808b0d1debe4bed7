// Package card simulates card payment: a card is inserted, a countdown
// starts, and the session ends on purchase, cancellation or timeout.
package card

import (
	"fmt"
	"strings"
)

// Kind is the type of simulated card.
type Kind string

const (
	// KindUnlimited never runs out of funds.
	KindUnlimited Kind = "unlimited"
	// KindCapped holds a fixed balance chosen from the configured tiers.
	KindCapped Kind = "capped"
)

// ParseKind accepts the canonical names as well as "sufficient" and
// "limited", the labels the machine's front panel uses.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unlimited", "sufficient":
		return KindUnlimited, nil
	case "capped", "limited":
		return KindCapped, nil
	default:
		return "", fmt.Errorf("unknown card kind %q", s)
	}
}

// Card is the card held by an active session.
type Card struct {
	Kind    Kind `json:"kind"`
	Balance int  `json:"balance"` // meaningless for unlimited cards
}

// Unlimited reports whether the card never runs out of funds.
func (c Card) Unlimited() bool {
	return c.Kind == KindUnlimited
}

// Covers reports whether the card can pay price.
func (c Card) Covers(price int) bool {
	return c.Unlimited() || c.Balance >= price
}
