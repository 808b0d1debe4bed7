package cash

import (
	"fmt"
	"strconv"

	vmerrors "vendingmachine/internal/errors"
)

// Config describes the cash the machine accepts.
type Config struct {
	Currency       string
	Coins          []int
	Bills          []int
	MaxBalance     int
	InitialReserve int // units of every denomination stocked at start
}

// Validate checks the denomination sets and limits.
func (c Config) Validate() error {
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if len(c.Coins)+len(c.Bills) == 0 {
		return fmt.Errorf("at least one denomination is required")
	}
	seen := make(map[int]bool)
	for _, v := range c.Coins {
		if v <= 0 || v >= BillThreshold {
			return fmt.Errorf("coin %d must be between 1 and %d", v, BillThreshold-1)
		}
		if seen[v] {
			return fmt.Errorf("duplicate denomination %d", v)
		}
		seen[v] = true
	}
	for _, v := range c.Bills {
		if v < BillThreshold {
			return fmt.Errorf("bill %d must be at least %d", v, BillThreshold)
		}
		if seen[v] {
			return fmt.Errorf("duplicate denomination %d", v)
		}
		seen[v] = true
	}
	if c.MaxBalance <= 0 {
		return fmt.Errorf("max balance must be positive")
	}
	if c.InitialReserve < 0 {
		return fmt.Errorf("initial reserve cannot be negative")
	}
	return nil
}

// Ledger tracks inserted money and the change reserve. It is not safe for
// concurrent use; the machine serialises access.
type Ledger struct {
	currency   string
	maxBalance int
	denoms     []Denomination // largest first
	allowed    map[Denomination]bool

	balance  int
	reserve  Counts
	returned Counts
	inserted Counts
}

// NewLedger builds a ledger whose reserve holds cfg.InitialReserve units of
// every accepted denomination.
func NewLedger(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cash config: %w", err)
	}

	l := &Ledger{
		currency:   cfg.Currency,
		maxBalance: cfg.MaxBalance,
		allowed:    make(map[Denomination]bool),
		reserve:    make(Counts),
		returned:   make(Counts),
		inserted:   make(Counts),
	}
	for _, v := range append(append([]int{}, cfg.Coins...), cfg.Bills...) {
		d := Denomination(v)
		l.denoms = append(l.denoms, d)
		l.allowed[d] = true
		l.reserve[d] = cfg.InitialReserve
	}
	sortDescending(l.denoms)
	return l, nil
}

// Currency returns the accepted currency code.
func (l *Ledger) Currency() string { return l.currency }

// Accepts reports whether d is one of the accepted denominations.
func (l *Ledger) Accepts(d Denomination) bool { return l.allowed[d] }

// Balance returns the inserted balance.
func (l *Ledger) Balance() int { return l.balance }

// Reserve returns a copy of the change reserve, including empty slots.
func (l *Ledger) Reserve() Counts {
	out := make(Counts, len(l.reserve))
	for d, n := range l.reserve {
		out[d] = n
	}
	return out
}

// Returned returns a copy of the return tray.
func (l *Ledger) Returned() Counts { return l.returned.Clone() }

// Inserted returns a copy of the money inserted in the current transaction.
func (l *Ledger) Inserted() Counts { return l.inserted.Clone() }

func (l *Ledger) format(amount int) string {
	return FormatAmount(amount, l.currency)
}

// Insert validates and accepts one coin or bill.
//
// Rejected coins drop into the return tray; rejected bills are never taken
// in. Either way the error carries metadata "diverted" telling the caller
// which happened.
func (l *Ledger) Insert(amount int, currency string) (int, error) {
	if currency != l.currency {
		return l.balance, vmerrors.WithMetadata(vmerrors.CodeUnsupportedCurrency,
			fmt.Sprintf("only %s is accepted, got %q", l.currency, currency),
			map[string]string{"currency": currency})
	}

	d := Denomination(amount)
	if amount <= 0 || !l.Accepts(d) {
		if amount > 0 && d.IsCoin() {
			l.Divert(d)
			return l.balance, rejection(vmerrors.CodeUnsupportedDenomination, d, true,
				fmt.Sprintf("%s is not accepted and was returned to the tray", l.format(amount)))
		}
		return l.balance, rejection(vmerrors.CodeUnsupportedDenomination, d, false,
			fmt.Sprintf("%s is not accepted", l.format(amount)))
	}

	if l.balance+amount > l.maxBalance {
		if d.IsCoin() {
			l.Divert(d)
			return l.balance, rejection(vmerrors.CodeBalanceCapExceeded, d, true,
				fmt.Sprintf("the balance cannot exceed %s; %s was returned to the tray",
					l.format(l.maxBalance), l.format(amount)))
		}
		return l.balance, rejection(vmerrors.CodeBalanceCapExceeded, d, false,
			fmt.Sprintf("the balance cannot exceed %s", l.format(l.maxBalance)))
	}

	l.balance += amount
	l.inserted[d]++
	l.reserve[d]++
	return l.balance, nil
}

func rejection(code vmerrors.Code, d Denomination, diverted bool, msg string) *vmerrors.Error {
	return vmerrors.WithMetadata(code, msg, map[string]string{
		"amount":   strconv.Itoa(int(d)),
		"diverted": strconv.FormatBool(diverted),
	})
}

// Divert drops a unit straight into the return tray without touching the
// balance or the reserve.
func (l *Ledger) Divert(d Denomination) {
	l.returned[d]++
}

// Change computes the greedy payout for amount from the current reserve,
// largest denomination first, without mutating anything. The remainder is
// the part that could not be paid out.
func (l *Ledger) Change(amount int) (Counts, int) {
	payout := make(Counts)
	remaining := amount
	for _, d := range l.denoms {
		if remaining < int(d) {
			continue
		}
		n := min(remaining/int(d), l.reserve[d])
		if n > 0 {
			payout[d] = n
			remaining -= int(d) * n
		}
	}
	return payout, remaining
}

// CanMakeChange reports whether amount can be paid out exactly from the
// reserve.
func (l *Ledger) CanMakeChange(amount int) bool {
	if amount < 0 {
		return false
	}
	_, remaining := l.Change(amount)
	return remaining == 0
}

// DeductBalance charges price against the balance. Callers check
// CanMakeChange(balance-price) first.
func (l *Ledger) DeductBalance(price int) error {
	if price < 0 {
		return fmt.Errorf("price cannot be negative: %d", price)
	}
	if price > l.balance {
		return vmerrors.Newf(vmerrors.CodeInsufficientCashBalance,
			"balance %s is less than %s", l.format(l.balance), l.format(price))
	}
	l.balance -= price
	if l.balance == 0 {
		l.inserted = make(Counts)
	}
	return nil
}

// Payout is the result of one ReturnMoney call.
type Payout struct {
	Money     Counts `json:"money"`
	Remainder int    `json:"remainder"` // value that could not be paid out
}

// ReturnMoney pays the balance out greedily into the return tray, then
// clears the balance and the inserted money.
func (l *Ledger) ReturnMoney() Payout {
	if l.balance == 0 {
		return Payout{Money: Counts{}}
	}

	payout, remaining := l.Change(l.balance)
	for d, n := range payout {
		l.reserve[d] -= n
		l.returned[d] += n
	}

	l.balance = 0
	l.inserted = make(Counts)
	return Payout{Money: payout, Remainder: remaining}
}

// CollectReturned empties the return tray and returns what was in it.
func (l *Ledger) CollectReturned() Counts {
	out := l.returned.Clone()
	l.returned = make(Counts)
	return out
}
