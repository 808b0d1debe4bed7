// Package cash keeps the machine's cash ledger: the inserted balance, the
// per-denomination change reserve and the return tray.
package cash

import (
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BillThreshold is the smallest face value handled as a bill. Anything
// below it is a coin.
const BillThreshold = 1000

// Denomination is the face value of one coin or bill.
type Denomination int

// IsCoin reports whether the denomination is a coin.
func (d Denomination) IsCoin() bool {
	return d < BillThreshold
}

// IsBill reports whether the denomination is a bill.
func (d Denomination) IsBill() bool {
	return d >= BillThreshold
}

// Counts maps a denomination to a number of units.
type Counts map[Denomination]int

// Total returns the face value of all units.
func (c Counts) Total() int {
	total := 0
	for d, n := range c {
		total += int(d) * n
	}
	return total
}

// Clone returns an independent copy without zero entries.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for d, n := range c {
		if n != 0 {
			out[d] = n
		}
	}
	return out
}

func sortDescending(ds []Denomination) {
	sort.Slice(ds, func(i, j int) bool { return ds[i] > ds[j] })
}

// FormatAmount renders an amount with digit grouping, e.g. "10,000 KRW".
func FormatAmount(amount int, currency string) string {
	return message.NewPrinter(language.English).Sprintf("%d %s", amount, currency)
}
