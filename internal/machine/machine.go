// Package machine is the transactional core of the vending machine. It owns
// the payment mode and routes every operation to the cash ledger, the card
// session and the inventory while holding a single lock.
package machine

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"vendingmachine/internal/card"
	"vendingmachine/internal/cash"
	vmerrors "vendingmachine/internal/errors"
	"vendingmachine/internal/inventory"
	"vendingmachine/internal/schedule"
)

// Settings is everything needed to stock and configure a machine.
type Settings struct {
	Cash    cash.Config
	Card    card.Config
	Catalog []inventory.Product
}

// Option customises a Machine.
type Option func(*Machine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithScheduler sets the scheduler driving the card countdown.
func WithScheduler(s schedule.Scheduler) Option {
	return func(m *Machine) {
		if s != nil {
			m.sched = s
		}
	}
}

// WithRecorder sets where journal events go.
func WithRecorder(r Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// Machine is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	log      *zap.Logger
	sched    schedule.Scheduler
	recorder Recorder
	now      func() time.Time

	mode      Mode
	sessionID string
	ledger    *cash.Ledger
	session   *card.Session
	inventory *inventory.Service
}

// InsertResult is returned by InsertMoney.
type InsertResult struct {
	Accepted int  `json:"accepted"`
	Balance  int  `json:"balance"`
	Mode     Mode `json:"mode"`
}

// CardResult is returned by InsertCard.
type CardResult struct {
	Card card.Status `json:"card"`
	Mode Mode        `json:"mode"`
}

// Purchase describes a completed sale.
type Purchase struct {
	Product inventory.Product `json:"product"`
	Payment Mode              `json:"payment"`
	Balance int               `json:"balance"`        // cash left after the sale
	Card    *card.Card        `json:"card,omitempty"` // card as charged
	Mode    Mode              `json:"mode"`
}

// Refund is returned by ReturnMoney and Reset.
type Refund struct {
	Amount    int         `json:"amount"`
	Money     cash.Counts `json:"money"`
	Remainder int         `json:"remainder"`
	Mode      Mode        `json:"mode"`
}

// New builds an idle machine.
func New(settings Settings, opts ...Option) (*Machine, error) {
	m := &Machine{
		log:      zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
		mode:     ModeIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sched == nil {
		m.sched = schedule.NewTicker()
	}

	ledger, err := cash.NewLedger(settings.Cash)
	if err != nil {
		return nil, err
	}
	cardCfg := settings.Card
	if cardCfg.Currency == "" {
		cardCfg.Currency = settings.Cash.Currency
	}
	session, err := card.NewSession(cardCfg, m.sched, m.handleExpiry)
	if err != nil {
		return nil, err
	}
	inv, err := inventory.NewService(settings.Catalog)
	if err != nil {
		return nil, err
	}

	m.ledger = ledger
	m.session = session
	m.inventory = inv
	return m, nil
}

// Currency returns the only currency the machine accepts.
func (m *Machine) Currency() string {
	return m.ledger.Currency()
}

// Mode returns the current payment mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	return m.mode
}

// InsertMoney accepts one coin or bill.
func (m *Machine) InsertMoney(amount int, currency string) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	if m.mode == ModeCard {
		return m.insertDuringCardLocked(amount, currency)
	}

	balance, err := m.ledger.Insert(amount, currency)
	if err != nil {
		m.rejectedLocked(amount, currency, err)
		return m.insertResultLocked(0), err
	}

	m.setModeLocked(ModeCash)
	m.log.Info("money inserted",
		zap.Int("amount", amount),
		zap.Int("balance", balance))
	m.emitLocked(Event{Kind: EventMoneyInserted, Amount: amount, Currency: currency, Payment: ModeCash})
	return m.insertResultLocked(amount), nil
}

// insertDuringCardLocked keeps cash out of a card session: coins fall
// through to the return tray and bills are refused.
func (m *Machine) insertDuringCardLocked(amount int, currency string) (InsertResult, error) {
	if currency != m.ledger.Currency() {
		err := vmerrors.WithMetadata(vmerrors.CodeUnsupportedCurrency,
			fmt.Sprintf("only %s is accepted, got %q", m.ledger.Currency(), currency),
			map[string]string{"currency": currency})
		return m.insertResultLocked(0), err
	}
	if amount <= 0 {
		return m.insertResultLocked(0), vmerrors.Newf(vmerrors.CodeUnsupportedDenomination,
			"%d is not a valid amount", amount)
	}

	d := cash.Denomination(amount)
	diverted := d.IsCoin()
	msg := "cash cannot be inserted during a card payment"
	if diverted {
		m.ledger.Divert(d)
		msg += "; the coin was returned to the tray"
	}
	err := vmerrors.WithMetadata(vmerrors.CodeModeConflict, msg, map[string]string{
		"amount":   strconv.Itoa(amount),
		"diverted": strconv.FormatBool(diverted),
	})
	m.rejectedLocked(amount, currency, err)
	return m.insertResultLocked(0), err
}

func (m *Machine) rejectedLocked(amount int, currency string, err error) {
	diverted := false
	var e *vmerrors.Error
	if errors.As(err, &e) {
		diverted = e.Metadata["diverted"] == "true"
	}
	m.log.Info("money rejected",
		zap.Int("amount", amount),
		zap.String("currency", currency),
		zap.Bool("diverted", diverted),
		zap.String("code", string(vmerrors.CodeOf(err))))
	if diverted {
		m.emitLocked(Event{
			Kind:     EventMoneyRejected,
			Amount:   amount,
			Currency: currency,
			Reason:   string(vmerrors.CodeOf(err)),
			Money:    cash.Counts{cash.Denomination(amount): 1},
		})
	}
}

func (m *Machine) insertResultLocked(accepted int) InsertResult {
	return InsertResult{Accepted: accepted, Balance: m.ledger.Balance(), Mode: m.mode}
}

// InsertCard starts a card session. kind is "unlimited" or "capped" (or
// their front-panel aliases); tier is the capped card's balance.
func (m *Machine) InsertCard(kind string, tier int) (CardResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	if m.mode == ModeCash {
		return m.cardResultLocked(), vmerrors.Newf(vmerrors.CodeModeConflict,
			"return the %s cash balance before paying by card", m.format(m.ledger.Balance()))
	}

	k, err := card.ParseKind(kind)
	if err != nil {
		return m.cardResultLocked(), vmerrors.New(vmerrors.CodeInvalidCardTier, err.Error())
	}

	status, err := m.session.Insert(k, tier)
	if err != nil {
		return m.cardResultLocked(), err
	}

	m.sessionID = status.ID
	m.setModeLocked(ModeCard)
	m.log.Info("card session started",
		zap.String("session_id", status.ID),
		zap.String("kind", string(k)),
		zap.Int("remaining", status.Remaining))
	m.emitLocked(Event{
		Kind:      EventCardSessionStarted,
		Amount:    status.Card.Balance,
		Payment:   ModeCard,
		SessionID: status.ID,
		Reason:    string(k),
	})
	return CardResult{Card: status, Mode: m.mode}, nil
}

func (m *Machine) cardResultLocked() CardResult {
	return CardResult{Card: m.session.Status(), Mode: m.mode}
}

// SelectProduct buys one unit of productID with whatever payment is active.
func (m *Machine) SelectProduct(productID string) (Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	p, ok := m.inventory.Product(productID)
	if !ok {
		return m.purchaseResultLocked(), vmerrors.WithMetadata(vmerrors.CodeUnknownProduct,
			fmt.Sprintf("no product with id %q", productID),
			map[string]string{"product_id": productID})
	}
	if !p.Available() {
		return m.purchaseResultLocked(), vmerrors.WithMetadata(vmerrors.CodeSoldOut,
			fmt.Sprintf("%s is sold out", p.Name),
			map[string]string{"product_id": productID})
	}

	switch m.mode {
	case ModeCard:
		return m.cardPurchaseLocked(p)
	case ModeCash:
		return m.cashPurchaseLocked(p)
	default:
		return m.purchaseResultLocked(), vmerrors.Newf(vmerrors.CodeInsufficientCashBalance,
			"insert %s or a card to buy %s", m.format(p.Price), p.Name)
	}
}

// cardPurchaseLocked is single shot: success or failure, the session ends.
func (m *Machine) cardPurchaseLocked(p inventory.Product) (Purchase, error) {
	charged, err := m.session.Checkout(p.Price)
	if err != nil {
		reason := ReasonInsufficientBalance
		if vmerrors.HasCode(err, vmerrors.CodeNoCardPresent) {
			reason = ReasonTimeout
		}
		m.log.Info("card purchase refused",
			zap.String("product_id", p.ID),
			zap.String("session_id", m.sessionID),
			zap.Error(err))
		m.endCardLocked(reason)
		return m.purchaseResultLocked(), err
	}

	m.inventory.Purchase(p.ID)
	sessionID := m.sessionID
	m.log.Info("product sold",
		zap.String("product_id", p.ID),
		zap.String("payment", string(ModeCard)),
		zap.Int("price", p.Price),
		zap.String("session_id", sessionID))
	m.emitLocked(Event{
		Kind:      EventSale,
		ProductID: p.ID,
		Amount:    p.Price,
		Currency:  m.ledger.Currency(),
		Payment:   ModeCard,
		SessionID: sessionID,
	})
	m.endCardLocked(ReasonPurchased)

	return Purchase{
		Product: p,
		Payment: ModeCard,
		Balance: m.ledger.Balance(),
		Card:    &charged,
		Mode:    m.mode,
	}, nil
}

func (m *Machine) cashPurchaseLocked(p inventory.Product) (Purchase, error) {
	balance := m.ledger.Balance()
	if balance < p.Price {
		return m.purchaseResultLocked(), vmerrors.Newf(vmerrors.CodeInsufficientCashBalance,
			"%s costs %s but the balance is %s", p.Name, m.format(p.Price), m.format(balance))
	}
	if !m.ledger.CanMakeChange(balance - p.Price) {
		return m.purchaseResultLocked(), vmerrors.Newf(vmerrors.CodeChangeUnavailable,
			"cannot give %s in change", m.format(balance-p.Price))
	}
	if err := m.ledger.DeductBalance(p.Price); err != nil {
		return m.purchaseResultLocked(), err
	}
	m.inventory.Purchase(p.ID)
	if m.ledger.Balance() == 0 {
		m.setModeLocked(ModeIdle)
	}

	m.log.Info("product sold",
		zap.String("product_id", p.ID),
		zap.String("payment", string(ModeCash)),
		zap.Int("price", p.Price),
		zap.Int("balance", m.ledger.Balance()))
	m.emitLocked(Event{
		Kind:      EventSale,
		ProductID: p.ID,
		Amount:    p.Price,
		Currency:  m.ledger.Currency(),
		Payment:   ModeCash,
	})
	return Purchase{Product: p, Payment: ModeCash, Balance: m.ledger.Balance(), Mode: m.mode}, nil
}

func (m *Machine) purchaseResultLocked() Purchase {
	return Purchase{Balance: m.ledger.Balance(), Mode: m.mode}
}

// ReturnMoney pays the cash balance out to the return tray.
func (m *Machine) ReturnMoney() (Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	switch m.mode {
	case ModeCard:
		return Refund{Money: cash.Counts{}, Mode: m.mode}, vmerrors.New(vmerrors.CodeModeConflict,
			"there is no cash to return during a card payment")
	case ModeIdle:
		return Refund{Money: cash.Counts{}, Mode: m.mode}, nil
	}
	return m.returnLocked(), nil
}

func (m *Machine) returnLocked() Refund {
	amount := m.ledger.Balance()
	payout := m.ledger.ReturnMoney()
	m.setModeLocked(ModeIdle)

	if payout.Remainder > 0 {
		m.log.Warn("change reserve could not cover the full refund",
			zap.Int("amount", amount),
			zap.Int("remainder", payout.Remainder))
	}
	m.log.Info("cash returned", zap.Int("amount", amount))
	m.emitLocked(Event{
		Kind:     EventCashReturned,
		Amount:   amount - payout.Remainder,
		Currency: m.ledger.Currency(),
		Payment:  ModeCash,
		Money:    payout.Money,
	})
	return Refund{Amount: amount, Money: payout.Money, Remainder: payout.Remainder, Mode: m.mode}
}

// CancelCard ejects the inserted card.
func (m *Machine) CancelCard() (CardResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	if m.mode != ModeCard {
		return m.cardResultLocked(), vmerrors.New(vmerrors.CodeNoCardPresent, "no card is inserted")
	}
	m.endCardLocked(ReasonCancelled)
	return m.cardResultLocked(), nil
}

// CollectProducts empties the product tray.
func (m *Machine) CollectProducts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventory.CollectDispensed()
}

// CollectMoney empties the return tray.
func (m *Machine) CollectMoney() cash.Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.CollectReturned()
}

// Reset ends any card session and pays out any cash balance, leaving the
// machine idle. Trays and stock are untouched.
func (m *Machine) Reset() Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()

	switch m.mode {
	case ModeCard:
		m.endCardLocked(ReasonReset)
	case ModeCash:
		return m.returnLocked()
	}
	return Refund{Money: cash.Counts{}, Mode: m.mode}
}

// Close stops the card countdown. The machine stays usable.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeCard {
		m.endCardLocked(ReasonReset)
	}
	m.session.Reset()
}

// handleExpiry is the session's expiry callback. It runs outside the
// session lock, possibly after the machine has moved on to another session.
func (m *Machine) handleExpiry(e card.Expiry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(e.SessionID)
}

func (m *Machine) expireLocked(sessionID string) {
	if m.mode != ModeCard || sessionID != m.sessionID {
		m.log.Debug("ignoring stale card expiry", zap.String("session_id", sessionID))
		return
	}
	m.log.Info("card session timed out", zap.String("session_id", sessionID))
	m.endCardLocked(ReasonTimeout)
}

// reconcileLocked applies an expiry whose callback has not reached the
// machine lock yet.
func (m *Machine) reconcileLocked() {
	if m.mode == ModeCard && !m.session.Active() {
		m.expireLocked(m.sessionID)
	}
}

func (m *Machine) endCardLocked(reason string) {
	m.session.Reset()
	sessionID := m.sessionID
	m.sessionID = ""
	m.setModeLocked(ModeIdle)
	m.emitLocked(Event{
		Kind:      EventCardSessionEnded,
		Payment:   ModeCard,
		SessionID: sessionID,
		Reason:    reason,
	})
}

func (m *Machine) setModeLocked(to Mode) {
	if m.mode == to {
		return
	}
	if !CanTransition(m.mode, to) {
		m.log.DPanic("illegal mode transition",
			zap.String("from", string(m.mode)),
			zap.String("to", string(to)))
		return
	}
	m.log.Debug("mode changed",
		zap.String("from", string(m.mode)),
		zap.String("to", string(to)))
	m.mode = to
}

func (m *Machine) emitLocked(e Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.recorder.Record(e)
}

func (m *Machine) format(amount int) string {
	return cash.FormatAmount(amount, m.ledger.Currency())
}
