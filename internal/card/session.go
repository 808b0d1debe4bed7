package card

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vendingmachine/internal/cash"
	vmerrors "vendingmachine/internal/errors"
	"vendingmachine/internal/schedule"
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// Config configures a Session.
type Config struct {
	Timeout  time.Duration
	Tiers    []int
	Currency string // used in messages only
}

// Validate checks the timeout and tiers.
func (c Config) Validate() error {
	if c.Timeout < TickInterval {
		return fmt.Errorf("card timeout must be at least %v, got %v", TickInterval, c.Timeout)
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one capped card tier is required")
	}
	for _, tier := range c.Tiers {
		if tier <= 0 {
			return fmt.Errorf("card tier must be positive, got %d", tier)
		}
	}
	return nil
}

// Expiry is passed to the expiry callback when a countdown runs out.
type Expiry struct {
	SessionID string
}

// Status is a point-in-time view of the session.
type Status struct {
	Active    bool   `json:"active"`
	ID        string `json:"id,omitempty"`
	Card      *Card  `json:"card,omitempty"`
	Remaining int    `json:"remaining_seconds"`
}

// Session owns at most one inserted card and its countdown.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	seconds  int
	tiers    map[int]bool
	sched    schedule.Scheduler
	onExpire func(Expiry)

	card       *Card
	id         string
	remaining  int
	generation uint64
	handle     schedule.Handle
}

// NewSession builds an empty session. onExpire runs once per countdown that
// reaches zero, after the session has cleared itself and outside its lock.
func NewSession(cfg Config, sched schedule.Scheduler, onExpire func(Expiry)) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("card config: %w", err)
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	s := &Session{
		cfg:      cfg,
		seconds:  int(cfg.Timeout / TickInterval),
		tiers:    make(map[int]bool, len(cfg.Tiers)),
		sched:    sched,
		onExpire: onExpire,
	}
	for _, tier := range cfg.Tiers {
		s.tiers[tier] = true
	}
	return s, nil
}

// Insert installs a card and (re)starts the countdown from the full
// timeout. Capped cards must use one of the configured tiers.
func (s *Session) Insert(kind Kind, tier int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.card != nil {
		return Status{}, vmerrors.New(vmerrors.CodeCardAlreadyPresent, "a card is already inserted")
	}

	var c Card
	switch kind {
	case KindUnlimited:
		c = Card{Kind: KindUnlimited}
	case KindCapped:
		if !s.tiers[tier] {
			return Status{}, vmerrors.WithMetadata(vmerrors.CodeInvalidCardTier,
				fmt.Sprintf("%s is not an available card balance", s.format(tier)),
				map[string]string{"tier": fmt.Sprint(tier)})
		}
		c = Card{Kind: KindCapped, Balance: tier}
	default:
		return Status{}, vmerrors.Newf(vmerrors.CodeInvalidCardTier, "unknown card kind %q", kind)
	}

	s.card = &c
	s.id = uuid.NewString()
	s.startTimerLocked()
	return s.statusLocked(), nil
}

// startTimerLocked discards any pending timer before arming a new one.
func (s *Session) startTimerLocked() {
	s.stopTimerLocked()
	s.remaining = s.seconds
	gen := s.generation
	s.handle = s.sched.Every(TickInterval, func() { s.tick(gen) })
}

func (s *Session) stopTimerLocked() {
	s.generation++
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.card == nil {
		s.mu.Unlock()
		return
	}
	s.remaining--
	if s.remaining > 0 {
		s.mu.Unlock()
		return
	}

	expired := Expiry{SessionID: s.id}
	s.clearLocked()
	cb := s.onExpire
	s.mu.Unlock()

	if cb != nil {
		cb(expired)
	}
}

// CanPurchase checks that an active card can pay price without charging it.
func (s *Session) CanPurchase(price int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(price)
}

func (s *Session) checkLocked(price int) error {
	if s.card == nil {
		return vmerrors.New(vmerrors.CodeNoCardPresent, "no card is inserted")
	}
	if !s.card.Covers(price) {
		return vmerrors.Newf(vmerrors.CodeInsufficientCardBalance,
			"card balance %s is less than %s", s.format(s.card.Balance), s.format(price))
	}
	return nil
}

// Purchase charges price to the card. Unlimited cards are never charged.
// The session stays open; ending it is the caller's job.
func (s *Session) Purchase(price int) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chargeLocked(price)
}

func (s *Session) chargeLocked(price int) (Card, error) {
	if err := s.checkLocked(price); err != nil {
		return Card{}, err
	}
	if !s.card.Unlimited() {
		s.card.Balance -= price
	}
	return *s.card, nil
}

// Checkout charges price and ends the session in one step, so no tick can
// land between the charge and the timer being cancelled. On error the
// session is left as it was.
func (s *Session) Checkout(price int) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chargeLocked(price)
	if err != nil {
		return Card{}, err
	}
	s.clearLocked()
	return c, nil
}

// Reset discards the card and cancels the countdown. It is idempotent.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.stopTimerLocked()
	s.card = nil
	s.id = ""
	s.remaining = 0
}

// Active reports whether a card is inserted.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.card != nil
}

// ID returns the current session ID, empty when no card is inserted.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Remaining returns the seconds left on the countdown.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	if s.card == nil {
		return Status{}
	}
	c := *s.card
	return Status{Active: true, ID: s.id, Card: &c, Remaining: s.remaining}
}

func (s *Session) format(amount int) string {
	if s.cfg.Currency == "" {
		return fmt.Sprint(amount)
	}
	return cash.FormatAmount(amount, s.cfg.Currency)
}
