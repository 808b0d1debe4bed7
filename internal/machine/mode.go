package machine

// Mode is the payment mode the machine is in.
type Mode string

const (
	ModeIdle Mode = "IDLE"
	ModeCash Mode = "CASH"
	ModeCard Mode = "CARD"
)

// transitions lists the legal mode changes. Cash and Card never reach each
// other without passing through Idle.
var transitions = map[Mode][]Mode{
	ModeIdle: {ModeCash, ModeCard},
	ModeCash: {ModeIdle},
	ModeCard: {ModeIdle},
}

// CanTransition reports whether the machine may move from one mode to
// another. Staying in the same mode is always allowed.
func CanTransition(from, to Mode) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (m Mode) String() string { return string(m) }
