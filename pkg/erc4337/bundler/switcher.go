package bundler

import (
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

// Switcher holds an ordered list of bundler candidates and advances through
// it when the active one fails in a way another endpoint could survive.
//
// It is handed a probe into the signing flow: once signing has progressed
// into a frozen state, switching is refused, because the in-flight payload
// was built against the current bundler's estimation and must be submitted
// to it.
type Switcher struct {
	candidates    []Bundler
	idx           int
	signingFrozen func() bool
	logger        logger.Logger
}

// NewSwitcher builds a switcher over candidates. signingFrozen reports
// whether the signing flow has entered a state where the payload must no
// longer change; it may be nil when no signing flow exists yet.
func NewSwitcher(candidates []Bundler, signingFrozen func() bool, lgr logger.Logger) *Switcher {
	return &Switcher{
		candidates:    candidates,
		signingFrozen: signingFrozen,
		logger:        logger.EnsureLogger(lgr),
	}
}

// Current returns the active bundler.
func (s *Switcher) Current() Bundler {
	return s.candidates[s.idx]
}

// CanSwitch reports whether failover is permitted for the given decoded
// error: the error must be of a switchable category, a further candidate
// must exist, and signing must not be frozen.
func (s *Switcher) CanSwitch(decoded *DecodedError) bool {
	if s.idx >= len(s.candidates)-1 {
		return false
	}
	if s.signingFrozen != nil && s.signingFrozen() {
		return false
	}
	return decoded != nil && decoded.Switchable()
}

// Switch advances to the next candidate. It never wraps past the end of the
// allowed set; callers gate it with CanSwitch.
func (s *Switcher) Switch() {
	if s.idx >= len(s.candidates)-1 {
		return
	}
	from := s.Current().Name()
	s.idx++
	s.logger.Infof("bundler failover: %s -> %s", from, s.Current().Name())
}
