package assign

import (
	"net/http"

	"github.com/headline-goat/variant-goat/internal/store"
)

// Signals exposes whatever consent evidence the caller has, usually the
// visitor's cookies.
type Signals interface {
	Lookup(name string) (value string, ok bool)
}

// SignalMap is a fixed set of signals.
type SignalMap map[string]string

func (m SignalMap) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// RequestCookies reads signals from request cookies.
type RequestCookies struct {
	R *http.Request
}

func (c RequestCookies) Lookup(name string) (string, bool) {
	cookie, err := c.R.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

// ConsentStrategy checks one consent mechanism.
type ConsentStrategy interface {
	Granted(cfg store.ConsentConfig, signals Signals) bool
}

// KeyPresence grants consent when the configured key is present and, if an
// expected value is configured, equal to it.
type KeyPresence struct{}

func (KeyPresence) Granted(cfg store.ConsentConfig, signals Signals) bool {
	if cfg.KeyName == "" || signals == nil {
		return false
	}
	v, ok := signals.Lookup(cfg.KeyName)
	if !ok {
		return false
	}
	return cfg.KeyValue == "" || v == cfg.KeyValue
}

var strategies = map[string]ConsentStrategy{
	store.ConsentMechanismCookieKey: KeyPresence{},
}

// ConsentGranted reports whether events for e may be tracked. When consent
// is required and the mechanism is unset or unknown, tracking is denied.
func ConsentGranted(e *store.Experiment, signals Signals) bool {
	if !e.Consent.Required {
		return true
	}
	strategy, ok := strategies[e.Consent.Mechanism]
	if !ok {
		return false
	}
	return strategy.Granted(e.Consent, signals)
}
