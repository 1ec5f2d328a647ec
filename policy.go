package simplesockets

import "time"

// DefaultMaxConnections is the default per-server concurrent session cap.
const DefaultMaxConnections = 500

// MinInactivityTimeout is the smallest non-zero per-session inactivity
// timeout accepted: zero means infinite, anything else must be at least
// this long.
const MinInactivityTimeout = 5 * time.Second

// Policy is the per-server admission and resource policy. The zero value
// is a usable policy: no whitelist, no blacklist, DefaultMaxConnections,
// and no inactivity timeout.
type Policy struct {
	// Whitelist, if non-empty, is the exclusive set of admitted peer
	// addresses; Blacklist is ignored when Whitelist is non-empty.
	Whitelist []string
	// Blacklist is the set of refused peer addresses, consulted only when
	// Whitelist is empty.
	Blacklist []string
	// MaxConnections caps concurrent sessions. <= 0 means DefaultMaxConnections.
	MaxConnections int
	// InactivityTimeout, if non-zero, closes a session that receives
	// nothing (not even a KeepAlive) for this long. Must be zero or
	// >= MinInactivityTimeout.
	InactivityTimeout time.Duration
}

// validate applies defaults and rejects invalid values, returning
// ErrConfigError wrapped with detail. Mutation of the policy fields
// themselves (e.g. appending to Whitelist) is only safe before Listen is
// called.
func (p *Policy) validate() error {
	if p.MaxConnections <= 0 {
		p.MaxConnections = DefaultMaxConnections
	}
	if p.InactivityTimeout != 0 && p.InactivityTimeout < MinInactivityTimeout {
		return wrapConfigError("inactivity timeout %v below minimum %v", p.InactivityTimeout, MinInactivityTimeout)
	}
	return nil
}

// allows reports whether a peer at addr may be admitted. A non-empty
// Whitelist makes the Blacklist irrelevant.
func (p *Policy) allows(addr string) bool {
	if len(p.Whitelist) > 0 {
		return containsAddr(p.Whitelist, addr)
	}
	if len(p.Blacklist) > 0 {
		return !containsAddr(p.Blacklist, addr)
	}
	return true
}

func containsAddr(list []string, addr string) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}
