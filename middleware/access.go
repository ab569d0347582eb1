package middleware

import (
	"net/http"
	"sync"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// AccessList holds the blacklist and whitelist identity sets consulted
// by the access gate. Lists grow through explicit calls and are never
// pruned. Safe for concurrent use.
type AccessList struct {
	mu        sync.RWMutex
	blacklist map[string]struct{}
	whitelist map[string]struct{}
}

// NewAccessList returns an empty access list.
func NewAccessList() *AccessList {
	return &AccessList{
		blacklist: make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
	}
}

// Blacklist adds identities to the blacklist.
func (l *AccessList) Blacklist(identities ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range identities {
		l.blacklist[id] = struct{}{}
	}
}

// Whitelist adds identities to the whitelist.
func (l *AccessList) Whitelist(identities ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range identities {
		l.whitelist[id] = struct{}{}
	}
}

// Blacklisted reports whether identity is on the blacklist.
func (l *AccessList) Blacklisted(identity string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.blacklist[identity]
	return ok
}

// Whitelisted reports whether identity is on the whitelist.
func (l *AccessList) Whitelisted(identity string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.whitelist[identity]
	return ok
}

// Gate returns the access-gating stage for mode. In blacklist mode
// listed identities are rejected; in whitelist mode unlisted identities
// are rejected; any other mode admits everyone. Rejections are 401.
func Gate(mode string, list *AccessList, logger observability.Logger) relay.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	switch mode {
	case config.AccessModeBlacklist:
		return func(c *relay.Context) {
			if addr := c.ClientAddr(); list.Blacklisted(addr) {
				deny(c, logger, addr)
				return
			}
			c.Next()
		}
	case config.AccessModeWhitelist:
		return func(c *relay.Context) {
			if addr := c.ClientAddr(); !list.Whitelisted(addr) {
				deny(c, logger, addr)
				return
			}
			c.Next()
		}
	default:
		return func(c *relay.Context) { c.Next() }
	}
}

func deny(c *relay.Context, logger observability.Logger, addr string) {
	GetStageMetrics().accessDenied.WithLabelValues(routeLabel(c)).Inc()
	logger.Warn("access denied",
		observability.String("client_addr", addr),
		observability.String("path", c.Request.URL.Path),
	)
	c.Error(http.StatusUnauthorized, relay.ErrAccessDenied.Error())
}
