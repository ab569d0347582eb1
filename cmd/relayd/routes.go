package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/credential"
	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/router"
	"github.com/relaykit/relay/store"
)

const (
	// demoUsername is the account seeded at startup for trying the
	// login flow.
	demoUsername = "demo"

	// loginKeyPrefix namespaces login records in the store.
	loginKeyPrefix = "login:"

	// identityKey is the context value under which the token gate
	// stores the verified identity for downstream handlers.
	identityKey = "identity"
)

// catalogItem is one entry of the demo inventory served by the items
// routes.
type catalogItem struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

var catalog = []catalogItem{
	{ID: 1, Name: "anvil", Price: 55.00},
	{ID: 2, Name: "bellows", Price: 18.50},
	{ID: 3, Name: "crucible", Price: 42.75},
	{ID: 4, Name: "drawplate", Price: 12.00},
	{ID: 5, Name: "flux", Price: 4.25},
	{ID: 6, Name: "hammer", Price: 23.00},
	{ID: 7, Name: "ingot mold", Price: 31.40},
	{ID: 8, Name: "quench tank", Price: 89.99},
	{ID: 9, Name: "rasp", Price: 9.80},
	{ID: 10, Name: "swage block", Price: 140.00},
	{ID: 11, Name: "tongs", Price: 27.60},
	{ID: 12, Name: "vise", Price: 76.25},
}

// registerRoutes wires the demo API onto the server. Login and the
// token-gated routes only appear when the credential service is
// configured.
func registerRoutes(app *application, assetsDir string) {
	s := app.server

	s.Register(router.MethodGet, "/stats", handleStats(app))
	s.Register(router.MethodGet, "/items", handleItems()).
		Get(":id", handleItem())
	s.Register(router.MethodGet, "/dashboard", handleDashboard(assetsDir))

	broadcast := handleBroadcast(app)
	if app.credentials != nil {
		broadcast = requireToken(app.credentials, broadcast)
	}
	s.Register(router.MethodPost, "/broadcast", broadcast,
		router.WithRules(router.Rules{
			"topic":   router.TypeString,
			"payload": router.TypeObject,
		}))

	if app.credentials != nil {
		s.Register(router.MethodPost, "/login", handleLogin(app))
		s.Register(router.MethodGet, "/profile",
			requireToken(app.credentials, handleProfile()))
	}
}

// seedDemoUsers builds the in-memory user table. The demo password
// comes from RELAY_DEMO_PASSWORD; when unset a random one is generated
// and logged so the instance stays reachable.
func seedDemoUsers(creds credential.Service, logger observability.Logger) (map[string]string, error) {
	password := os.Getenv("RELAY_DEMO_PASSWORD")
	generated := false
	if password == "" {
		password = uuid.NewString()
		generated = true
	}

	hash, err := creds.HashPassword(password)
	if err != nil {
		return nil, err
	}

	if generated {
		logger.Info("generated demo user password",
			observability.String("username", demoUsername),
			observability.String("password", password),
		)
	}

	return map[string]string{demoUsername: hash}, nil
}

// requireToken wraps a handler behind bearer token verification. The
// verified identity lands in the context for the wrapped handler.
func requireToken(creds credential.Service, next relay.Handler) relay.Handler {
	return func(c *relay.Context) {
		raw, ok := strings.CutPrefix(c.Request.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.Error(http.StatusUnauthorized, "bearer token required")
			return
		}

		identity, err := creds.VerifyToken(raw)
		if err != nil {
			if errors.Is(err, credential.ErrTokenExpired) {
				c.Error(http.StatusUnauthorized, "token expired")
				return
			}
			c.Error(http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(identityKey, identity)
		next(c)
	}
}

// handleLogin checks the submitted credentials, issues a token, and
// records the login in the store. The response carries the token and
// the number of logins for the account over the last day.
func handleLogin(app *application) relay.Handler {
	return func(c *relay.Context) {
		username := stringParam(c, "username")
		password := stringParam(c, "password")
		if username == "" || password == "" {
			c.Error(http.StatusBadRequest, "username and password are required")
			return
		}

		hash, known := app.users[username]
		if !known || app.credentials.VerifyPassword(hash, password) != nil {
			c.Error(http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := app.credentials.IssueToken(username, map[string]any{"role": "demo"})
		if err != nil {
			c.Logger().Error("token issue failed", observability.Error(err))
			c.Error(http.StatusInternalServerError, "internal server error")
			return
		}

		key := loginKeyPrefix + username
		now := time.Now()
		if err := app.store.Insert(c.Context(), store.Record{Key: key, At: now}); err != nil {
			c.Logger().Warn("login record insert failed", observability.Error(err))
		}
		recent, err := app.store.Find(c.Context(), key, now.Add(-24*time.Hour))
		if err != nil {
			c.Logger().Warn("login record lookup failed", observability.Error(err))
		}

		c.JSON(map[string]any{
			"token":        token,
			"recentLogins": recent,
		})
	}
}

// handleProfile returns the verified identity placed in the context by
// the token gate.
func handleProfile() relay.Handler {
	return func(c *relay.Context) {
		value, _ := c.Get(identityKey)
		identity, ok := value.(*credential.Identity)
		if !ok {
			c.Error(http.StatusInternalServerError, "internal server error")
			return
		}

		c.JSON(map[string]any{
			"subject":   identity.Subject,
			"issuer":    identity.Issuer,
			"issuedAt":  identity.IssuedAt,
			"expiresAt": identity.ExpiresAt,
			"claims":    identity.Claims,
		})
	}
}

// handleStats returns an on-demand snapshot of request and system
// figures.
func handleStats(app *application) relay.Handler {
	return func(c *relay.Context) {
		c.JSON(app.sampler.Collect())
	}
}

// handleItems serves the demo inventory one page at a time.
func handleItems() relay.Handler {
	return func(c *relay.Context) {
		limit := intParam(c, "limit", 5)
		page := intParam(c, "page", 1)
		relay.Paginate(c, catalog, limit, page)
	}
}

// handleItem serves a single inventory entry by its numeric id.
func handleItem() relay.Handler {
	return func(c *relay.Context) {
		id, err := strconv.Atoi(stringParam(c, "id"))
		if err != nil {
			c.Error(http.StatusBadRequest, "item id must be numeric")
			return
		}
		for _, item := range catalog {
			if item.ID == id {
				c.JSON(item)
				return
			}
		}
		c.Error(http.StatusNotFound, "item not found")
	}
}

// handleDashboard serves the static dashboard page from the assets
// directory.
func handleDashboard(assetsDir string) relay.Handler {
	return func(c *relay.Context) {
		c.SendFile(filepath.Join(assetsDir, "dashboard.html"))
	}
}

// handleBroadcast fans a JSON payload out to realtime subscribers of
// the requested topic and reports how many connections took it.
func handleBroadcast(app *application) relay.Handler {
	return func(c *relay.Context) {
		reg := app.server.Realtime()
		if reg == nil {
			c.Error(http.StatusNotFound, "realtime channel disabled")
			return
		}

		topic := stringParam(c, "topic")
		if topic == "" {
			c.Error(http.StatusBadRequest, "topic is required")
			return
		}
		payload, ok := c.Param("payload")
		if !ok {
			c.Error(http.StatusBadRequest, "payload is required")
			return
		}

		data, err := json.Marshal(payload)
		if err != nil {
			c.Logger().Error("broadcast payload marshal failed", observability.Error(err))
			c.Error(http.StatusInternalServerError, "internal server error")
			return
		}

		delivered := reg.BroadcastTopic(topic, data)
		c.JSON(map[string]any{
			"topic":     topic,
			"delivered": delivered,
		})
	}
}

// stringParam returns the named parameter when it is bound as a string.
func stringParam(c *relay.Context, name string) string {
	value, ok := c.Param(name)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

// intParam parses the named parameter as a positive integer, falling
// back when it is absent or malformed.
func intParam(c *relay.Context, name string, fallback int) int {
	s := stringParam(c, name)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
