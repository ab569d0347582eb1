package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaykit/relay/config"
	"github.com/relaykit/relay/observability"
)

// Errors returned by the credential service.
var (
	ErrSecretTooShort   = errors.New("credential: secret must be at least 32 bytes")
	ErrPasswordMismatch = errors.New("credential: password mismatch")
	ErrTokenInvalid     = errors.New("credential: token invalid")
	ErrTokenExpired     = errors.New("credential: token expired")
)

const (
	// DefaultTokenTTL applies when no token lifetime is configured.
	DefaultTokenTTL = time.Hour

	// minSecretBytes is the floor for the HMAC secret. HS256 keys
	// shorter than the hash output weaken the signature.
	minSecretBytes = 32
)

// Identity is the verified content of a token.
type Identity struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]any
}

// Service hashes passwords and issues and verifies signed tokens.
type Service interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hash, password string) error
	IssueToken(subject string, extra map[string]any) (string, error)
	VerifyToken(token string) (*Identity, error)
}

// HMACService implements Service with bcrypt password hashes and
// HS256-signed JWTs.
type HMACService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	cost   int
	logger observability.Logger
}

// NewHMACService builds a service from configuration. The secret is
// required and must be long enough for HS256.
func NewHMACService(cfg config.CredentialConfig, logger observability.Logger) (*HMACService, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, ErrSecretTooShort
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ttl := cfg.TokenTTL.Duration()
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &HMACService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		cost:   cost,
		logger: logger,
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func (s *HMACService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("credential: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks password against a stored bcrypt hash.
func (s *HMACService) VerifyPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		passwordChecks.WithLabelValues(statusSuccess).Inc()
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		passwordChecks.WithLabelValues(statusFailure).Inc()
		return ErrPasswordMismatch
	default:
		passwordChecks.WithLabelValues(statusFailure).Inc()
		return fmt.Errorf("credential: verify password: %w", err)
	}
}

// IssueToken creates a signed token for subject. Extra claims land in
// the token's private claim space; registered claims set by the service
// cannot be overridden through extra.
func (s *HMACService) IssueToken(subject string, extra map[string]any) (string, error) {
	now := time.Now()

	builder := jwt.NewBuilder()
	for name, value := range extra {
		builder = builder.Claim(name, value)
	}
	builder = builder.
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		JwtID(uuid.New().String())
	if s.issuer != "" {
		builder = builder.Issuer(s.issuer)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("credential: build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("credential: sign token: %w", err)
	}

	tokensIssued.Inc()
	s.logger.Debug("token issued", observability.String("subject", subject))
	return string(signed), nil
}

// VerifyToken checks the signature, expiry, and issuer of a token and
// returns its verified content.
func (s *HMACService) VerifyToken(raw string) (*Identity, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			tokenVerifications.WithLabelValues(statusExpired).Inc()
			return nil, ErrTokenExpired
		}
		tokenVerifications.WithLabelValues(statusFailure).Inc()
		s.logger.Debug("token rejected", observability.Error(err))
		return nil, ErrTokenInvalid
	}

	tokenVerifications.WithLabelValues(statusSuccess).Inc()
	return &Identity{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
		Claims:    token.PrivateClaims(),
	}, nil
}

var _ Service = (*HMACService)(nil)
