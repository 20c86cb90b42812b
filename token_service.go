package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the validity window when none is configured
const DefaultTokenTTL = 24 * time.Hour

// TokenService issues and validates bearer tokens
type TokenService interface {
	Issue(accountID uuid.UUID, role Role) (string, error)
	Validate(token string) (*Claims, error)
}

// JWTTokenService signs HS256 tokens with a key injected at construction
type JWTTokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*JWTTokenService)

// WithTokenClock injects a custom clock (useful for tests)
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *JWTTokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(ts *JWTTokenService) {
		ts.issuer = issuer
	}
}

func WithTokenAudience(audience ...string) TokenServiceOption {
	return func(ts *JWTTokenService) {
		ts.audience = append(jwt.ClaimStrings(nil), audience...)
	}
}

func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *JWTTokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new JWTTokenService instance
func NewTokenService(signingKey []byte, ttl time.Duration, opts ...TokenServiceOption) (*JWTTokenService, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("signing key must not be empty", goerrors.CategoryInternal).
			WithTextCode(TextCodeInternal)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	ts := &JWTTokenService{
		signingKey: append([]byte(nil), signingKey...),
		ttl:        ttl,
		now:        time.Now,
		logger:     defLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// NewTokenServiceFromConfig reads key, TTL, issuer and audience from cfg
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) (*JWTTokenService, error) {
	base := []TokenServiceOption{
		WithTokenIssuer(cfg.GetIssuer()),
		WithTokenAudience(cfg.GetAudience()...),
	}
	return NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetTokenExpiration(), append(base, opts...)...)
}

// Issue creates a signed token for the account
func (ts *JWTTokenService) Issue(accountID uuid.UUID, role Role) (string, error) {
	if accountID == uuid.Nil {
		return "", goerrors.New("account id is required", goerrors.CategoryBadInput)
	}
	if !role.IsValid() {
		return "", ErrInvalidRole
	}

	now := ts.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   accountID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
		UID:      accountID.String(),
		UserRole: role,
	}

	return ts.SignClaims(claims)
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *JWTTokenService) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Validate parses and validates a token string. Expired tokens return
// ErrTokenExpired, every other failure ErrTokenMalformed.
func (ts *JWTTokenService) Validate(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token service rejected unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	if !ts.acceptsAudience(claims.Audience) {
		ts.logger.Warn("token service rejected audience", "aud", claims.Audience)
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// acceptsAudience reports whether aud shares at least one entry with the
// configured audience. An empty configuration accepts any audience.
func (ts *JWTTokenService) acceptsAudience(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		for _, got := range aud {
			if got == want {
				return true
			}
		}
	}
	return false
}
