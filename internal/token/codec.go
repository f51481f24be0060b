package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AccessTokenTTL is the lifetime embedded into every access token.
	AccessTokenTTL = 24 * time.Hour
	// MaxTokenAge caps the age of a token regardless of its expiry.
	MaxTokenAge = 30 * 24 * time.Hour

	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the payload of a signed token.
type Claims struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	AccessStart string   `json:"access_start,omitempty"`
	AccessEnd   string   `json:"access_end,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// HasAnyRole reports whether the claims carry at least one of roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range c.Roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Subject identifies who a token is issued to.
type Subject struct {
	UserID   int64
	Username string
	Email    string
}

// Config holds codec settings. When PrivateKey is set tokens are signed with RS256,
// otherwise with HS256 using Secret.
type Config struct {
	Secret          string
	PrivateKey      *rsa.PrivateKey
	Issuer          string
	RefreshTokenTTL time.Duration
}

// Codec issues and validates signed tokens.
type Codec struct {
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	kid        string
	issuer     string
	refreshTTL time.Duration
}

// NewCodec creates a codec for the given configuration.
func NewCodec(cfg Config) (*Codec, error) {
	c := &Codec{
		issuer:     cfg.Issuer,
		refreshTTL: cfg.RefreshTokenTTL,
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = 7 * 24 * time.Hour
	}

	switch {
	case cfg.PrivateKey != nil:
		kid, err := computeKID(&cfg.PrivateKey.PublicKey)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodRS256
		c.signKey = cfg.PrivateKey
		c.verifyKey = &cfg.PrivateKey.PublicKey
		c.kid = kid
	case cfg.Secret != "":
		c.method = jwt.SigningMethodHS256
		c.signKey = []byte(cfg.Secret)
		c.verifyKey = []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("token codec requires a secret or an RSA private key")
	}
	return c, nil
}

// Issue mints an access token for sub with exp = now + 24h and iat = now.
// accessStart and accessEnd are optional "HH:MM" bounds.
func (c *Codec) Issue(sub Subject, roles []string, accessStart, accessEnd string, now time.Time) (string, error) {
	for _, bound := range []string{accessStart, accessEnd} {
		if bound == "" {
			continue
		}
		if _, err := ParseTimeOfDay(bound); err != nil {
			return "", err
		}
	}
	if roles == nil {
		roles = []string{}
	}
	claims := Claims{
		UserID:           sub.UserID,
		Username:         sub.Username,
		Email:            sub.Email,
		Roles:            roles,
		AccessStart:      accessStart,
		AccessEnd:        accessEnd,
		TokenType:        TypeAccess,
		RegisteredClaims: c.registered(sub, now, AccessTokenTTL),
	}
	return c.sign(claims)
}

// IssueRefresh mints a refresh token for sub.
func (c *Codec) IssueRefresh(sub Subject, now time.Time) (string, error) {
	claims := Claims{
		UserID:           sub.UserID,
		Username:         sub.Username,
		Email:            sub.Email,
		Roles:            []string{},
		TokenType:        TypeRefresh,
		RegisteredClaims: c.registered(sub, now, c.refreshTTL),
	}
	return c.sign(claims)
}

func (c *Codec) registered(sub Subject, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Issuer:    c.issuer,
		Subject:   strconv.FormatInt(sub.UserID, 10),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func (c *Codec) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(c.method, claims)
	if c.kid != "" {
		tok.Header["kid"] = c.kid
	}
	signed, err := tok.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and returns the claims without checking any time bounds.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		return nil, authErr(ErrInvalidSignature, "Invalid token")
	}
	return claims, nil
}

// Validate decodes an access token and checks, in order, expiry, issue age, required
// roles and the embedded access window against now. It does not consult any
// revocation records.
func (c *Codec) Validate(tokenString string, requiredRoles []string, now time.Time) (*Claims, error) {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType == TypeRefresh {
		return nil, authErr(ErrInvalidSignature, "Invalid token")
	}
	if err := checkAge(claims, now); err != nil {
		return nil, err
	}

	if len(requiredRoles) > 0 && !claims.HasAnyRole(requiredRoles...) {
		return nil, authErr(ErrInsufficientRole, "Insufficient permissions")
	}

	if err := checkAccessWindow(claims, now.UTC()); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefresh decodes a refresh token and checks expiry and issue age.
func (c *Codec) ValidateRefresh(tokenString string, now time.Time) (*Claims, error) {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, authErr(ErrInvalidSignature, "Invalid token")
	}
	if err := checkAge(claims, now); err != nil {
		return nil, err
	}
	return claims, nil
}

func checkAge(claims *Claims, now time.Time) error {
	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Time) {
		return authErr(ErrExpired, "Token has expired")
	}
	if claims.IssuedAt != nil && now.Sub(claims.IssuedAt.Time) > MaxTokenAge {
		return authErr(ErrTooOld, "Token is too old")
	}
	return nil
}

func checkAccessWindow(claims *Claims, now time.Time) error {
	if claims.AccessStart == "" && claims.AccessEnd == "" {
		return nil
	}
	current := TimeOfDayOf(now)

	if claims.AccessStart != "" {
		start, err := ParseTimeOfDay(claims.AccessStart)
		if err != nil {
			return authErr(ErrInvalidSignature, "Invalid token")
		}
		if current < start {
			return authErr(ErrOutsideAccessWindow, "Access not allowed before specified time")
		}
	}
	if claims.AccessEnd != "" {
		end, err := ParseTimeOfDay(claims.AccessEnd)
		if err != nil {
			return authErr(ErrInvalidSignature, "Invalid token")
		}
		if current > end {
			return authErr(ErrOutsideAccessWindow, "Access not allowed after specified time")
		}
	}
	return nil
}

// IsAuthError reports whether err came from token validation.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
