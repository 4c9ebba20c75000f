// Package session issues and verifies the signed tokens clients present on every
// request.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// DevelopmentSecret is the signing secret used when none is configured. It must
// never sign tokens in production.
const DevelopmentSecret = "appointly-dev-secret-change-me"

// DefaultTTL is the session token lifetime when none is configured.
const DefaultTTL = 7 * 24 * time.Hour

// SelectionTTL bounds the window between login and role selection.
const SelectionTTL = 5 * time.Minute

const (
	audienceSession   = "appointly:session"
	audienceSelection = "appointly:role-selection"
)

// Claims is the session token payload.
type Claims struct {
	UserID          string       `json:"userId"`
	Email           string       `json:"email"`
	Role            *roles.Level `json:"role,omitempty"`
	RoleID          string       `json:"roleId,omitempty"`
	CompanyID       string       `json:"companyId,omitempty"`
	ImpersonatedBy  string       `json:"impersonatedBy,omitempty"`
	IsImpersonating bool         `json:"isImpersonating,omitempty"`
	jwt.RegisteredClaims
}

// Level returns the role claim, or LevelUser when the claim is absent.
func (c Claims) Level() roles.Level {
	if c.Role == nil {
		return roles.LevelUser
	}
	return *c.Role
}

// Params carries the fields of a token to issue. An empty RoleID with LevelUser is
// the canonical session without an elevated role.
type Params struct {
	UserID         string
	Email          string
	Role           roles.Level
	RoleID         string
	CompanyID      string
	ImpersonatedBy string
}

// SelectionClaims bind a pending role selection to the account that passed the
// credential check.
type SelectionClaims struct {
	UserID         string `json:"userId"`
	Email          string `json:"email"`
	ImpersonatedBy string `json:"impersonatedBy,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewIssuer constructs an Issuer. A zero ttl falls back to DefaultTTL.
func NewIssuer(secret string, ttl time.Duration, issuer string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session: signing secret required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock overrides the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a session token for p.
func (i *Issuer) Issue(p Params) (string, Claims, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", Claims{}, fmt.Errorf("session: user id required: %w", shared.ErrValidation)
	}
	if !p.Role.Valid() {
		return "", Claims{}, fmt.Errorf("session: invalid role %d: %w", p.Role, shared.ErrValidation)
	}
	level := p.Role
	claims := Claims{
		UserID:           p.UserID,
		Email:            p.Email,
		Role:             &level,
		RoleID:           p.RoleID,
		CompanyID:        p.CompanyID,
		ImpersonatedBy:   p.ImpersonatedBy,
		IsImpersonating:  p.ImpersonatedBy != "",
		RegisteredClaims: i.registered(p.UserID, audienceSession, i.ttl),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("session: sign: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies raw and returns its claims. Expired tokens report
// shared.ErrTokenExpired; every other defect reports shared.ErrTokenInvalid.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	if err := i.parse(raw, claims, audienceSession); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", shared.ErrTokenInvalid)
	}
	if claims.Role != nil && !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: role out of range", shared.ErrTokenInvalid)
	}
	return claims, nil
}

// IssueSelection signs a short-lived token proving that userID passed the credential
// (or impersonation) check and may now pick a role.
func (i *Issuer) IssueSelection(userID, email, impersonatedBy string) (string, time.Time, error) {
	claims := SelectionClaims{
		UserID:           userID,
		Email:            email,
		ImpersonatedBy:   impersonatedBy,
		RegisteredClaims: i.registered(userID, audienceSelection, SelectionTTL),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign selection: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// ParseSelection verifies a selection token.
func (i *Issuer) ParseSelection(raw string) (*SelectionClaims, error) {
	claims := &SelectionClaims{}
	if err := i.parse(raw, claims, audienceSelection); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user", shared.ErrTokenInvalid)
	}
	return claims, nil
}

func (i *Issuer) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := i.now().UTC()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    i.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) parse(raw string, claims jwt.Claims, audience string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return shared.ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return shared.ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", shared.ErrTokenInvalid, err)
	}
}
