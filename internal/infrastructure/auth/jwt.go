package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/infrastructure/config"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	TokenTypeVendor       TokenType = "vendor"
	TokenTypeConfirmation TokenType = "payment_confirmation"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingVendorID  = errors.New("missing vendor_id in claims")
	ErrTokenRevoked     = errors.New("token has been revoked")
)

// VendorClaims are the claims of a vendor bearer token issued by the identity service
type VendorClaims struct {
	jwt.RegisteredClaims
	VendorID  string    `json:"vendor_id"`
	TokenType TokenType `json:"token_type"`
}

// VendorUUID parses the vendor ID from claims
func (c *VendorClaims) VendorUUID() (uuid.UUID, error) {
	return uuid.Parse(c.VendorID)
}

// IssuedAtTime returns the token's issued-at time as time.Time
func (c *VendorClaims) IssuedAtTime() time.Time {
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// RemainingTTL returns the time left until the token expires
func (c *VendorClaims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if remaining := c.ExpiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// JWTService validates vendor bearer tokens
type JWTService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.AuthConfig) *JWTService {
	return &JWTService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// GenerateVendorToken signs a vendor token. The identity service owns issuance
// in production; this is used by tooling and tests.
func (s *JWTService) GenerateVendorToken(vendorID uuid.UUID, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &VendorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   vendorID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		VendorID:  vendorID.String(),
		TokenType: TokenTypeVendor,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateVendorToken validates a vendor token and returns its claims
func (s *JWTService) ValidateVendorToken(tokenString string) (*VendorClaims, error) {
	claims := &VendorClaims{}
	if err := parseHS256(tokenString, claims, s.secret, s.issuer, s.now); err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeVendor {
		return nil, ErrInvalidTokenType
	}
	if claims.VendorID == "" {
		return nil, ErrMissingVendorID
	}
	if _, err := claims.VendorUUID(); err != nil {
		return nil, ErrInvalidClaims
	}

	return claims, nil
}

// parseHS256 parses and validates an HMAC signed token into claims
func parseHS256(tokenString string, claims jwt.Claims, secret []byte, issuer string, now func() time.Time) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return ErrTokenNotYetValid
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidClaims
	}
	return nil
}
