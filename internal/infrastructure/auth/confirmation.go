package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
)

const confirmationAudience = "payment-capture"

// confirmationClaims is the wire form of billing.ConfirmationClaims
type confirmationClaims struct {
	jwt.RegisteredClaims
	OrderID   string    `json:"order_id"`
	InvoiceID string    `json:"invoice_id"`
	VendorID  string    `json:"vendor_id"`
	TokenType TokenType `json:"token_type"`
}

// ConfirmationSigner signs the token returned by the confirm step and
// required by capture. Tokens are HS256 and bound to order, invoice and vendor.
type ConfirmationSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// SignerOption configures a ConfirmationSigner
type SignerOption func(*ConfirmationSigner)

// WithSignerClock overrides the time source used for issuing and expiry checks
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *ConfirmationSigner) {
		s.now = now
	}
}

// NewConfirmationSigner creates a signer with the given secret
func NewConfirmationSigner(secret, issuer string, opts ...SignerOption) (*ConfirmationSigner, error) {
	if secret == "" {
		return nil, errors.New("confirmation secret is required")
	}
	s := &ConfirmationSigner{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign implements billing.ConfirmationSigner
func (s *ConfirmationSigner) Sign(c billing.ConfirmationClaims) (string, error) {
	if c.OrderID == "" || c.InvoiceID == uuid.Nil || c.VendorID == uuid.Nil {
		return "", ErrInvalidClaims
	}
	now := s.now()
	claims := &confirmationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   c.OrderID,
			Audience:  jwt.ClaimStrings{confirmationAudience},
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OrderID:   c.OrderID,
		InvoiceID: c.InvoiceID.String(),
		VendorID:  c.VendorID.String(),
		TokenType: TokenTypeConfirmation,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify implements billing.ConfirmationSigner
func (s *ConfirmationSigner) Verify(token string) (*billing.ConfirmationClaims, error) {
	claims := &confirmationClaims{}
	if err := parseHS256(token, claims, s.secret, s.issuer, s.now); err != nil {
		return nil, billing.ErrInvalidConfirmation.WithCause(err)
	}
	if claims.TokenType != TokenTypeConfirmation || claims.OrderID == "" || claims.ExpiresAt == nil {
		return nil, billing.ErrInvalidConfirmation.WithCause(ErrInvalidTokenType)
	}
	if !audienceContains(claims.Audience, confirmationAudience) {
		return nil, billing.ErrInvalidConfirmation.WithCause(ErrInvalidClaims)
	}

	invoiceID, err := uuid.Parse(claims.InvoiceID)
	if err != nil {
		return nil, billing.ErrInvalidConfirmation.WithCause(err)
	}
	vendorID, err := uuid.Parse(claims.VendorID)
	if err != nil {
		return nil, billing.ErrInvalidConfirmation.WithCause(err)
	}

	return &billing.ConfirmationClaims{
		OrderID:   claims.OrderID,
		InvoiceID: invoiceID,
		VendorID:  vendorID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

var _ billing.ConfirmationSigner = (*ConfirmationSigner)(nil)
