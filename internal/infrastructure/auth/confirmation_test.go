package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T, now time.Time) *ConfirmationSigner {
	t.Helper()
	s, err := NewConfirmationSigner(testSecret, "test-issuer", WithSignerClock(func() time.Time { return now }))
	require.NoError(t, err)
	return s
}

func TestNewConfirmationSigner_RequiresSecret(t *testing.T) {
	_, err := NewConfirmationSigner("", "test-issuer")
	assert.Error(t, err)
}

func TestConfirmationSigner_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)
	claims := billing.ConfirmationClaims{
		OrderID:   "5O190127TN364715T",
		InvoiceID: uuid.New(),
		VendorID:  uuid.New(),
		ExpiresAt: now.Add(15 * time.Minute),
	}

	token, err := s.Sign(claims)
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, claims.OrderID, got.OrderID)
	assert.Equal(t, claims.InvoiceID, got.InvoiceID)
	assert.Equal(t, claims.VendorID, got.VendorID)
	assert.True(t, claims.ExpiresAt.Equal(got.ExpiresAt))
}

func TestConfirmationSigner_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := newTestSigner(t, now).Sign(billing.ConfirmationClaims{
		OrderID:   "ORDER-1",
		InvoiceID: uuid.New(),
		VendorID:  uuid.New(),
		ExpiresAt: now.Add(15 * time.Minute),
	})
	require.NoError(t, err)

	_, err = newTestSigner(t, now.Add(16*time.Minute)).Verify(token)
	assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
	assert.Equal(t, shared.KindAuthorization, shared.KindOf(err))
}

func TestConfirmationSigner_Forged(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := billing.ConfirmationClaims{
		OrderID:   "ORDER-1",
		InvoiceID: uuid.New(),
		VendorID:  uuid.New(),
		ExpiresAt: now.Add(15 * time.Minute),
	}

	other, err := NewConfirmationSigner("a-completely-different-secret-value", "test-issuer", WithSignerClock(func() time.Time { return now }))
	require.NoError(t, err)
	token, err := other.Sign(claims)
	require.NoError(t, err)

	_, err = newTestSigner(t, now).Verify(token)
	assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
}

func TestConfirmationSigner_RejectsVendorToken(t *testing.T) {
	now := time.Now()
	vendorToken, err := newTestJWTService().GenerateVendorToken(uuid.New(), time.Hour)
	require.NoError(t, err)

	_, err = newTestSigner(t, now).Verify(vendorToken)
	assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
}

func TestConfirmationSigner_RejectsIncompleteClaims(t *testing.T) {
	s := newTestSigner(t, time.Now())

	_, err := s.Sign(billing.ConfirmationClaims{InvoiceID: uuid.New(), VendorID: uuid.New(), ExpiresAt: time.Now().Add(time.Minute)})
	assert.ErrorIs(t, err, ErrInvalidClaims)

	_, err = s.Verify("garbage")
	assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
}
