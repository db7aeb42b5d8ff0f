package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestJWTService() *JWTService {
	return NewJWTService(config.AuthConfig{
		JWTSecret: testSecret,
		Issuer:    "test-issuer",
	})
}

func TestNewJWTService(t *testing.T) {
	svc := newTestJWTService()

	assert.Equal(t, []byte(testSecret), svc.secret)
	assert.Equal(t, "test-issuer", svc.issuer)
}

func TestValidateVendorToken_Success(t *testing.T) {
	svc := newTestJWTService()
	vendorID := uuid.New()

	token, err := svc.GenerateVendorToken(vendorID, 15*time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateVendorToken(token)
	require.NoError(t, err)

	got, err := claims.VendorUUID()
	require.NoError(t, err)
	assert.Equal(t, vendorID, got)
	assert.Equal(t, TokenTypeVendor, claims.TokenType)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.False(t, claims.IssuedAtTime().IsZero())
}

func TestValidateVendorToken_Expired(t *testing.T) {
	svc := newTestJWTService()
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := svc.GenerateVendorToken(uuid.New(), time.Hour)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateVendorToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateVendorToken_NotYetValid(t *testing.T) {
	svc := newTestJWTService()
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	token, err := svc.GenerateVendorToken(uuid.New(), 2*time.Hour)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateVendorToken(token)
	assert.ErrorIs(t, err, ErrTokenNotYetValid)
}

func TestValidateVendorToken_WrongSecret(t *testing.T) {
	svc := newTestJWTService()
	token, err := svc.GenerateVendorToken(uuid.New(), time.Hour)
	require.NoError(t, err)

	other := NewJWTService(config.AuthConfig{JWTSecret: "another-secret-key-of-32-characters", Issuer: "test-issuer"})
	_, err = other.ValidateVendorToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateVendorToken_WrongIssuer(t *testing.T) {
	svc := newTestJWTService()
	token, err := svc.GenerateVendorToken(uuid.New(), time.Hour)
	require.NoError(t, err)

	other := NewJWTService(config.AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"})
	_, err = other.ValidateVendorToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateVendorToken_RejectsOtherTokenTypes(t *testing.T) {
	svc := newTestJWTService()
	now := time.Now()

	sign := func(claims *VendorClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return s
	}
	registered := jwt.RegisteredClaims{
		Issuer:    "test-issuer",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	tests := []struct {
		name    string
		claims  *VendorClaims
		wantErr error
	}{
		{"confirmation token", &VendorClaims{RegisteredClaims: registered, VendorID: uuid.NewString(), TokenType: TokenTypeConfirmation}, ErrInvalidTokenType},
		{"missing vendor", &VendorClaims{RegisteredClaims: registered, TokenType: TokenTypeVendor}, ErrMissingVendorID},
		{"malformed vendor", &VendorClaims{RegisteredClaims: registered, VendorID: "vendor-42", TokenType: TokenTypeVendor}, ErrInvalidClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateVendorToken(sign(tt.claims))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateVendorToken_RejectsNoneAlgorithm(t *testing.T) {
	svc := newTestJWTService()
	claims := &VendorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		VendorID:  uuid.NewString(),
		TokenType: TokenTypeVendor,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateVendorToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateVendorToken_Garbage(t *testing.T) {
	_, err := newTestJWTService().ValidateVendorToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVendorClaims_RemainingTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := &VendorClaims{}
	assert.Equal(t, time.Duration(0), claims.RemainingTTL(now))

	claims.ExpiresAt = jwt.NewNumericDate(now.Add(10 * time.Minute))
	assert.Equal(t, 10*time.Minute, claims.RemainingTTL(now))
	assert.Equal(t, time.Duration(0), claims.RemainingTTL(now.Add(time.Hour)))
}
