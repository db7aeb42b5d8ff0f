package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/infrastructure/auth"
	"github.com/stallmarket/backend/internal/infrastructure/logger"
	"github.com/stallmarket/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	VendorClaimsKey = "vendor_claims"
	VendorIDKey     = "vendor_id"
	AuthHeaderKey   = "Authorization"
	BearerPrefix    = "Bearer "
)

// VendorAuthConfig holds configuration for the vendor bearer token middleware
type VendorAuthConfig struct {
	// JWTService is required for token validation
	JWTService *auth.JWTService
	// Revocations is optional; lookups fail open when it errors
	Revocations auth.RevocationList
	Logger      *zap.Logger
}

// VendorAuth requires a valid vendor bearer token and stores the vendor
// identity in the gin and request contexts
func VendorAuth(cfg VendorAuthConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			rejectAuth(c, log, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			rejectAuth(c, log, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if tokenString == "" {
			rejectAuth(c, log, auth.ErrInvalidToken, "Missing token")
			return
		}

		claims, err := cfg.JWTService.ValidateVendorToken(tokenString)
		if err != nil {
			rejectAuth(c, log, err, "Token validation failed")
			return
		}
		vendorID, _ := claims.VendorUUID()

		if cfg.Revocations != nil {
			ctx := c.Request.Context()
			if claims.ID != "" {
				revoked, err := cfg.Revocations.IsRevoked(ctx, claims.ID)
				if err != nil {
					log.Error("Failed to check token revocation", zap.String("jti", claims.ID), zap.Error(err))
				} else if revoked {
					rejectAuth(c, log, auth.ErrTokenRevoked, "Token has been revoked")
					return
				}
			}
			revoked, err := cfg.Revocations.IsVendorRevoked(ctx, claims.VendorID, claims.IssuedAtTime())
			if err != nil {
				log.Error("Failed to check vendor revocation", zap.String("vendor_id", claims.VendorID), zap.Error(err))
			} else if revoked {
				rejectAuth(c, log, auth.ErrTokenRevoked, "Vendor session has been revoked")
				return
			}
		}

		c.Set(VendorClaimsKey, claims)
		c.Set(VendorIDKey, vendorID)
		c.Request = c.Request.WithContext(logger.WithVendorID(c.Request.Context(), claims.VendorID))

		c.Next()
	}
}

func rejectAuth(c *gin.Context, log *zap.Logger, err error, reason string) {
	log.Warn("Vendor authentication failed",
		zap.Error(err),
		zap.String("reason", reason),
		zap.String("path", c.Request.URL.Path),
	)

	code, message := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		code, message = dto.ErrCodeTokenRevoked, "Token has been revoked"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidTokenType),
		errors.Is(err, auth.ErrInvalidClaims), errors.Is(err, auth.ErrMissingVendorID),
		errors.Is(err, auth.ErrTokenNotYetValid):
		code, message = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(code, message, GetRequestID(c)))
}

// GetVendorID returns the authenticated vendor, if any
func GetVendorID(c *gin.Context) (uuid.UUID, bool) {
	if v, exists := c.Get(VendorIDKey); exists {
		if id, ok := v.(uuid.UUID); ok && id != uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// GetVendorClaims returns the validated token claims, if any
func GetVendorClaims(c *gin.Context) *auth.VendorClaims {
	if v, exists := c.Get(VendorClaimsKey); exists {
		if claims, ok := v.(*auth.VendorClaims); ok {
			return claims
		}
	}
	return nil
}
