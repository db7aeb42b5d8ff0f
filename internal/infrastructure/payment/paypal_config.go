package payment

import (
	"errors"
	"strings"
	"time"
)

const (
	paypalLiveBaseURL    = "https://api-m.paypal.com"
	paypalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
)

// PayPalConfig contains configuration for the PayPal REST API
type PayPalConfig struct {
	// Mode is "sandbox" or "live"
	Mode string
	// BaseURL overrides the mode's API host
	BaseURL      string
	ClientID     string
	ClientSecret string
	// WebhookID is the id PayPal assigned to our webhook subscription
	WebhookID string
	// ReturnURL and CancelURL are where the vendor lands after approval
	ReturnURL string
	CancelURL string
	BrandName string
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
	Retry   RetryPolicy
}

// Errors for configuration validation
var (
	ErrPayPalInvalidMode        = errors.New("paypal: mode must be sandbox or live")
	ErrPayPalMissingClientID    = errors.New("paypal: missing client ID")
	ErrPayPalMissingSecret      = errors.New("paypal: missing client secret")
	ErrPayPalMissingWebhookID   = errors.New("paypal: missing webhook ID")
	ErrPayPalMissingRedirectURL = errors.New("paypal: missing return or cancel URL")
)

// Validate validates the configuration
func (c *PayPalConfig) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "sandbox", "live":
	default:
		return ErrPayPalInvalidMode
	}
	if c.ClientID == "" {
		return ErrPayPalMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrPayPalMissingSecret
	}
	if c.WebhookID == "" {
		return ErrPayPalMissingWebhookID
	}
	if c.ReturnURL == "" || c.CancelURL == "" {
		return ErrPayPalMissingRedirectURL
	}
	return nil
}

// APIBaseURL returns the API host for the configured mode
func (c *PayPalConfig) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if strings.EqualFold(c.Mode, "live") {
		return paypalLiveBaseURL
	}
	return paypalSandboxBaseURL
}

func (c *PayPalConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.Retry = c.Retry.withDefaults()
}
