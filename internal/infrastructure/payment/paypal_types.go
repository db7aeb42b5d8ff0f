package payment

import "encoding/json"

const (
	paypalTokenPath         = "/v1/oauth2/token"
	paypalOrdersPath        = "/v2/checkout/orders"
	paypalCapturePath       = "/v2/checkout/orders/%s/capture"
	paypalVerifyWebhookPath = "/v1/notifications/verify-webhook-signature"
)

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string      `json:"reference_id,omitempty"`
	CustomID    string      `json:"custom_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Amount      paypalMoney `json:"amount"`
}

type paypalExperienceContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

type paypalCreateOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	PaymentSource struct {
		PayPal struct {
			ExperienceContext paypalExperienceContext `json:"experience_context"`
		} `json:"paypal"`
	} `json:"payment_source"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type paypalOrderResponse struct {
	ID            string                    `json:"id"`
	Status        string                    `json:"status"`
	Links         []paypalLink              `json:"links"`
	PurchaseUnits []paypalOrderPurchaseUnit `json:"purchase_units"`
}

type paypalOrderPurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Payments    struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments"`
}

type paypalCapture struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	Amount   paypalMoney `json:"amount"`
	CustomID string      `json:"custom_id"`
}

type paypalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type paypalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	// OAuth errors use a different shape
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func approvalLink(links []paypalLink) string {
	for _, l := range links {
		if l.Rel == "payer-action" || l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}
