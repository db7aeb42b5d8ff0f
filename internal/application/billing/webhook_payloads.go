package billing

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// webhookEnvelope is the outer shape of a gateway notification
type webhookEnvelope struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

func (e *webhookEnvelope) valid() bool {
	return e.ID != "" && e.EventType != "" && len(e.Resource) > 0 && string(e.Resource) != "null"
}

type gatewayMoney struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

func (m gatewayMoney) decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(m.Value)
}

type gatewayLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// captureResource is the resource of capture completed and denied events
type captureResource struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	Amount            gatewayMoney `json:"amount"`
	CustomID          string       `json:"custom_id"`
	InvoiceID         string       `json:"invoice_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Links []gatewayLink `json:"links"`
}

func (r *captureResource) orderID() string {
	if r.SupplementaryData.RelatedIDs.OrderID != "" {
		return r.SupplementaryData.RelatedIDs.OrderID
	}
	return linkedID(r.Links, "up")
}

// refundResource is the resource of capture refunded events. The refunded
// capture is only reachable through the "up" link.
type refundResource struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Amount   gatewayMoney  `json:"amount"`
	CustomID string        `json:"custom_id"`
	Links    []gatewayLink `json:"links"`
}

func (r *refundResource) captureID() string {
	return linkedID(r.Links, "up")
}

// linkedID returns the last path segment of the first link with rel
func linkedID(links []gatewayLink, rel string) string {
	for _, l := range links {
		if !strings.EqualFold(l.Rel, rel) || l.Href == "" {
			continue
		}
		href := strings.TrimRight(l.Href, "/")
		return href[strings.LastIndex(href, "/")+1:]
	}
	return ""
}
