package billing

import (
	"encoding/json"
	"time"
)

// ExpandableID decodes a Stripe reference that is either an id string or an
// expanded object carrying an "id" field.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = ExpandableID(obj.ID)
	return nil
}

// SubscriptionPayload is the subset of a Stripe subscription the reconciler reads.
type SubscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           ExpandableID      `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []SubscriptionItemPayload `json:"data"`
	} `json:"items"`
}

// SubscriptionItemPayload is one subscription item. Newer API versions carry
// the billing period here instead of on the subscription.
type SubscriptionItemPayload struct {
	ID    string `json:"id"`
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

// PriceID returns the price of the first item.
func (s *SubscriptionPayload) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// Period returns the current billing period, preferring the subscription-level
// fields and falling back to the first item.
func (s *SubscriptionPayload) Period() (start, end int64) {
	start, end = s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		if start == 0 {
			start = s.Items.Data[0].CurrentPeriodStart
		}
		if end == 0 {
			end = s.Items.Data[0].CurrentPeriodEnd
		}
	}
	return start, end
}

// CheckoutSessionPayload is the subset of a checkout session the reconciler reads.
type CheckoutSessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          ExpandableID      `json:"customer"`
	Subscription      ExpandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// InvoicePayload is the subset of a Stripe invoice the reconciler reads.
type InvoicePayload struct {
	ID               string       `json:"id"`
	Customer         ExpandableID `json:"customer"`
	Subscription     ExpandableID `json:"subscription"`
	AmountDue        int64        `json:"amount_due"`
	AmountPaid       int64        `json:"amount_paid"`
	AmountRemaining  int64        `json:"amount_remaining"`
	Currency         string       `json:"currency"`
	Status           *string      `json:"status"`
	InvoicePDF       *string      `json:"invoice_pdf"`
	HostedInvoiceURL *string      `json:"hosted_invoice_url"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription ExpandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []InvoiceLinePayload `json:"data"`
	} `json:"lines"`
}

// SubscriptionID returns the owning subscription from either API shape.
func (i *InvoicePayload) SubscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// InvoiceLinePayload is one invoice line.
type InvoiceLinePayload struct {
	ID          string  `json:"id"`
	Description *string `json:"description"`
	Quantity    *int64  `json:"quantity"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Period      struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
	Proration *bool `json:"proration"`
	Parent    *struct {
		SubscriptionItemDetails *struct {
			Proration bool `json:"proration"`
		} `json:"subscription_item_details"`
		InvoiceItemDetails *struct {
			Proration bool `json:"proration"`
		} `json:"invoice_item_details"`
	} `json:"parent"`
}

// IsProration reads the proration flag from either API shape.
func (l *InvoiceLinePayload) IsProration() bool {
	if l.Proration != nil {
		return *l.Proration
	}
	if l.Parent != nil {
		if d := l.Parent.SubscriptionItemDetails; d != nil {
			return d.Proration
		}
		if d := l.Parent.InvoiceItemDetails; d != nil {
			return d.Proration
		}
	}
	return false
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
