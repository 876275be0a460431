package checkout

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
)

// EventCheckoutCompleted is the only event type that creates entitlements.
const EventCheckoutCompleted = "checkout.completed"

const paymentUnpaid = "unpaid"

type (
	Event struct {
		ID   string    `json:"id"`
		Type string    `json:"type"`
		Data EventData `json:"data"`
	}

	EventData struct {
		TransactionID string                    `json:"transaction_id"`
		Email         string                    `json:"email"`
		ProductType   string                    `json:"product_type"`
		AmountCents   int64                     `json:"amount_cents"`
		Currency      string                    `json:"currency"`
		PaymentStatus string                    `json:"payment_status"`
		Shipping      *purchase.ShippingAddress `json:"shipping,omitempty"`
	}
)

func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return ev, nil
}

func (d EventData) missingFields() []string {
	var missing []string
	if core.CleanString(d.TransactionID) == "" {
		missing = append(missing, "transaction_id")
	}
	if core.CleanString(d.Email) == "" {
		missing = append(missing, "email")
	}
	if core.CleanString(d.ProductType) == "" {
		missing = append(missing, "product_type")
	}
	if core.CleanString(d.Currency) == "" {
		missing = append(missing, "currency")
	}
	return missing
}

// PurchaseStatus maps the provider payment status: unpaid sessions are pending, anything
// else (paid by default) is completed.
func (d EventData) PurchaseStatus() purchase.Status {
	switch strings.ToLower(core.CleanString(d.PaymentStatus)) {
	case paymentUnpaid:
		return purchase.StatusPending
	default:
		return purchase.StatusCompleted
	}
}

func (d EventData) newPurchase() purchase.NewPurchase {
	return purchase.NewPurchase{
		ExternalTxnID: d.TransactionID,
		Email:         d.Email,
		ProductType:   purchase.ProductType(d.ProductType),
		AmountCents:   d.AmountCents,
		Currency:      d.Currency,
		Status:        d.PurchaseStatus(),
	}
}

// hasShipping treats an all-blank address as absent.
func (d EventData) hasShipping() bool {
	if d.Shipping == nil {
		return false
	}
	s := *d.Shipping
	s.Clean()
	return s != purchase.ShippingAddress{}
}
