// Package testutil holds fixtures shared by the tests of several packages.
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/checkout"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
)

// StrongPassword passes the signup password policy.
const StrongPassword = "Sup3r$ecretPhrase"

func CreateUser(t *testing.T, repo user.Repository, name, email, pwd string, roles []string, isActive bool, createdAt ...time.Time) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     core.NormalizeEmail(email),
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreatePurchase(t *testing.T, repo purchase.Repository, email string, pt purchase.ProductType, status purchase.Status, userID string, createdAt ...time.Time) purchase.Purchase {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	p := purchase.Purchase{
		ID:            uuid.New().String(),
		ExternalTxnID: "txn_" + uuid.New().String(),
		UserID:        userID,
		Email:         core.NormalizeEmail(email),
		ProductType:   pt,
		AmountCents:   4900,
		Currency:      "USD",
		Status:        status,
		CreatedAt:     tstamp,
	}
	p, _, err := repo.CreatePurchaseIfNotExists(context.Background(), p)
	if err != nil {
		t.Fatalf("CreatePurchase() failed: %v", err)
	}
	return p
}

// ShippingAddress is a complete address.
func ShippingAddress() *purchase.ShippingAddress {
	return &purchase.ShippingAddress{
		Name:       "Ada Lovelace",
		Line1:      "12 St James's Square",
		City:       "London",
		PostalCode: "SW1Y 4LB",
		Country:    "GB",
	}
}

// CheckoutEvent builds a completed checkout event payload.
func CheckoutEvent(t *testing.T, eventID, txnID, email string, pt purchase.ProductType, shipping *purchase.ShippingAddress) []byte {
	t.Helper()
	ev := checkout.Event{
		ID:   eventID,
		Type: checkout.EventCheckoutCompleted,
		Data: checkout.EventData{
			TransactionID: txnID,
			Email:         email,
			ProductType:   string(pt),
			AmountCents:   4900,
			Currency:      "usd",
			PaymentStatus: "paid",
			Shipping:      shipping,
		},
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("CheckoutEvent() failed: %v", err)
	}
	return payload
}

// SignPayload returns the signature header for payload as the payments provider sends it.
func SignPayload(conf *core.Config, payload []byte) string {
	return checkout.NewVerifier(conf.Checkout.WebhookSecret, conf.Checkout.SignatureTolerance).Sign(payload, time.Now())
}
