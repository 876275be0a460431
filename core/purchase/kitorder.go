package purchase

import (
	"net/mail"
	"time"

	"github.com/trezcool/coursekit/core"
)

type ShippingAddress struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

func (a *ShippingAddress) Clean() {
	a.Name = core.CleanString(a.Name)
	a.Line1 = core.CleanString(a.Line1)
	a.Line2 = core.CleanString(a.Line2)
	a.City = core.CleanString(a.City)
	a.State = core.CleanString(a.State)
	a.PostalCode = core.CleanString(a.PostalCode)
	a.Country = core.CleanString(a.Country)
}

type KitOrderStatus string

const (
	KitOrderPending   KitOrderStatus = "pending"
	KitOrderShipped   KitOrderStatus = "shipped"
	KitOrderDelivered KitOrderStatus = "delivered"
)

// CanTransitionTo enforces the linear pending -> shipped -> delivered lifecycle.
func (s KitOrderStatus) CanTransitionTo(next KitOrderStatus) bool {
	switch s {
	case KitOrderPending:
		return next == KitOrderShipped
	case KitOrderShipped:
		return next == KitOrderDelivered
	}
	return false
}

// KitOrder is the shipping order of a physical product. Exactly one exists per Purchase.
type KitOrder struct {
	ID             string          `json:"id"`
	PurchaseID     string          `json:"purchase_id"`
	UserID         string          `json:"user_id,omitempty"`
	Email          string          `json:"email"`
	Shipping       ShippingAddress `json:"shipping"`
	Status         KitOrderStatus  `json:"status"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
	ShippedAt      *time.Time      `json:"shipped_at"`
	DeliveredAt    *time.Time      `json:"delivered_at"`
}

type KitOrderFilter struct {
	Status KitOrderStatus `query:"status"`
	Email  string         `query:"email"`
}

func (f *KitOrderFilter) Clean() {
	f.Status = KitOrderStatus(core.CleanString(string(f.Status), true /* lower */))
	f.Email = core.NormalizeEmail(f.Email)
}

func (f *KitOrderFilter) Match(o KitOrder) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return f.Email == "" || o.Email == f.Email
}

// ShippedNotification tells the buyer the kit is on its way.
func (o KitOrder) ShippedNotification() core.Notification {
	return core.Notification{
		Kind:      core.NotifyKitShipped,
		Recipient: mail.Address{Name: o.Shipping.Name, Address: o.Email},
		Data: map[string]string{
			"Name":           o.Shipping.Name,
			"TrackingNumber": o.TrackingNumber,
		},
	}
}
