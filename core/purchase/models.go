package purchase

import (
	"strings"
	"time"

	"github.com/trezcool/coursekit/core"
)

// ProductType is what a Purchase entitles its owner to.
type ProductType string

const (
	ProductCourse ProductType = "course"
	ProductKit    ProductType = "kit"
	ProductBundle ProductType = "bundle" // course + kit
	ProductAIChat ProductType = "ai_chat"
)

var ProductTypes = []ProductType{ProductCourse, ProductKit, ProductBundle, ProductAIChat}

func ParseProductType(s string) (ProductType, error) {
	pt := ProductType(core.CleanString(s, true /* lower */))
	if !pt.IsValid() {
		return "", ErrInvalidProductType
	}
	return pt, nil
}

func (pt ProductType) IsValid() bool {
	switch pt {
	case ProductCourse, ProductKit, ProductBundle, ProductAIChat:
		return true
	}
	return false
}

// GrantsCourse reports whether the product unlocks the full course.
func (pt ProductType) GrantsCourse() bool {
	return pt == ProductCourse || pt == ProductBundle
}

// HasPhysicalComponent reports whether the product ships a kit.
func (pt ProductType) HasPhysicalComponent() bool {
	return pt == ProductKit || pt == ProductBundle
}

func (pt ProductType) DisplayName() string {
	switch pt {
	case ProductCourse:
		return "the full course"
	case ProductKit:
		return "the hardware kit"
	case ProductBundle:
		return "the course + kit bundle"
	case ProductAIChat:
		return "the AI chat assistant"
	}
	return string(pt)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusRefunded
}

// Purchase is an entitlement record. It is created once per external transaction and only
// ever mutated to attach a user or mark it viewed.
type Purchase struct {
	ID            string      `json:"id"`
	ExternalTxnID string      `json:"external_txn_id"`
	UserID        string      `json:"user_id,omitempty"`
	Email         string      `json:"email"`
	ProductType   ProductType `json:"product_type"`
	AmountCents   int64       `json:"amount_cents"`
	Currency      string      `json:"currency"`
	Status        Status      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"` // UTC
	ViewedAt      *time.Time  `json:"viewed_at"`  // UTC
}

func (p Purchase) IsCompleted() bool { return p.Status == StatusCompleted }
func (p Purchase) IsLinked() bool    { return p.UserID != "" }

// NewPurchase contains information needed to record a Purchase.
type NewPurchase struct {
	ExternalTxnID string      `json:"transaction_id" validate:"required"`
	Email         string      `json:"email" validate:"required,email"`
	ProductType   ProductType `json:"product_type" validate:"required,producttype"`
	AmountCents   int64       `json:"amount_cents" validate:"gte=0"`
	Currency      string      `json:"currency" validate:"required,currency"`
	Status        Status      `json:"status" validate:"omitempty,purchasestatus"`
}

func (np *NewPurchase) Clean() {
	np.ExternalTxnID = core.CleanString(np.ExternalTxnID)
	np.Email = core.NormalizeEmail(np.Email)
	np.ProductType = ProductType(core.CleanString(string(np.ProductType), true /* lower */))
	np.Currency = strings.ToUpper(core.CleanString(np.Currency))
	if np.Status == "" {
		np.Status = StatusCompleted
	}
}

type QueryFilter struct {
	Email       string      `query:"email"`
	UserID      string      `query:"user_id"`
	ProductType ProductType `query:"product_type"`
	Status      Status      `query:"status"`
	Unviewed    bool        `query:"unviewed"`
	CreatedFrom time.Time   `query:"created_from"`
	CreatedTo   time.Time   `query:"created_to"`
}

func (qf *QueryFilter) Clean() {
	qf.Email = core.NormalizeEmail(qf.Email)
	qf.UserID = core.CleanString(qf.UserID)
	qf.ProductType = ProductType(core.CleanString(string(qf.ProductType), true /* lower */))
	qf.Status = Status(core.CleanString(string(qf.Status), true /* lower */))
}

// Match reports whether p passes every set filter field.
func (qf *QueryFilter) Match(p Purchase) bool {
	if qf == nil {
		return true
	}
	switch {
	case qf.Email != "" && p.Email != qf.Email,
		qf.UserID != "" && p.UserID != qf.UserID,
		qf.ProductType != "" && p.ProductType != qf.ProductType,
		qf.Status != "" && p.Status != qf.Status,
		qf.Unviewed && p.ViewedAt != nil,
		!qf.CreatedFrom.IsZero() && p.CreatedAt.Before(qf.CreatedFrom),
		!qf.CreatedTo.IsZero() && p.CreatedAt.After(qf.CreatedTo):
		return false
	}
	return true
}

// LinkResult counts the records attached to an identity by a linking run.
type LinkResult struct {
	Purchases int `json:"purchases"`
	KitOrders int `json:"kit_orders"`
}

func (r LinkResult) Total() int { return r.Purchases + r.KitOrders }
