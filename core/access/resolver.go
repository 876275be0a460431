package access

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core/purchase"
)

// PurchaseLister lists the purchases linked to a user.
type PurchaseLister interface {
	ListByUserID(ctx context.Context, userID string) ([]purchase.Purchase, error)
}

// Entitlements is the tier of a user plus the capabilities that are not part of the tier.
type Entitlements struct {
	Tier      Tier `json:"tier"`
	HasKit    bool `json:"has_kit"`
	HasAIChat bool `json:"has_ai_chat"`
}

// Resolver derives access from the entitlement store. It holds no state and caches nothing.
type Resolver struct {
	purchases PurchaseLister
}

func NewResolver(purchases PurchaseLister) *Resolver {
	return &Resolver{purchases: purchases}
}

// ResolveTier returns TierNone for an empty userID, TierFull if the user has a completed
// course or bundle purchase and TierTrial otherwise.
func (r *Resolver) ResolveTier(ctx context.Context, userID string) (Tier, error) {
	ent, err := r.Resolve(ctx, userID)
	return ent.Tier, err
}

func (r *Resolver) Resolve(ctx context.Context, userID string) (Entitlements, error) {
	if userID == "" {
		return Entitlements{Tier: TierNone}, nil
	}
	purchases, err := r.purchases.ListByUserID(ctx, userID)
	if err != nil {
		return Entitlements{Tier: TierNone}, errors.Wrap(err, "listing user purchases")
	}
	return EntitlementsFromPurchases(purchases), nil
}

// EntitlementsFromPurchases computes the entitlements of an authenticated user.
func EntitlementsFromPurchases(purchases []purchase.Purchase) Entitlements {
	ent := Entitlements{Tier: TierTrial}
	for _, p := range purchases {
		if !p.IsCompleted() {
			continue
		}
		if p.ProductType.GrantsCourse() {
			ent.Tier = TierFull
		}
		if p.ProductType.HasPhysicalComponent() {
			ent.HasKit = true
		}
		if p.ProductType == purchase.ProductAIChat {
			ent.HasAIChat = true
		}
	}
	return ent
}

// HasFullAccess reports whether a completed course or bundle purchase is in purchases.
func HasFullAccess(purchases []purchase.Purchase) bool {
	return EntitlementsFromPurchases(purchases).Tier == TierFull
}
