package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
)

type purchaseRepository struct {
	purchases *purchaseTable
	kitOrders *kitOrderTable
}

var _ purchase.Repository = (*purchaseRepository)(nil) // interface compliance check

func NewPurchaseRepository(db *DB) *purchaseRepository {
	return &purchaseRepository{purchases: db.purchase, kitOrders: db.kitOrder}
}

func (repo *purchaseRepository) CreatePurchaseIfNotExists(_ context.Context, p purchase.Purchase) (purchase.Purchase, bool, error) {
	repo.purchases.Lock()
	defer repo.purchases.Unlock()

	if id, ok := repo.purchases.byTxn[p.ExternalTxnID]; ok {
		return *repo.purchases.table[id], false, nil
	}
	stored := p
	repo.purchases.table[p.ID] = &stored
	repo.purchases.byTxn[p.ExternalTxnID] = p.ID
	return p, true, nil
}

func (repo *purchaseRepository) CompletePendingPurchase(_ context.Context, id string) (purchase.Purchase, bool, error) {
	repo.purchases.Lock()
	defer repo.purchases.Unlock()

	p, ok := repo.purchases.table[id]
	if !ok {
		return purchase.Purchase{}, false, purchase.ErrNotFound
	}
	if p.Status != purchase.StatusPending {
		return *p, false, nil
	}
	p.Status = purchase.StatusCompleted
	return *p, true, nil
}

func (repo *purchaseRepository) GetPurchase(_ context.Context, id string) (purchase.Purchase, error) {
	repo.purchases.RLock()
	defer repo.purchases.RUnlock()

	if p, ok := repo.purchases.table[id]; ok {
		return *p, nil
	}
	return purchase.Purchase{}, purchase.ErrNotFound
}

func (repo *purchaseRepository) QueryPurchases(_ context.Context, filter *purchase.QueryFilter, ordering []core.DBOrdering) ([]purchase.Purchase, error) {
	repo.purchases.RLock()
	defer repo.purchases.RUnlock()

	purchases := make([]purchase.Purchase, 0)
	for _, p := range repo.purchases.table {
		if filter.Match(*p) {
			purchases = append(purchases, *p)
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sort.SliceStable(purchases, func(i, j int) bool {
		for _, ord := range ordering {
			c := comparePurchases(purchases[i], purchases[j], ord.Field)
			if c == 0 {
				continue
			}
			return (c < 0) == ord.Ascending
		}
		return purchases[i].ID < purchases[j].ID
	})
	return purchases, nil
}

func (repo *purchaseRepository) MarkPurchasesViewed(_ context.Context, ids []string, at time.Time) (int, error) {
	repo.purchases.Lock()
	defer repo.purchases.Unlock()

	var n int
	for _, id := range ids {
		if p, ok := repo.purchases.table[id]; ok && p.ViewedAt == nil {
			viewed := at
			p.ViewedAt = &viewed
			n++
		}
	}
	return n, nil
}

func (repo *purchaseRepository) LinkPurchases(_ context.Context, email, userID string) (int, error) {
	repo.purchases.Lock()
	defer repo.purchases.Unlock()

	var n int
	for _, p := range repo.purchases.table {
		linkable := p.Status == purchase.StatusCompleted || p.Status == purchase.StatusPending
		if p.Email == email && p.UserID == "" && linkable {
			p.UserID = userID
			n++
		}
	}
	return n, nil
}

func (repo *purchaseRepository) CreateKitOrderIfNotExists(_ context.Context, o purchase.KitOrder) (purchase.KitOrder, bool, error) {
	repo.kitOrders.Lock()
	defer repo.kitOrders.Unlock()

	if id, ok := repo.kitOrders.byPurchase[o.PurchaseID]; ok {
		return *repo.kitOrders.table[id], false, nil
	}
	stored := o
	repo.kitOrders.table[o.ID] = &stored
	repo.kitOrders.byPurchase[o.PurchaseID] = o.ID
	return o, true, nil
}

func (repo *purchaseRepository) GetKitOrder(_ context.Context, id string) (purchase.KitOrder, error) {
	repo.kitOrders.RLock()
	defer repo.kitOrders.RUnlock()

	if o, ok := repo.kitOrders.table[id]; ok {
		return *o, nil
	}
	return purchase.KitOrder{}, purchase.ErrKitOrderNotFound
}

func (repo *purchaseRepository) QueryKitOrders(_ context.Context, filter *purchase.KitOrderFilter) ([]purchase.KitOrder, error) {
	repo.kitOrders.RLock()
	defer repo.kitOrders.RUnlock()

	orders := make([]purchase.KitOrder, 0)
	for _, o := range repo.kitOrders.table {
		if filter.Match(*o) {
			orders = append(orders, *o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if c := orders[i].CreatedAt.Compare(orders[j].CreatedAt); c != 0 {
			return c < 0
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (repo *purchaseRepository) UpdateKitOrderStatus(_ context.Context, o purchase.KitOrder, expected purchase.KitOrderStatus) (purchase.KitOrder, error) {
	repo.kitOrders.Lock()
	defer repo.kitOrders.Unlock()

	stored, ok := repo.kitOrders.table[o.ID]
	if !ok {
		return purchase.KitOrder{}, purchase.ErrKitOrderNotFound
	}
	if stored.Status != expected {
		return purchase.KitOrder{}, purchase.ErrStatusMismatch
	}
	stored.Status = o.Status
	stored.TrackingNumber = o.TrackingNumber
	stored.UpdatedAt = o.UpdatedAt
	stored.ShippedAt = o.ShippedAt
	stored.DeliveredAt = o.DeliveredAt
	return *stored, nil
}

func (repo *purchaseRepository) LinkKitOrders(_ context.Context, email, userID string) (int, error) {
	repo.kitOrders.Lock()
	defer repo.kitOrders.Unlock()

	var n int
	for _, o := range repo.kitOrders.table {
		if o.Email == email && o.UserID == "" {
			o.UserID = userID
			n++
		}
	}
	return n, nil
}

func comparePurchases(a, b purchase.Purchase, field string) int {
	switch field {
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "amount_cents":
		switch {
		case a.AmountCents < b.AmountCents:
			return -1
		case a.AmountCents > b.AmountCents:
			return 1
		}
	case "email":
		return strings.Compare(a.Email, b.Email)
	}
	return 0
}
