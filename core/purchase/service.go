package purchase

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
)

var (
	// errors
	ErrNotFound            = errors.New("purchase not found")
	ErrKitOrderNotFound    = errors.New("kit order not found")
	ErrInvalidProductType  = errors.New("invalid product type")
	ErrNoPhysicalComponent = errors.New("product has no physical component")
	ErrTrackingRequired    = errors.New("a tracking number is required to ship a kit order")
	ErrInvalidTransition   = errors.New("invalid kit order status transition")
	ErrStatusMismatch      = errors.New("kit order status changed concurrently")
)

type Repository interface {
	// CreatePurchaseIfNotExists inserts p unless a purchase with the same ExternalTxnID exists,
	// in which case the stored purchase is returned with created = false.
	CreatePurchaseIfNotExists(ctx context.Context, p Purchase) (pur Purchase, created bool, err error)
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	QueryPurchases(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Purchase, error)
	MarkPurchasesViewed(ctx context.Context, ids []string, at time.Time) (int, error)
	// CompletePendingPurchase sets the purchase to completed if it is still pending.
	// It returns the stored purchase and whether it changed.
	CompletePendingPurchase(ctx context.Context, id string) (Purchase, bool, error)
	// LinkPurchases sets userID on every pending or completed purchase of email that has no user yet.
	LinkPurchases(ctx context.Context, email, userID string) (int, error)

	// CreateKitOrderIfNotExists inserts o unless the purchase already has a kit order.
	CreateKitOrderIfNotExists(ctx context.Context, o KitOrder) (order KitOrder, created bool, err error)
	GetKitOrder(ctx context.Context, id string) (KitOrder, error)
	QueryKitOrders(ctx context.Context, filter *KitOrderFilter) ([]KitOrder, error)
	// UpdateKitOrderStatus saves the fulfillment fields of o if the stored status is still expected,
	// else returns ErrStatusMismatch.
	UpdateKitOrderStatus(ctx context.Context, o KitOrder, expected KitOrderStatus) (KitOrder, error)
	LinkKitOrders(ctx context.Context, email, userID string) (int, error)
}

type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

// RecordPurchase stores a purchase idempotently on its external transaction id.
// A repeated transaction returns the stored purchase and created = false.
func (svc *Service) RecordPurchase(ctx context.Context, np NewPurchase) (Purchase, bool, error) {
	np.Clean()
	if err := svc.validate.Struct(np); err != nil {
		return Purchase{}, false, err
	}

	p := Purchase{
		ID:            uuid.New().String(),
		ExternalTxnID: np.ExternalTxnID,
		Email:         np.Email,
		ProductType:   np.ProductType,
		AmountCents:   np.AmountCents,
		Currency:      np.Currency,
		Status:        np.Status,
		CreatedAt:     core.NowFunc(),
	}
	pur, created, err := svc.repo.CreatePurchaseIfNotExists(ctx, p)
	if err != nil {
		return Purchase{}, false, errors.Wrap(err, "creating purchase")
	}
	return pur, created, nil
}

// CompletePending completes a purchase recorded while its payment was pending. It is a no-op
// (completed = false) for any other status.
func (svc *Service) CompletePending(ctx context.Context, id string) (Purchase, bool, error) {
	p, completed, err := svc.repo.CompletePendingPurchase(ctx, id)
	if err != nil {
		return Purchase{}, false, errors.Wrap(err, "completing purchase")
	}
	return p, completed, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Purchase, error) {
	return svc.repo.GetPurchase(ctx, id)
}

func (svc *Service) ListByEmail(ctx context.Context, email string) ([]Purchase, error) {
	email = core.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return svc.repo.QueryPurchases(ctx, &QueryFilter{Email: email}, []core.DBOrdering{{Field: "created_at", Ascending: true}})
}

func (svc *Service) ListByUserID(ctx context.Context, userID string) ([]Purchase, error) {
	if userID == "" {
		return nil, nil
	}
	return svc.repo.QueryPurchases(ctx, &QueryFilter{UserID: userID}, []core.DBOrdering{{Field: "created_at", Ascending: true}})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Purchase, error) {
	return svc.repo.QueryPurchases(ctx, filter, ordering)
}

// MarkViewed flags purchases as seen in the back office. It has no other effect.
func (svc *Service) MarkViewed(ctx context.Context, ids ...string) (int, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := svc.repo.MarkPurchasesViewed(ctx, ids, core.NowFunc())
	return n, errors.Wrap(err, "marking purchases viewed")
}

// LinkToIdentity attaches userID to the purchases and kit orders bought with email before the
// identity existed. Running it again is a no-op.
func (svc *Service) LinkToIdentity(ctx context.Context, userID, email string) (LinkResult, error) {
	email = core.NormalizeEmail(email)
	if userID == "" || email == "" {
		return LinkResult{}, core.NewValidationError(errors.New("user id and email are required to link purchases"))
	}

	var res LinkResult
	var err error
	if res.Purchases, err = svc.repo.LinkPurchases(ctx, email, userID); err != nil {
		return res, errors.Wrap(err, "linking purchases")
	}
	if res.KitOrders, err = svc.repo.LinkKitOrders(ctx, email, userID); err != nil {
		return res, errors.Wrap(err, "linking kit orders")
	}
	return res, nil
}

// CreateKitOrder creates the single pending kit order of a physical purchase.
// A second call for the same purchase returns the existing order and created = false.
func (svc *Service) CreateKitOrder(ctx context.Context, p Purchase, addr ShippingAddress) (KitOrder, bool, error) {
	if !p.ProductType.HasPhysicalComponent() {
		return KitOrder{}, false, ErrNoPhysicalComponent
	}
	addr.Clean()
	if err := svc.validate.Struct(addr); err != nil {
		return KitOrder{}, false, err
	}

	now := core.NowFunc()
	o := KitOrder{
		ID:         uuid.New().String(),
		PurchaseID: p.ID,
		UserID:     p.UserID,
		Email:      p.Email,
		Shipping:   addr,
		Status:     KitOrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	order, created, err := svc.repo.CreateKitOrderIfNotExists(ctx, o)
	if err != nil {
		return KitOrder{}, false, errors.Wrap(err, "creating kit order")
	}
	return order, created, nil
}

func (svc *Service) GetKitOrder(ctx context.Context, id string) (KitOrder, error) {
	return svc.repo.GetKitOrder(ctx, id)
}

func (svc *Service) QueryKitOrders(ctx context.Context, filter *KitOrderFilter) ([]KitOrder, error) {
	return svc.repo.QueryKitOrders(ctx, filter)
}

// ShipKitOrder moves a pending kit order to shipped, recording the tracking number in the same write.
func (svc *Service) ShipKitOrder(ctx context.Context, id, trackingNumber string) (KitOrder, error) {
	trackingNumber = core.CleanString(trackingNumber)
	if trackingNumber == "" {
		return KitOrder{}, core.NewValidationError(ErrTrackingRequired, core.FieldError{Field: "tracking_number", Error: ErrTrackingRequired.Error()})
	}
	return svc.transition(ctx, id, KitOrderShipped, func(o *KitOrder, now time.Time) {
		o.TrackingNumber = trackingNumber
		o.ShippedAt = &now
	})
}

func (svc *Service) DeliverKitOrder(ctx context.Context, id string) (KitOrder, error) {
	return svc.transition(ctx, id, KitOrderDelivered, func(o *KitOrder, now time.Time) {
		o.DeliveredAt = &now
	})
}

func (svc *Service) transition(ctx context.Context, id string, next KitOrderStatus, apply func(*KitOrder, time.Time)) (KitOrder, error) {
	o, err := svc.repo.GetKitOrder(ctx, id)
	if err != nil {
		return KitOrder{}, err
	}
	if !o.Status.CanTransitionTo(next) {
		return KitOrder{}, core.NewValidationError(
			errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, next),
			core.FieldError{Field: "status", Error: string(o.Status) + " kit orders cannot become " + string(next)},
		)
	}

	expected := o.Status
	now := core.NowFunc()
	o.Status = next
	o.UpdatedAt = now
	apply(&o, now)

	o, err = svc.repo.UpdateKitOrderStatus(ctx, o, expected)
	if err != nil {
		return KitOrder{}, errors.Wrap(err, "updating kit order status")
	}
	return o, nil
}

func uniqueIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = core.CleanString(id)
		if _, ok := set[id]; ok || id == "" {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
