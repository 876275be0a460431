package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
)

const (
	purchaseColumns = `id, external_txn_id, user_id, email, product_type, amount_cents, currency, status, created_at, viewed_at`
	kitOrderColumns = `id, purchase_id, user_id, email, shipping_name, shipping_line1, shipping_line2, shipping_city,
		shipping_state, shipping_postal, shipping_country, status, tracking_number, created_at, updated_at,
		shipped_at, delivered_at`
)

var purchaseOrderings = map[string]string{
	"created_at":   "created_at",
	"amount_cents": "amount_cents",
	"email":        "email",
}

type (
	purchaseRow struct {
		ID            string      `db:"id"`
		ExternalTxnID string      `db:"external_txn_id"`
		UserID        null.String `db:"user_id"`
		Email         string      `db:"email"`
		ProductType   string      `db:"product_type"`
		AmountCents   int64       `db:"amount_cents"`
		Currency      string      `db:"currency"`
		Status        string      `db:"status"`
		CreatedAt     time.Time   `db:"created_at"`
		ViewedAt      null.Time   `db:"viewed_at"`
	}

	kitOrderRow struct {
		ID              string      `db:"id"`
		PurchaseID      string      `db:"purchase_id"`
		UserID          null.String `db:"user_id"`
		Email           string      `db:"email"`
		ShippingName    string      `db:"shipping_name"`
		ShippingLine1   string      `db:"shipping_line1"`
		ShippingLine2   string      `db:"shipping_line2"`
		ShippingCity    string      `db:"shipping_city"`
		ShippingState   string      `db:"shipping_state"`
		ShippingPostal  string      `db:"shipping_postal"`
		ShippingCountry string      `db:"shipping_country"`
		Status          string      `db:"status"`
		TrackingNumber  null.String `db:"tracking_number"`
		CreatedAt       time.Time   `db:"created_at"`
		UpdatedAt       time.Time   `db:"updated_at"`
		ShippedAt       null.Time   `db:"shipped_at"`
		DeliveredAt     null.Time   `db:"delivered_at"`
	}
)

func toPurchaseRow(p purchase.Purchase) purchaseRow {
	return purchaseRow{
		ID:            p.ID,
		ExternalTxnID: p.ExternalTxnID,
		UserID:        null.NewString(p.UserID, p.UserID != ""),
		Email:         p.Email,
		ProductType:   string(p.ProductType),
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt.UTC(),
		ViewedAt:      null.TimeFromPtr(p.ViewedAt),
	}
}

func (r purchaseRow) purchase() purchase.Purchase {
	return purchase.Purchase{
		ID:            r.ID,
		ExternalTxnID: r.ExternalTxnID,
		UserID:        r.UserID.String,
		Email:         r.Email,
		ProductType:   purchase.ProductType(r.ProductType),
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		Status:        purchase.Status(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		ViewedAt:      utcPtr(r.ViewedAt),
	}
}

func toKitOrderRow(o purchase.KitOrder) kitOrderRow {
	return kitOrderRow{
		ID:              o.ID,
		PurchaseID:      o.PurchaseID,
		UserID:          null.NewString(o.UserID, o.UserID != ""),
		Email:           o.Email,
		ShippingName:    o.Shipping.Name,
		ShippingLine1:   o.Shipping.Line1,
		ShippingLine2:   o.Shipping.Line2,
		ShippingCity:    o.Shipping.City,
		ShippingState:   o.Shipping.State,
		ShippingPostal:  o.Shipping.PostalCode,
		ShippingCountry: o.Shipping.Country,
		Status:          string(o.Status),
		TrackingNumber:  null.NewString(o.TrackingNumber, o.TrackingNumber != ""),
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		ShippedAt:       null.TimeFromPtr(o.ShippedAt),
		DeliveredAt:     null.TimeFromPtr(o.DeliveredAt),
	}
}

func (r kitOrderRow) kitOrder() purchase.KitOrder {
	return purchase.KitOrder{
		ID:         r.ID,
		PurchaseID: r.PurchaseID,
		UserID:     r.UserID.String,
		Email:      r.Email,
		Shipping: purchase.ShippingAddress{
			Name:       r.ShippingName,
			Line1:      r.ShippingLine1,
			Line2:      r.ShippingLine2,
			City:       r.ShippingCity,
			State:      r.ShippingState,
			PostalCode: r.ShippingPostal,
			Country:    r.ShippingCountry,
		},
		Status:         purchase.KitOrderStatus(r.Status),
		TrackingNumber: r.TrackingNumber.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		ShippedAt:      utcPtr(r.ShippedAt),
		DeliveredAt:    utcPtr(r.DeliveredAt),
	}
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

type purchaseRepository struct {
	db sqlx.ExtContext
}

var _ purchase.Repository = (*purchaseRepository)(nil) // interface compliance check

func NewPurchaseRepository(db sqlx.ExtContext) *purchaseRepository {
	return &purchaseRepository{db: db}
}

func (repo *purchaseRepository) CreatePurchaseIfNotExists(ctx context.Context, p purchase.Purchase) (purchase.Purchase, bool, error) {
	q, args, err := named(`
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (:id, :external_txn_id, :user_id, :email, :product_type, :amount_cents, :currency, :status,
			:created_at, :viewed_at)
		ON CONFLICT (external_txn_id) DO NOTHING
		RETURNING `+purchaseColumns, toPurchaseRow(p))
	if err != nil {
		return purchase.Purchase{}, false, errors.Wrap(err, "binding purchase")
	}

	var row purchaseRow
	err = sqlx.GetContext(ctx, repo.db, &row, q, args...)
	if err == nil {
		return row.purchase(), true, nil
	}
	if err != sql.ErrNoRows {
		return purchase.Purchase{}, false, errors.Wrap(err, "inserting purchase")
	}

	// the transaction was already recorded
	err = sqlx.GetContext(ctx, repo.db, &row,
		`SELECT `+purchaseColumns+` FROM purchases WHERE external_txn_id = $1`, p.ExternalTxnID)
	if err != nil {
		return purchase.Purchase{}, false, errors.Wrap(err, "finding purchase by transaction id")
	}
	return row.purchase(), false, nil
}

func (repo *purchaseRepository) CompletePendingPurchase(ctx context.Context, id string) (purchase.Purchase, bool, error) {
	if !validID(id) {
		return purchase.Purchase{}, false, purchase.ErrNotFound
	}
	var row purchaseRow
	err := sqlx.GetContext(ctx, repo.db, &row,
		`UPDATE purchases SET status = $1 WHERE id = $2 AND status = $3 RETURNING `+purchaseColumns,
		string(purchase.StatusCompleted), id, string(purchase.StatusPending))
	if err == nil {
		return row.purchase(), true, nil
	}
	if err != sql.ErrNoRows {
		return purchase.Purchase{}, false, errors.Wrap(err, "completing purchase")
	}
	p, err := repo.GetPurchase(ctx, id)
	return p, false, err
}

func (repo *purchaseRepository) GetPurchase(ctx context.Context, id string) (purchase.Purchase, error) {
	if !validID(id) {
		return purchase.Purchase{}, purchase.ErrNotFound
	}
	var row purchaseRow
	err := sqlx.GetContext(ctx, repo.db, &row, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return purchase.Purchase{}, purchase.ErrNotFound
		}
		return purchase.Purchase{}, errors.Wrap(err, "finding purchase")
	}
	return row.purchase(), nil
}

func (repo *purchaseRepository) QueryPurchases(ctx context.Context, filter *purchase.QueryFilter, ordering []core.DBOrdering) ([]purchase.Purchase, error) {
	var w where
	if filter != nil {
		if filter.Email != "" {
			w.add("email = ?", filter.Email)
		}
		if filter.UserID != "" {
			if !validID(filter.UserID) {
				return []purchase.Purchase{}, nil
			}
			w.add("user_id = ?", filter.UserID)
		}
		if filter.ProductType != "" {
			w.add("product_type = ?", string(filter.ProductType))
		}
		if filter.Status != "" {
			w.add("status = ?", string(filter.Status))
		}
		if filter.Unviewed {
			w.conds = append(w.conds, "viewed_at IS NULL")
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q := `SELECT ` + purchaseColumns + ` FROM purchases` + w.String() +
		orderBy(ordering, purchaseOrderings, "created_at DESC") + ", id"
	var rows []purchaseRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying purchases")
	}
	purchases := make([]purchase.Purchase, 0, len(rows))
	for _, r := range rows {
		purchases = append(purchases, r.purchase())
	}
	return purchases, nil
}

func (repo *purchaseRepository) MarkPurchasesViewed(ctx context.Context, ids []string, at time.Time) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE purchases SET viewed_at = $1 WHERE id = ANY($2::uuid[]) AND viewed_at IS NULL`,
		at.UTC(), pq.Array(valid))
	if err != nil {
		return 0, errors.Wrap(err, "marking purchases viewed")
	}
	return affected(res)
}

func (repo *purchaseRepository) LinkPurchases(ctx context.Context, email, userID string) (int, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE purchases SET user_id = $1 WHERE email = $2 AND user_id IS NULL AND status = ANY($3)`,
		userID, email, pq.Array([]string{string(purchase.StatusCompleted), string(purchase.StatusPending)}))
	if err != nil {
		return 0, errors.Wrap(err, "linking purchases")
	}
	return affected(res)
}

func (repo *purchaseRepository) CreateKitOrderIfNotExists(ctx context.Context, o purchase.KitOrder) (purchase.KitOrder, bool, error) {
	q, args, err := named(`
		INSERT INTO kit_orders (`+kitOrderColumns+`)
		VALUES (:id, :purchase_id, :user_id, :email, :shipping_name, :shipping_line1, :shipping_line2,
			:shipping_city, :shipping_state, :shipping_postal, :shipping_country, :status, :tracking_number,
			:created_at, :updated_at, :shipped_at, :delivered_at)
		ON CONFLICT (purchase_id) DO NOTHING
		RETURNING `+kitOrderColumns, toKitOrderRow(o))
	if err != nil {
		return purchase.KitOrder{}, false, errors.Wrap(err, "binding kit order")
	}

	var row kitOrderRow
	err = sqlx.GetContext(ctx, repo.db, &row, q, args...)
	if err == nil {
		return row.kitOrder(), true, nil
	}
	if err != sql.ErrNoRows {
		return purchase.KitOrder{}, false, errors.Wrap(err, "inserting kit order")
	}

	err = sqlx.GetContext(ctx, repo.db, &row,
		`SELECT `+kitOrderColumns+` FROM kit_orders WHERE purchase_id = $1`, o.PurchaseID)
	if err != nil {
		return purchase.KitOrder{}, false, errors.Wrap(err, "finding kit order by purchase")
	}
	return row.kitOrder(), false, nil
}

func (repo *purchaseRepository) GetKitOrder(ctx context.Context, id string) (purchase.KitOrder, error) {
	if !validID(id) {
		return purchase.KitOrder{}, purchase.ErrKitOrderNotFound
	}
	var row kitOrderRow
	err := sqlx.GetContext(ctx, repo.db, &row, `SELECT `+kitOrderColumns+` FROM kit_orders WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return purchase.KitOrder{}, purchase.ErrKitOrderNotFound
		}
		return purchase.KitOrder{}, errors.Wrap(err, "finding kit order")
	}
	return row.kitOrder(), nil
}

func (repo *purchaseRepository) QueryKitOrders(ctx context.Context, filter *purchase.KitOrderFilter) ([]purchase.KitOrder, error) {
	var w where
	if filter != nil {
		if filter.Status != "" {
			w.add("status = ?", string(filter.Status))
		}
		if filter.Email != "" {
			w.add("email = ?", filter.Email)
		}
	}

	var rows []kitOrderRow
	q := `SELECT ` + kitOrderColumns + ` FROM kit_orders` + w.String() + ` ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying kit orders")
	}
	orders := make([]purchase.KitOrder, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.kitOrder())
	}
	return orders, nil
}

func (repo *purchaseRepository) UpdateKitOrderStatus(ctx context.Context, o purchase.KitOrder, expected purchase.KitOrderStatus) (purchase.KitOrder, error) {
	row := toKitOrderRow(o)
	var updated kitOrderRow
	err := sqlx.GetContext(ctx, repo.db, &updated, `
		UPDATE kit_orders
		SET status = $1, tracking_number = $2, updated_at = $3, shipped_at = $4, delivered_at = $5
		WHERE id = $6 AND status = $7
		RETURNING `+kitOrderColumns,
		row.Status, row.TrackingNumber, row.UpdatedAt, row.ShippedAt, row.DeliveredAt, row.ID, string(expected))
	if err == nil {
		return updated.kitOrder(), nil
	}
	if err != sql.ErrNoRows {
		return purchase.KitOrder{}, errors.Wrap(err, "updating kit order")
	}
	if _, err = repo.GetKitOrder(ctx, o.ID); err != nil {
		return purchase.KitOrder{}, err
	}
	return purchase.KitOrder{}, purchase.ErrStatusMismatch
}

func (repo *purchaseRepository) LinkKitOrders(ctx context.Context, email, userID string) (int, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE kit_orders SET user_id = $1 WHERE email = $2 AND user_id IS NULL`, userID, email)
	if err != nil {
		return 0, errors.Wrap(err, "linking kit orders")
	}
	return affected(res)
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "reading affected rows")
	}
	return int(n), nil
}
