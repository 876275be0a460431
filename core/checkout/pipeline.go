// Package checkout turns payment provider events into entitlements.
package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
)

type (
	PurchaseStore interface {
		RecordPurchase(ctx context.Context, np purchase.NewPurchase) (purchase.Purchase, bool, error)
		CompletePending(ctx context.Context, id string) (purchase.Purchase, bool, error)
		CreateKitOrder(ctx context.Context, p purchase.Purchase, addr purchase.ShippingAddress) (purchase.KitOrder, bool, error)
		ListByUserID(ctx context.Context, userID string) ([]purchase.Purchase, error)
		ListByEmail(ctx context.Context, email string) ([]purchase.Purchase, error)
		LinkToIdentity(ctx context.Context, userID, email string) (purchase.LinkResult, error)
	}

	IdentityFinder interface {
		GetByEmail(ctx context.Context, email string) (user.User, error)
	}

	// AnomalyReporter hands events needing manual follow-up to operators.
	AnomalyReporter interface {
		Report(ctx context.Context, a Anomaly)
	}
)

type AnomalyKind string

const (
	AnomalyMissingShipping    AnomalyKind = "missing_shipping_address"
	AnomalyKitOrderFailed     AnomalyKind = "kit_order_failed"
	AnomalyIdentityLookup     AnomalyKind = "identity_lookup_failed"
	AnomalyLinkFailed         AnomalyKind = "link_failed"
	AnomalyNotificationFailed AnomalyKind = "notification_failed"
	AnomalyPriorAccessUnknown AnomalyKind = "prior_access_unknown"
)

type Anomaly struct {
	Kind          AnomalyKind `json:"kind"`
	EventID       string      `json:"event_id"`
	TransactionID string      `json:"transaction_id"`
	PurchaseID    string      `json:"purchase_id,omitempty"`
	Email         string      `json:"email"`
	Detail        string      `json:"detail,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// Result is the pipeline outcome for one event. A redelivered event yields Duplicate = true
// and the same PurchaseID. Completed is set when a paid delivery completed a pending purchase.
type Result struct {
	EventID       string         `json:"event_id"`
	PurchaseID    string         `json:"purchase_id,omitempty"`
	Duplicate     bool           `json:"duplicate"`
	Completed     bool           `json:"completed,omitempty"`
	Ignored       bool           `json:"ignored,omitempty"`
	KitOrderID    string         `json:"kit_order_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Notifications []core.Outcome `json:"notifications,omitempty"`
}

type Pipeline struct {
	verifier        *Verifier
	purchases       PurchaseStore
	identities      IdentityFinder
	notifier        core.Notifier
	anomalies       AnomalyReporter
	logger          core.Logger
	frontendBaseURL string
}

func NewPipeline(
	conf *core.Config,
	purchases PurchaseStore,
	identities IdentityFinder,
	notifier core.Notifier,
	anomalies AnomalyReporter,
	logger core.Logger,
) *Pipeline {
	return &Pipeline{
		verifier:        NewVerifier(conf.Checkout.WebhookSecret, conf.Checkout.SignatureTolerance),
		purchases:       purchases,
		identities:      identities,
		notifier:        notifier,
		anomalies:       anomalies,
		logger:          logger,
		frontendBaseURL: conf.FrontendBaseURL,
	}
}

func (p *Pipeline) Verifier() *Verifier { return p.verifier }

// Handle verifies and processes a raw webhook delivery.
func (p *Pipeline) Handle(ctx context.Context, signature string, payload []byte) (Result, error) {
	if err := p.verifier.Verify(signature, payload); err != nil {
		return Result{}, err
	}
	ev, err := ParseEvent(payload)
	if err != nil {
		return Result{}, err
	}
	return p.Process(ctx, ev)
}

// Process runs the steps for a verified event, in order:
// record the purchase (fail fast), create the kit order, link the buyer's identity and notify.
// Only the first step can fail the call; later failures are logged and reported as anomalies.
func (p *Pipeline) Process(ctx context.Context, ev Event) (Result, error) {
	res := Result{EventID: ev.ID}
	if ev.Type != EventCheckoutCompleted {
		res.Ignored = true
		return res, nil
	}
	if missing := ev.Data.missingFields(); len(missing) > 0 {
		return res, &MissingFieldError{Fields: missing}
	}

	pur, created, err := p.purchases.RecordPurchase(ctx, ev.Data.newPurchase())
	if err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			fields := make([]string, 0, len(vErrs))
			for _, fe := range vErrs {
				fields = append(fields, fe.Field())
			}
			return res, &MissingFieldError{Fields: fields}
		}
		return res, &PersistenceError{Step: "recording purchase", Err: err}
	}
	res.PurchaseID = pur.ID
	res.Duplicate = !created

	if !created && !pur.IsCompleted() && ev.Data.PurchaseStatus() == purchase.StatusCompleted {
		if pur, res.Completed, err = p.purchases.CompletePending(ctx, pur.ID); err != nil {
			return res, &PersistenceError{Step: "completing pending purchase", Err: err}
		}
	}

	p.createKitOrder(ctx, ev, pur, &res)

	usr, found := p.findIdentity(ctx, ev, pur)
	priorFull, priorKnown := false, false
	if found {
		priorFull, priorKnown = p.priorFullAccess(ctx, ev, pur, usr)
		p.link(ctx, ev, pur, usr, &res)
	}

	if res.Duplicate && !res.Completed {
		p.logger.Info(fmt.Sprintf("checkout event %s: transaction %s already recorded", ev.ID, pur.ExternalTxnID))
		return res, nil
	}

	// the confirmation went out with the pending delivery
	if !res.Completed {
		res.Notifications = append(res.Notifications, p.notify(ctx, ev, pur, core.Notification{
			Kind:      core.NotifyPurchaseConfirmation,
			Recipient: mail.Address{Address: pur.Email},
			Data: map[string]string{
				"Product":   pur.ProductType.DisplayName(),
				"Amount":    formatAmount(pur.AmountCents, pur.Currency),
				"Reference": pur.ExternalTxnID,
				"Email":     pur.Email,
				"LoginURL":  p.frontendBaseURL + "/login",
			},
		}))
	}

	// existing identity without prior full access; pending payments get no welcome
	if found && priorKnown && !priorFull && pur.IsCompleted() {
		res.Notifications = append(res.Notifications, p.notify(ctx, ev, pur, core.Notification{
			Kind:      core.NotifyWelcome,
			Recipient: mail.Address{Name: usr.Name, Address: usr.Email},
			Data: map[string]string{
				"Name":       usr.Name,
				"CourseURL":  p.frontendBaseURL + "/course",
				"FullAccess": fullAccessFlag(pur),
			},
		}))
	}
	return res, nil
}

func (p *Pipeline) createKitOrder(ctx context.Context, ev Event, pur purchase.Purchase, res *Result) {
	if !pur.ProductType.HasPhysicalComponent() {
		return
	}
	if !ev.Data.hasShipping() {
		if !res.Duplicate {
			p.reportAnomaly(ctx, AnomalyMissingShipping, ev, pur, "physical product bought without a shipping address")
		}
		return
	}
	order, _, err := p.purchases.CreateKitOrder(ctx, pur, *ev.Data.Shipping)
	if err != nil {
		p.reportAnomaly(ctx, AnomalyKitOrderFailed, ev, pur, err.Error())
		return
	}
	res.KitOrderID = order.ID
}

func (p *Pipeline) findIdentity(ctx context.Context, ev Event, pur purchase.Purchase) (user.User, bool) {
	usr, err := p.identities.GetByEmail(ctx, pur.Email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			p.reportAnomaly(ctx, AnomalyIdentityLookup, ev, pur, err.Error())
		}
		return user.User{}, false
	}
	return usr, true
}

// priorFullAccess reads the user's entitlements before this purchase gets linked. Purchases
// bought with the user's email but not linked yet count too.
func (p *Pipeline) priorFullAccess(ctx context.Context, ev Event, pur purchase.Purchase, usr user.User) (full, known bool) {
	linked, err := p.purchases.ListByUserID(ctx, usr.ID)
	if err != nil {
		p.reportAnomaly(ctx, AnomalyPriorAccessUnknown, ev, pur, err.Error())
		return false, false
	}
	byEmail, err := p.purchases.ListByEmail(ctx, usr.Email)
	if err != nil {
		p.reportAnomaly(ctx, AnomalyPriorAccessUnknown, ev, pur, err.Error())
		return false, false
	}

	others := make([]purchase.Purchase, 0, len(linked)+len(byEmail))
	for _, pp := range linked {
		if pp.ID != pur.ID {
			others = append(others, pp)
		}
	}
	for _, pp := range byEmail {
		if pp.ID != pur.ID && !pp.IsLinked() {
			others = append(others, pp)
		}
	}
	return access.HasFullAccess(others), true
}

func (p *Pipeline) link(ctx context.Context, ev Event, pur purchase.Purchase, usr user.User, res *Result) {
	if _, err := p.purchases.LinkToIdentity(ctx, usr.ID, usr.Email); err != nil {
		p.reportAnomaly(ctx, AnomalyLinkFailed, ev, pur, err.Error())
		return
	}
	res.UserID = usr.ID
}

func (p *Pipeline) notify(ctx context.Context, ev Event, pur purchase.Purchase, n core.Notification) core.Outcome {
	out := p.notifier.Notify(ctx, n)
	if out.Err != nil {
		p.reportAnomaly(ctx, AnomalyNotificationFailed, ev, pur, fmt.Sprintf("%s: %v", n.Kind, out.Err))
	}
	return out
}

func (p *Pipeline) reportAnomaly(ctx context.Context, kind AnomalyKind, ev Event, pur purchase.Purchase, detail string) {
	a := Anomaly{
		Kind:          kind,
		EventID:       ev.ID,
		TransactionID: pur.ExternalTxnID,
		PurchaseID:    pur.ID,
		Email:         pur.Email,
		Detail:        detail,
		OccurredAt:    core.NowFunc(),
	}
	p.logger.Warn(fmt.Sprintf("checkout event %s: %s", ev.ID, kind), map[string]interface{}{
		"purchase_id": pur.ID,
		"email":       pur.Email,
		"detail":      detail,
	})
	p.anomalies.Report(ctx, a)
}

// fullAccessFlag is "true" when pur unlocks every module, empty otherwise.
func fullAccessFlag(pur purchase.Purchase) string {
	if pur.ProductType.GrantsCourse() {
		return "true"
	}
	return ""
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
