package checkout_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/checkout"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
	emailsvc "github.com/trezcool/coursekit/services/email"
	logsvc "github.com/trezcool/coursekit/services/logger"
	inmemdb "github.com/trezcool/coursekit/storage/database/inmem"
	"github.com/trezcool/coursekit/tests"
)

type anomalyRecorder struct {
	mu        sync.Mutex
	anomalies []checkout.Anomaly
}

func (r *anomalyRecorder) Report(_ context.Context, a checkout.Anomaly) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, a)
}

func (r *anomalyRecorder) kinds() []checkout.AnomalyKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]checkout.AnomalyKind, 0, len(r.anomalies))
	for _, a := range r.anomalies {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

type failingNotifier struct{}

func (failingNotifier) Notify(_ context.Context, n core.Notification) core.Outcome {
	return core.Outcome{Kind: n.Kind, Recipient: n.Recipient.Address, Err: errors.New("smtp down")}
}

// failingStore fails every purchase write.
type failingStore struct {
	*purchase.Service
}

func (failingStore) RecordPurchase(context.Context, purchase.NewPurchase) (purchase.Purchase, bool, error) {
	return purchase.Purchase{}, false, errors.New("connection refused")
}

type testEnv struct {
	conf      *core.Config
	pipeline  *checkout.Pipeline
	purchases *purchase.Service
	users     user.Repository
	mailer    *emailsvc.ConsoleService
	anomalies *anomalyRecorder
}

func setup(t *testing.T, notifier ...core.Notifier) testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	db := inmemdb.Open()
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	purchase.InitValidators(validate, translator)

	env := testEnv{
		conf:      conf,
		purchases: purchase.NewService(inmemdb.NewPurchaseRepository(db), validate),
		users:     inmemdb.NewUserRepository(db),
		mailer:    emailsvc.NewConsoleServiceMock(conf),
		anomalies: &anomalyRecorder{},
	}
	logger := logsvc.NewNopLogger()
	var n core.Notifier = emailsvc.NewNotifier(env.mailer, logger)
	if len(notifier) > 0 {
		n = notifier[0]
	}
	usrSvc := user.NewService(env.users, env.purchases, logger)
	env.pipeline = checkout.NewPipeline(conf, env.purchases, usrSvc, n, env.anomalies, logger)
	return env
}

func (env testEnv) deliver(t *testing.T, payload []byte) (checkout.Result, error) {
	t.Helper()
	return env.pipeline.Handle(context.Background(), testutil.SignPayload(env.conf, payload), payload)
}

func sentSubjects(mailer *emailsvc.ConsoleService) []string {
	msgs := mailer.SentMessages()
	subjects := make([]string, 0, len(msgs))
	for _, m := range msgs {
		subjects = append(subjects, m.Subject)
	}
	return subjects
}

func TestPipeline_Handle_rejectsBadSignature(t *testing.T) {
	env := setup(t)
	payload := testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "empty", header: ""},
		{name: "garbage", header: "nonsense"},
		{name: "wrong signature", header: "t=1700000000,v1=deadbeef"},
		{name: "other secret", header: checkout.NewVerifier("whsec_other", 0).Sign(payload, core.NowFunc())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.pipeline.Handle(context.Background(), tt.header, payload)
			assert.Equal(t, checkout.ErrInvalidSignature, errors.Cause(err))
		})
	}

	purs, err := env.purchases.ListByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Empty(t, purs)
	assert.Empty(t, env.mailer.SentMessages())
}

func TestPipeline_Handle_malformedPayload(t *testing.T) {
	env := setup(t)
	_, err := env.deliver(t, []byte(`{"id": "evt_1", "data": [}`))
	assert.Equal(t, checkout.ErrMalformedPayload, errors.Cause(err))
}

func TestPipeline_Handle_newBuyer(t *testing.T) {
	env := setup(t)
	payload := testutil.CheckoutEvent(t, "evt_1", "txn_1", " Ada@Example.com", purchase.ProductCourse, nil)

	res, err := env.deliver(t, payload)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.PurchaseID)
	assert.Empty(t, res.UserID)
	assert.Empty(t, res.KitOrderID)

	p, err := env.purchases.GetByID(context.Background(), res.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, purchase.StatusCompleted, p.Status)

	require.Len(t, res.Notifications, 1)
	assert.Equal(t, core.NotifyPurchaseConfirmation, res.Notifications[0].Kind)
	assert.True(t, res.Notifications[0].Sent)
	msgs := env.mailer.SentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ada@example.com", msgs[0].To[0].Address)
	assert.Contains(t, msgs[0].TextContent, "49.00 USD")
	assert.Empty(t, env.anomalies.kinds())
}

func TestPipeline_Handle_duplicateDelivery(t *testing.T) {
	env := setup(t)
	payload := testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductBundle, testutil.ShippingAddress())

	first, err := env.deliver(t, payload)
	require.NoError(t, err)
	second, err := env.deliver(t, payload)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.PurchaseID, second.PurchaseID)
	assert.Equal(t, first.KitOrderID, second.KitOrderID)
	assert.Empty(t, second.Notifications)
	assert.Len(t, env.mailer.SentMessages(), 1)

	purs, err := env.purchases.ListByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, purs, 1)
	orders, err := env.purchases.QueryKitOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPipeline_Handle_sameTransactionNewEventID(t *testing.T) {
	env := setup(t)
	first, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	second, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_2", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.PurchaseID, second.PurchaseID)
}

func TestPipeline_Handle_kitOrders(t *testing.T) {
	tests := []struct {
		name        string
		pt          purchase.ProductType
		shipping    *purchase.ShippingAddress
		wantOrder   bool
		wantAnomaly []checkout.AnomalyKind
	}{
		{name: "bundle with address", pt: purchase.ProductBundle, shipping: testutil.ShippingAddress(), wantOrder: true},
		{name: "kit with address", pt: purchase.ProductKit, shipping: testutil.ShippingAddress(), wantOrder: true},
		{name: "kit without address", pt: purchase.ProductKit, wantAnomaly: []checkout.AnomalyKind{checkout.AnomalyMissingShipping}},
		{name: "kit with blank address", pt: purchase.ProductKit, shipping: &purchase.ShippingAddress{Name: "  "}, wantAnomaly: []checkout.AnomalyKind{checkout.AnomalyMissingShipping}},
		{name: "course ignores address", pt: purchase.ProductCourse, shipping: testutil.ShippingAddress()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			res, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", tt.pt, tt.shipping))
			require.NoError(t, err)
			assert.NotEmpty(t, res.PurchaseID)

			if tt.wantOrder {
				require.NotEmpty(t, res.KitOrderID)
				order, err := env.purchases.GetKitOrder(context.Background(), res.KitOrderID)
				require.NoError(t, err)
				assert.Equal(t, res.PurchaseID, order.PurchaseID)
				assert.Equal(t, purchase.KitOrderPending, order.Status)
			} else {
				assert.Empty(t, res.KitOrderID)
			}
			if tt.wantAnomaly == nil {
				assert.Empty(t, env.anomalies.kinds())
			} else {
				assert.Equal(t, tt.wantAnomaly, env.anomalies.kinds())
			}
		})
	}
}

func TestPipeline_Handle_linksExistingIdentity(t *testing.T) {
	tests := []struct {
		name        string
		prior       []purchase.ProductType
		pt          purchase.ProductType
		wantWelcome bool
	}{
		{name: "first course purchase", pt: purchase.ProductCourse, wantWelcome: true},
		{name: "bundle after ai chat", prior: []purchase.ProductType{purchase.ProductAIChat}, pt: purchase.ProductBundle, wantWelcome: true},
		{name: "already full access", prior: []purchase.ProductType{purchase.ProductCourse}, pt: purchase.ProductBundle},
		{name: "ai chat only", pt: purchase.ProductAIChat, wantWelcome: true},
		{name: "kit only", pt: purchase.ProductKit, wantWelcome: true},
		{name: "kit after kit", prior: []purchase.ProductType{purchase.ProductKit}, pt: purchase.ProductKit, wantWelcome: true},
		{name: "kit with full access", prior: []purchase.ProductType{purchase.ProductBundle}, pt: purchase.ProductKit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			ctx := context.Background()
			usr := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", testutil.StrongPassword, []string{user.RoleStudent}, true)
			for i, pt := range tt.prior {
				np := purchase.NewPurchase{ExternalTxnID: "txn_prior_" + string(rune('a'+i)), Email: usr.Email, ProductType: pt, AmountCents: 100, Currency: "usd"}
				_, _, err := env.purchases.RecordPurchase(ctx, np)
				require.NoError(t, err)
			}
			_, err := env.purchases.LinkToIdentity(ctx, usr.ID, usr.Email)
			require.NoError(t, err)

			res, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_1", "txn_1", "ADA@example.com", tt.pt, testutil.ShippingAddress()))
			require.NoError(t, err)
			assert.Equal(t, usr.ID, res.UserID)

			p, err := env.purchases.GetByID(ctx, res.PurchaseID)
			require.NoError(t, err)
			assert.Equal(t, usr.ID, p.UserID)

			kinds := make([]core.NotificationKind, 0, len(res.Notifications))
			for _, out := range res.Notifications {
				kinds = append(kinds, out.Kind)
			}
			if tt.wantWelcome {
				assert.Equal(t, []core.NotificationKind{core.NotifyPurchaseConfirmation, core.NotifyWelcome}, kinds)
			} else {
				assert.Equal(t, []core.NotificationKind{core.NotifyPurchaseConfirmation}, kinds)
			}
			assert.Len(t, sentSubjects(env.mailer), len(kinds))

			if tt.wantWelcome {
				msgs := env.mailer.SentMessages()
				welcome := msgs[len(msgs)-1]
				assert.Equal(t, "Welcome aboard", welcome.Subject)
				if tt.pt.GrantsCourse() {
					assert.Contains(t, welcome.TextContent, "All modules are now unlocked")
				} else {
					assert.Contains(t, welcome.TextContent, "the welcome module is open")
				}
			}
		})
	}
}

func TestPipeline_Handle_pendingPayment(t *testing.T) {
	env := setup(t)
	testutil.CreateUser(t, env.users, "Ada", "ada@example.com", testutil.StrongPassword, []string{user.RoleStudent}, true)

	ev, err := checkout.ParseEvent(testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	ev.Data.PaymentStatus = "unpaid"

	res, err := env.pipeline.Process(context.Background(), ev)
	require.NoError(t, err)
	p, err := env.purchases.GetByID(context.Background(), res.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, p.Status)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, core.NotifyPurchaseConfirmation, res.Notifications[0].Kind)
}

func TestPipeline_Process_paidCompletesPendingPurchase(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", testutil.StrongPassword, []string{user.RoleStudent}, true)
	resolver := access.NewResolver(env.purchases)

	unpaid, err := checkout.ParseEvent(testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	unpaid.Data.PaymentStatus = "unpaid"
	first, err := env.pipeline.Process(ctx, unpaid)
	require.NoError(t, err)
	assert.False(t, first.Completed)

	tier, err := resolver.ResolveTier(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, access.TierTrial, tier)

	paid, err := checkout.ParseEvent(testutil.CheckoutEvent(t, "evt_2", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	second, err := env.pipeline.Process(ctx, paid)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Completed)
	assert.Equal(t, first.PurchaseID, second.PurchaseID)
	require.Len(t, second.Notifications, 1)
	assert.Equal(t, core.NotifyWelcome, second.Notifications[0].Kind)

	p, err := env.purchases.GetByID(ctx, second.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCompleted, p.Status)
	tier, err = resolver.ResolveTier(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, access.TierFull, tier)

	// a further paid delivery changes nothing
	third, err := env.pipeline.Process(ctx, paid)
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	assert.False(t, third.Completed)
	assert.Empty(t, third.Notifications)

	purs, err := env.purchases.ListByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, purs, 1)
	assert.Equal(t, []string{"Thank you for your purchase", "Welcome aboard"}, sentSubjects(env.mailer))
}

func TestPipeline_Process_unpaidRedeliveryStaysPending(t *testing.T) {
	env := setup(t)
	ev, err := checkout.ParseEvent(testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	ev.Data.PaymentStatus = "unpaid"

	_, err = env.pipeline.Process(context.Background(), ev)
	require.NoError(t, err)
	res, err := env.pipeline.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Completed)

	p, err := env.purchases.GetByID(context.Background(), res.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, p.Status)
}

func TestPipeline_Handle_unlinkedCoursePurchaseCountsAsPriorAccess(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	// bought before the account existed, and not linked yet
	_, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	testutil.CreateUser(t, env.users, "Ada", "ada@example.com", testutil.StrongPassword, []string{user.RoleStudent}, true)

	res, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_2", "txn_2", "ada@example.com", purchase.ProductAIChat, nil))
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, core.NotifyPurchaseConfirmation, res.Notifications[0].Kind)

	purs, err := env.purchases.ListByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	for _, p := range purs {
		assert.Equal(t, res.UserID, p.UserID)
	}
}

func TestPipeline_Handle_notificationFailureIsNotAnError(t *testing.T) {
	env := setup(t, failingNotifier{})
	testutil.CreateUser(t, env.users, "Ada", "ada@example.com", testutil.StrongPassword, []string{user.RoleStudent}, true)

	res, err := env.deliver(t, testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	assert.NotEmpty(t, res.PurchaseID)
	require.Len(t, res.Notifications, 2)
	for _, out := range res.Notifications {
		assert.False(t, out.Sent)
	}
	assert.Equal(t, []checkout.AnomalyKind{checkout.AnomalyNotificationFailed, checkout.AnomalyNotificationFailed}, env.anomalies.kinds())
}

func TestPipeline_Process_ignoresOtherEventTypes(t *testing.T) {
	env := setup(t)
	res, err := env.pipeline.Process(context.Background(), checkout.Event{ID: "evt_1", Type: "checkout.expired"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Empty(t, res.PurchaseID)
	assert.Empty(t, env.mailer.SentMessages())
}

func TestPipeline_Process_rejectsInvalidEvents(t *testing.T) {
	valid := checkout.EventData{TransactionID: "txn_1", Email: "ada@example.com", ProductType: "course", AmountCents: 4900, Currency: "usd"}

	tests := []struct {
		name       string
		mutate     func(d *checkout.EventData)
		wantFields []string
	}{
		{name: "no transaction", mutate: func(d *checkout.EventData) { d.TransactionID = " " }, wantFields: []string{"transaction_id"}},
		{name: "no email nor product", mutate: func(d *checkout.EventData) { d.Email, d.ProductType = "", "" }, wantFields: []string{"email", "product_type"}},
		{name: "no currency", mutate: func(d *checkout.EventData) { d.Currency = "" }, wantFields: []string{"currency"}},
		{name: "unknown product", mutate: func(d *checkout.EventData) { d.ProductType = "poster" }},
		{name: "invalid email", mutate: func(d *checkout.EventData) { d.Email = "ada" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			data := valid
			tt.mutate(&data)

			_, err := env.pipeline.Process(context.Background(), checkout.Event{ID: "evt_1", Type: checkout.EventCheckoutCompleted, Data: data})
			require.True(t, checkout.IsMissingRequiredField(err), "got %v", err)
			if tt.wantFields != nil {
				var mfe *checkout.MissingFieldError
				require.True(t, errors.As(err, &mfe))
				assert.Equal(t, tt.wantFields, mfe.Fields)
			}
			assert.Empty(t, env.mailer.SentMessages())
		})
	}
}

func TestPipeline_Process_persistenceFailure(t *testing.T) {
	env := setup(t)
	p := checkout.NewPipeline(env.conf, failingStore{env.purchases}, user.NewService(env.users, env.purchases, logsvc.NewNopLogger()),
		emailsvc.NewNotifier(env.mailer, logsvc.NewNopLogger()), env.anomalies, logsvc.NewNopLogger())

	ev, err := checkout.ParseEvent(testutil.CheckoutEvent(t, "evt_1", "txn_1", "ada@example.com", purchase.ProductCourse, nil))
	require.NoError(t, err)
	_, err = p.Process(context.Background(), ev)
	assert.True(t, checkout.IsPersistenceFailure(err))
	assert.Empty(t, env.mailer.SentMessages())
}
