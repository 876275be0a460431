package echoapi_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
	"github.com/trezcool/coursekit/tests"
)

func Test_adminApi_permissions(t *testing.T) {
	env := setup(t)
	student := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", "", []string{user.RoleStudent}, true)

	paths := []string{"/v1/admin/purchases", "/v1/admin/kit-orders", "/v1/admin/students"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, path)
			env.serve(req, rec)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			req, rec = newAuthRequest(http.MethodGet, path, getToken(t, env.auth, student))
			env.serve(req, rec)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func Test_adminApi_purchases(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.users, "Admin", "admin@example.com", "", []string{user.RoleStudent, user.RoleAdmin}, true)
	token := getToken(t, env.auth, admin)

	now := time.Now().UTC()
	p1 := testutil.CreatePurchase(t, env.purchases, "ada@example.com", purchase.ProductCourse, purchase.StatusCompleted, "", now.Add(-2*time.Hour))
	p2 := testutil.CreatePurchase(t, env.purchases, "bob@example.com", purchase.ProductKit, purchase.StatusCompleted, "", now.Add(-1*time.Hour))
	p3 := testutil.CreatePurchase(t, env.purchases, "ada@example.com", purchase.ProductAIChat, purchase.StatusPending, "", now)

	query := func(v url.Values) []purchase.Purchase {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/purchases?"+v.Encode(), token)
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var purs []purchase.Purchase
		unmarshal(t, rec, &purs)
		return purs
	}
	ids := func(purs []purchase.Purchase) []string {
		out := make([]string, 0, len(purs))
		for _, p := range purs {
			out = append(out, p.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		values url.Values
		want   []string
	}{
		{name: "newest first", values: url.Values{}, want: []string{p3.ID, p2.ID, p1.ID}},
		{name: "oldest first", values: url.Values{"ordering": {"created_at"}}, want: []string{p1.ID, p2.ID, p3.ID}},
		{name: "by email", values: url.Values{"email": {"ADA@example.com"}, "ordering": {"created_at"}}, want: []string{p1.ID, p3.ID}},
		{name: "by product", values: url.Values{"product_type": {"kit"}}, want: []string{p2.ID}},
		{name: "by status", values: url.Values{"status": {"pending"}}, want: []string{p3.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(query(tt.values)))
		})
	}

	t.Run("mark viewed", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/purchases/viewed", token, marshalObj(t, map[string][]string{"ids": {p1.ID, p2.ID, p1.ID}}))
		env.serve(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"updated": 2}`, rec.Body.String())

		assert.Equal(t, []string{p3.ID}, ids(query(url.Values{"unviewed": {"true"}})))
	})

	t.Run("mark viewed requires ids", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/purchases/viewed", token, []byte(`{"ids": []}`))
		env.serve(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_adminApi_kitOrders(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	admin := testutil.CreateUser(t, env.users, "Admin", "admin@example.com", "", []string{user.RoleAdmin}, true)
	token := getToken(t, env.auth, admin)

	p := testutil.CreatePurchase(t, env.purchases, "ada@example.com", purchase.ProductBundle, purchase.StatusCompleted, "")
	order, _, err := env.purchaseSvc.CreateKitOrder(ctx, p, *testutil.ShippingAddress())
	require.NoError(t, err)

	post := func(path string, body []byte) (int, purchase.KitOrder) {
		req, rec := newAuthRequest(http.MethodPost, path, token, body)
		env.serve(req, rec)
		var o purchase.KitOrder
		if rec.Code == http.StatusOK {
			unmarshal(t, rec, &o)
		}
		return rec.Code, o
	}
	shipPath := "/v1/admin/kit-orders/" + order.ID + "/ship"
	deliverPath := "/v1/admin/kit-orders/" + order.ID + "/deliver"

	code, _ := post(deliverPath, nil)
	assert.Equal(t, http.StatusConflict, code, "pending orders cannot be delivered")

	code, _ = post(shipPath, []byte(`{"tracking_number": " "}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post("/v1/admin/kit-orders/nope/ship", []byte(`{"tracking_number": "1Z999"}`))
	assert.Equal(t, http.StatusNotFound, code)

	code, shipped := post(shipPath, []byte(`{"tracking_number": "1Z999"}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, purchase.KitOrderShipped, shipped.Status)
	assert.Equal(t, "1Z999", shipped.TrackingNumber)
	assert.NotNil(t, shipped.ShippedAt)

	msgs := env.mailer.SentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ada@example.com", msgs[0].To[0].Address)
	assert.Contains(t, msgs[0].TextContent, "1Z999")

	code, _ = post(shipPath, []byte(`{"tracking_number": "1Z999"}`))
	assert.Equal(t, http.StatusConflict, code, "shipping twice")

	code, delivered := post(deliverPath, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, purchase.KitOrderDelivered, delivered.Status)

	req, rec := newAuthRequest(http.MethodGet, "/v1/admin/kit-orders?status=delivered", token)
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []purchase.KitOrder
	unmarshal(t, rec, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}

func Test_adminApi_students(t *testing.T) {
	env := setup(t)
	admin := testutil.CreateUser(t, env.users, "Admin", "admin@example.com", "", []string{user.RoleAdmin}, true)
	ada := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", "", []string{user.RoleStudent}, true)
	bob := testutil.CreateUser(t, env.users, "Bob", "bob@example.com", "", []string{user.RoleStudent}, true)
	token := getToken(t, env.auth, admin)

	tests := []httpTest{
		{name: "all students", path: "/v1/admin/students?ordering=-name", wantCode: http.StatusOK, wantData: marshalObj(t, []user.User{bob, ada})},
		{name: "search", path: "/v1/admin/students?search=ADA", wantCode: http.StatusOK, wantData: marshalObj(t, []user.User{ada})},
		{name: "admins", path: "/v1/admin/students?role=admin", wantCode: http.StatusOK, wantData: marshalObj(t, []user.User{admin})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, token)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}
