package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
)

type adminApi struct {
	purchases *purchase.Service
	users     *user.Service
	notifier  core.Notifier
	validate  *validator.Validate
}

func registerAdminAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	purchases *purchase.Service,
	users *user.Service,
	notifier core.Notifier,
	validate *validator.Validate,
) {
	api := adminApi{
		purchases: purchases,
		users:     users,
		notifier:  notifier,
		validate:  validate,
	}

	ag := g.Group("/admin", jwt, adminMiddleware())
	ag.GET("/purchases", api.queryPurchases)
	ag.POST("/purchases/viewed", api.markViewed)
	ag.GET("/kit-orders", api.queryKitOrders)
	ag.POST("/kit-orders/:id/ship", api.shipKitOrder)
	ag.POST("/kit-orders/:id/deliver", api.deliverKitOrder)
	ag.GET("/students", api.queryStudents)
}

type UpdatedResponse struct {
	Updated int `json:"updated"`
}

// Handlers

func (api *adminApi) queryPurchases(ctx echo.Context) error {
	filter := new(purchase.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []purchase.Purchase{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx, "created_at", "email", "product_type", "amount_cents", "status")

	purs, err := api.purchases.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying purchases")
	}
	if purs == nil {
		purs = []purchase.Purchase{}
	}
	return ctx.JSON(http.StatusOK, purs)
}

func (api *adminApi) markViewed(ctx echo.Context) error {
	var data IDsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IDsRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	n, err := api.purchases.MarkViewed(ctx.Request().Context(), data.IDs...)
	if err != nil {
		return errors.Wrap(err, "marking purchases viewed")
	}
	return ctx.JSON(http.StatusOK, UpdatedResponse{Updated: n})
}

func (api *adminApi) queryKitOrders(ctx echo.Context) error {
	filter := new(purchase.KitOrderFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []purchase.KitOrder{})
	}
	filter.Clean()

	orders, err := api.purchases.QueryKitOrders(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying kit orders")
	}
	if orders == nil {
		orders = []purchase.KitOrder{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *adminApi) shipKitOrder(ctx echo.Context) error {
	var data ShipRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ShipRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	order, err := api.purchases.ShipKitOrder(ctx.Request().Context(), ctx.Param("id"), data.TrackingNumber)
	if err != nil {
		return errors.Wrap(err, "shipping kit order")
	}

	// the outcome is logged by the notifier
	api.notifier.Notify(ctx.Request().Context(), order.ShippedNotification())
	return ctx.JSON(http.StatusOK, order)
}

func (api *adminApi) deliverKitOrder(ctx echo.Context) error {
	order, err := api.purchases.DeliverKitOrder(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "delivering kit order")
	}
	return ctx.JSON(http.StatusOK, order)
}

func (api *adminApi) queryStudents(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	if filter.Role == "" {
		filter.Role = user.RoleStudent
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, "created_at", "name", "email")

	users, err := api.users.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}
