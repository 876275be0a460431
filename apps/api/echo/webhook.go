package echoapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/checkout"
)

type webhookApi struct {
	pipeline *checkout.Pipeline
	logger   core.Logger
}

func registerWebhookAPI(g *echo.Group, pipeline *checkout.Pipeline, logger core.Logger) {
	api := webhookApi{pipeline: pipeline, logger: logger}
	g.POST("/checkout", api.checkout, middleware.BodyLimit("1M"))
}

// WebhookResponse only carries what every delivery of an event agrees on, so that a
// redelivery gets the very same body.
type WebhookResponse struct {
	Received   bool   `json:"received"`
	EventID    string `json:"event_id"`
	PurchaseID string `json:"purchase_id,omitempty"`
	Ignored    bool   `json:"ignored,omitempty"`
}

// checkout answers 2xx once the purchase is recorded, redeliveries included. Only signature,
// payload and storage problems of the first two pipeline steps fail the call.
func (api *webhookApi) checkout(ctx echo.Context) error {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return errors.Wrap(err, "reading webhook payload")
	}

	res, err := api.pipeline.Handle(ctx.Request().Context(), ctx.Request().Header.Get(checkout.SignatureHeader), payload)
	if err != nil {
		return errors.Wrap(err, "processing checkout event")
	}

	if !res.Ignored {
		api.logger.Info(fmt.Sprintf("checkout event %s handled", res.EventID), map[string]interface{}{
			"purchase_id":   res.PurchaseID,
			"duplicate":     res.Duplicate,
			"completed":     res.Completed,
			"kit_order_id":  res.KitOrderID,
			"user_id":       res.UserID,
			"notifications": len(res.Notifications),
		})
	}
	return ctx.JSON(http.StatusOK, WebhookResponse{
		Received:   true,
		EventID:    res.EventID,
		PurchaseID: res.PurchaseID,
		Ignored:    res.Ignored,
	})
}
