package echoapi

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/ratelimit"
)

type chatApi struct {
	svc *chat.Service
}

// registerDemoAPI mounts the public demo chat, limited per client IP.
func registerDemoAPI(g *echo.Group, svc *chat.Service, limiter *ratelimit.Limiter) {
	api := chatApi{svc: svc}
	g.POST("/chat", api.demo, rateLimitMiddleware(limiter, "demo-chat"))
}

func registerChatAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *chat.Service) {
	api := chatApi{svc: svc}
	g.POST("/chat", api.ask, jwt)
	g.GET("/chat/usage", api.usage, jwt)
}

type ChatResponse struct {
	Reply chat.Message `json:"reply"`
	Usage *chat.Usage  `json:"usage,omitempty"`
}

func (r ChatRequest) history() []chat.Message {
	msgs := make([]chat.Message, 0, len(r.History))
	for _, m := range r.History {
		msgs = append(msgs, chat.Message{Role: chat.Role(m.Role), Content: m.Content})
	}
	return msgs
}

// Handlers

func (api *chatApi) demo(ctx echo.Context) error {
	var data ChatRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChatRequest")
	}
	reply, err := api.svc.Demo(ctx.Request().Context(), data.history(), data.Message)
	if err != nil {
		return errors.Wrap(err, "answering chat")
	}
	return ctx.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

func (api *chatApi) ask(ctx echo.Context) error {
	var data ChatRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChatRequest")
	}
	reply, usage, err := api.svc.Ask(ctx.Request().Context(), contextUserID(ctx), data.history(), data.Message)
	if err != nil {
		if errors.Cause(err) == chat.ErrUsageLimitReached {
			setRetryAfter(ctx, usage)
		}
		return errors.Wrap(err, "answering chat")
	}
	return ctx.JSON(http.StatusOK, ChatResponse{Reply: reply, Usage: &usage})
}

func (api *chatApi) usage(ctx echo.Context) error {
	usage, err := api.svc.Usage(ctx.Request().Context(), contextUserID(ctx))
	if err != nil {
		return errors.Wrap(err, "getting chat usage")
	}
	return ctx.JSON(http.StatusOK, usage)
}

// setRetryAfter points the client at the start of the next usage period.
func setRetryAfter(ctx echo.Context, usage chat.Usage) {
	end, err := chat.PeriodEnd(usage.Period)
	if err != nil {
		return
	}
	retryAfter := math.Ceil(end.Sub(core.NowFunc()).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	ctx.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
}
