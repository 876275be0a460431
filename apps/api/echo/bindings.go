package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/coursekit/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads `?ordering=field,-other`. Fields outside allowed are dropped.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" || !contains(allowed, field) {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	IDsRequest struct {
		IDs []string `json:"ids" validate:"required,min=1,dive,required"`
	}

	ShipRequest struct {
		TrackingNumber string `json:"tracking_number" validate:"required"`
	}

	ChatRequest struct {
		Message string        `json:"message"`
		History []chatMessage `json:"history"`
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	NoteRequest struct {
		Name   string `json:"name"`
		Module string `json:"module"`
		Text   string `json:"text"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.NormalizeEmail(lr.Email)
	return validate.Struct(lr)
}

func (r *IDsRequest) Validate(validate *validator.Validate) error {
	for i := range r.IDs {
		r.IDs[i] = core.CleanString(r.IDs[i])
	}
	return validate.Struct(r)
}

func (r *ShipRequest) Validate(validate *validator.Validate) error {
	r.TrackingNumber = core.CleanString(r.TrackingNumber)
	return validate.Struct(r)
}
