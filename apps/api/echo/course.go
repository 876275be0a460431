package echoapi

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/user"
	certsvc "github.com/trezcool/coursekit/services/certificate"
)

type courseApi struct {
	users    *user.Service
	resolver *access.Resolver
	gate     *access.Gate
	progress *progress.Service
	certs    *certsvc.Service
	notifier core.Notifier
	logger   core.Logger
}

func registerCourseAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	optionalJWT echo.MiddlewareFunc,
	users *user.Service,
	resolver *access.Resolver,
	gate *access.Gate,
	progressSvc *progress.Service,
	certs *certsvc.Service,
	notifier core.Notifier,
	logger core.Logger,
) {
	api := courseApi{
		users:    users,
		resolver: resolver,
		gate:     gate,
		progress: progressSvc,
		certs:    certs,
		notifier: notifier,
		logger:   logger,
	}

	cg := g.Group("/course")

	// anonymous visitors get the locked outline
	cg.GET("/modules", api.modules, optionalJWT)
	cg.GET("/modules/:module/lessons/:lesson", api.lesson, optionalJWT)

	cg.POST("/modules/:module/lessons/:lesson/complete", api.complete, jwt)
	cg.GET("/progress", api.summary, jwt)
	cg.GET("/certificate", api.certificate, jwt)
	cg.POST("/certificate/email", api.emailCertificate, jwt)
}

type (
	OutlineResponse struct {
		Title   string              `json:"title"`
		Tier    access.Tier         `json:"tier"`
		Modules []access.ModuleView `json:"modules"`
	}

	CompleteResponse struct {
		Record  progress.Record `json:"record"`
		Created bool            `json:"created"`
	}
)

// tier resolves the tier of the request user. A failing lookup falls back to TierNone so that
// nothing gated is served.
func (api *courseApi) tier(ctx echo.Context) access.Tier {
	userID := contextUserID(ctx)
	tier, err := api.resolver.ResolveTier(ctx.Request().Context(), userID)
	if err != nil {
		api.logger.Error(fmt.Sprintf("resolving tier of user %s: %v", userID, err), err)
		return access.TierNone
	}
	return tier
}

// Handlers

func (api *courseApi) modules(ctx echo.Context) error {
	tier := api.tier(ctx)
	return ctx.JSON(http.StatusOK, OutlineResponse{
		Title:   api.gate.Curriculum().Title,
		Tier:    tier,
		Modules: api.gate.Outline(tier),
	})
}

func (api *courseApi) lesson(ctx echo.Context) error {
	view, err := api.gate.ServeLesson(ctx.Param("module"), ctx.Param("lesson"), api.tier(ctx))
	if err != nil {
		return errors.Wrap(err, "serving lesson")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *courseApi) complete(ctx echo.Context) error {
	rec, created, err := api.progress.Complete(
		ctx.Request().Context(), contextUserID(ctx), api.tier(ctx), ctx.Param("module"), ctx.Param("lesson"),
	)
	if err != nil {
		return errors.Wrap(err, "completing lesson")
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, CompleteResponse{Record: rec, Created: created})
}

func (api *courseApi) summary(ctx echo.Context) error {
	sum, err := api.progress.Summary(ctx.Request().Context(), contextUserID(ctx))
	if err != nil {
		return errors.Wrap(err, "summarizing progress")
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *courseApi) issueCertificate(ctx echo.Context) (user.User, certsvc.Certificate, []byte, error) {
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return usr, certsvc.Certificate{}, nil, errors.Wrap(err, "getting context user")
	}
	sum, err := api.progress.Summary(ctx.Request().Context(), usr.ID)
	if err != nil {
		return usr, certsvc.Certificate{}, nil, errors.Wrap(err, "summarizing progress")
	}

	cert, png, err := api.certs.Issue(ctx.Request().Context(), usr, api.tier(ctx), sum, api.gate.Curriculum().Title)
	if err != nil {
		return usr, cert, nil, errors.Wrap(err, "issuing certificate")
	}
	return usr, cert, png, nil
}

func (api *courseApi) certificate(ctx echo.Context) error {
	_, cert, png, err := api.issueCertificate(ctx)
	if err != nil {
		return err
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", "certificate-"+cert.ID+".png"))
	return ctx.Blob(http.StatusOK, "image/png", png)
}

// emailCertificate mails the certificate to the student as a PNG attachment.
func (api *courseApi) emailCertificate(ctx echo.Context) error {
	usr, cert, png, err := api.issueCertificate(ctx)
	if err != nil {
		return err
	}

	out := api.notifier.Notify(ctx.Request().Context(), core.Notification{
		Kind:      core.NotifyCertificate,
		Recipient: mail.Address{Name: usr.Name, Address: usr.Email},
		Data:      map[string]string{"Name": cert.StudentName, "Course": cert.CourseTitle},
		Attachments: []core.File{{
			Name:        "certificate-" + cert.ID + ".png",
			ContentType: "image/png",
			Content:     png,
		}},
	})
	if !out.Sent {
		return errServiceUnavailable
	}
	return ctx.JSON(http.StatusAccepted, out)
}
