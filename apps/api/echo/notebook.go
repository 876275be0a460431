package echoapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/notebook"
)

type notebookApi struct {
	svc *notebook.Service
}

func registerNotebookAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *notebook.Service) {
	api := notebookApi{svc: svc}

	ng := g.Group("/notebook")
	ng.GET("/entries", api.list, jwt)
	ng.POST("/notes", api.addNote, jwt)
	ng.POST("/files", api.upload, jwt, middleware.BodyLimit("10M"))
	ng.GET("/entries/:id", api.download, jwt)
	ng.DELETE("/entries/:id", api.delete, jwt)
	ng.GET("/archive", api.archive, jwt)
}

// Handlers

func (api *notebookApi) list(ctx echo.Context) error {
	entries, err := api.svc.List(ctx.Request().Context(), contextUserID(ctx))
	if err != nil {
		return errors.Wrap(err, "listing notebook")
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *notebookApi) addNote(ctx echo.Context) error {
	var data NoteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NoteRequest")
	}
	e, err := api.svc.AddNote(ctx.Request().Context(), contextUserID(ctx), data.Name, data.Module, data.Text)
	if err != nil {
		return errors.Wrap(err, "adding note")
	}
	return ctx.JSON(http.StatusCreated, e)
}

// upload reads the multipart "file" field; reading stops one byte past the size limit.
func (api *notebookApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewFieldValidationError("file", "a file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer f.Close()

	var r io.Reader = f
	if limit := api.svc.MaxFileSize(); limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading upload")
	}

	e, err := api.svc.AddFile(ctx.Request().Context(), contextUserID(ctx), notebook.Upload{
		Name:       fh.Filename,
		ModuleSlug: ctx.FormValue("module"),
		Data:       data,
	})
	if err != nil {
		return errors.Wrap(err, "adding file")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *notebookApi) download(ctx echo.Context) error {
	e, err := api.svc.Get(ctx.Request().Context(), contextUserID(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting notebook entry")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", e.Name))
	return ctx.Blob(http.StatusOK, e.ContentType, e.Data)
}

func (api *notebookApi) delete(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), contextUserID(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting notebook entry")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notebookApi) archive(ctx echo.Context) error {
	data, err := api.svc.Archive(ctx.Request().Context(), contextUserID(ctx))
	if err != nil {
		return errors.Wrap(err, "archiving notebook")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "notebook.zip"))
	return ctx.Blob(http.StatusOK, "application/zip", data)
}
