// Package notebook keeps the notes and files students attach to their course work.
package notebook

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
)

const (
	maxNameLength = 200
	noteType      = "text/markdown; charset=utf-8"
)

var (
	// errors
	ErrNotFound       = errors.New("notebook entry not found")
	ErrFileTooLarge   = errors.New("file is too large")
	ErrNotebookFull   = errors.New("notebook is full")
	ErrArchiveTimeout = errors.New("notebook archive timed out")
	ErrEmptyEntry     = errors.New("entry is empty")
)

// Entry is a note or an uploaded file. Data is only sent on download.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ModuleSlug  string    `json:"module,omitempty"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"` // UTC
}

func (e Entry) IsNote() bool { return e.ContentType == noteType }

type Repository interface {
	CreateEntry(ctx context.Context, e Entry) (Entry, error)
	// GetEntry fails with ErrNotFound unless id belongs to userID.
	GetEntry(ctx context.Context, userID, id string) (Entry, error)
	// QueryEntries lists the entries of userID, oldest first, with their data.
	QueryEntries(ctx context.Context, userID string) ([]Entry, error)
	CountEntries(ctx context.Context, userID string) (int, error)
	DeleteEntry(ctx context.Context, userID, id string) error
}

type Upload struct {
	Name       string
	ModuleSlug string
	Data       []byte
}

type Service struct {
	repo           Repository
	maxFileSize    int64
	maxEntries     int
	archiveTimeout time.Duration
}

func NewService(conf *core.Config, repo Repository) *Service {
	timeout := conf.Notebook.ArchiveTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		repo:           repo,
		maxFileSize:    conf.Notebook.MaxFileSize,
		maxEntries:     conf.Notebook.MaxEntries,
		archiveTimeout: timeout,
	}
}

func (svc *Service) MaxFileSize() int64 { return svc.maxFileSize }

// AddNote saves text as a markdown entry.
func (svc *Service) AddNote(ctx context.Context, userID, name, moduleSlug, text string) (Entry, error) {
	if core.CleanString(text) == "" {
		return Entry{}, core.NewValidationError(ErrEmptyEntry, core.FieldError{Field: "text", Error: ErrEmptyEntry.Error()})
	}
	if name = core.CleanString(name); name == "" {
		name = "note"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".md") {
		name += ".md"
	}
	return svc.add(ctx, userID, Upload{Name: name, ModuleSlug: moduleSlug, Data: []byte(text)}, noteType)
}

// AddFile saves an uploaded file. Its content type is sniffed from the data.
func (svc *Service) AddFile(ctx context.Context, userID string, up Upload) (Entry, error) {
	if len(up.Data) == 0 {
		return Entry{}, core.NewValidationError(ErrEmptyEntry, core.FieldError{Field: "file", Error: ErrEmptyEntry.Error()})
	}
	return svc.add(ctx, userID, up, http.DetectContentType(up.Data))
}

func (svc *Service) add(ctx context.Context, userID string, up Upload, contentType string) (Entry, error) {
	name := cleanName(up.Name)
	if name == "" {
		return Entry{}, core.NewFieldValidationError("name", "a file name is required")
	}
	if svc.maxFileSize > 0 && int64(len(up.Data)) > svc.maxFileSize {
		return Entry{}, core.NewValidationError(ErrFileTooLarge, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("%s (max %d bytes)", ErrFileTooLarge, svc.maxFileSize),
		})
	}
	if svc.maxEntries > 0 {
		n, err := svc.repo.CountEntries(ctx, userID)
		if err != nil {
			return Entry{}, errors.Wrap(err, "counting notebook entries")
		}
		if n >= svc.maxEntries {
			return Entry{}, ErrNotebookFull
		}
	}

	e, err := svc.repo.CreateEntry(ctx, Entry{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(up.Data)),
		ModuleSlug:  core.CleanString(up.ModuleSlug, true /* lower */),
		Data:        up.Data,
		CreatedAt:   core.NowFunc().UTC(),
	})
	if err != nil {
		return Entry{}, errors.Wrap(err, "creating notebook entry")
	}
	return e, nil
}

func (svc *Service) Get(ctx context.Context, userID, id string) (Entry, error) {
	return svc.repo.GetEntry(ctx, userID, id)
}

// List returns the entries of userID without their data.
func (svc *Service) List(ctx context.Context, userID string) ([]Entry, error) {
	entries, err := svc.repo.QueryEntries(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying notebook entries")
	}
	for i := range entries {
		entries[i].Data = nil
	}
	return entries, nil
}

func (svc *Service) Delete(ctx context.Context, userID, id string) error {
	return svc.repo.DeleteEntry(ctx, userID, id)
}

// Archive zips every entry of userID within the configured timeout. On timeout nothing is returned.
func (svc *Service) Archive(ctx context.Context, userID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.archiveTimeout)
	defer cancel()

	entries, err := svc.repo.QueryEntries(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrArchiveTimeout
		}
		return nil, errors.Wrap(err, "querying notebook entries")
	}

	type result struct {
		zip []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		data, err := zipEntries(ctx, entries)
		done <- result{zip: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrArchiveTimeout
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, ErrArchiveTimeout
			}
			return nil, errors.Wrap(res.err, "zipping notebook")
		}
		return res.zip, nil
	}
}

// zipEntries stops between entries once ctx is done.
func zipEntries(ctx context.Context, entries []Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name
		if e.ModuleSlug != "" {
			name = path.Join(e.ModuleSlug, name)
		}
		key := name
		if n := seen[key]; n > 0 {
			ext := path.Ext(name)
			name = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
		}
		seen[key]++

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: e.CreatedAt})
		if err != nil {
			return nil, err
		}
		if _, err = w.Write(e.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cleanName keeps the base name of a client supplied path.
func cleanName(name string) string {
	name = core.CleanString(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		r := []rune(name)
		name = string(r[len(r)-maxNameLength:])
	}
	return name
}
