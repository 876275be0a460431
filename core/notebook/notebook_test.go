package notebook_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/notebook"
	inmemdb "github.com/trezcool/coursekit/storage/database/inmem"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func testConfig() *core.Config {
	return &core.Config{Notebook: core.NotebookConfig{MaxFileSize: 32, MaxEntries: 3, ArchiveTimeout: time.Second}}
}

func newTestService(conf *core.Config) *notebook.Service {
	return notebook.NewService(conf, inmemdb.NewNotebookRepository(inmemdb.Open()))
}

func TestService_AddNote(t *testing.T) {
	svc := newTestService(testConfig())
	ctx := context.Background()

	tests := []struct {
		name      string
		noteName  string
		text      string
		wantName  string
		wantValid bool
	}{
		{name: "named", noteName: "VLANs", text: "tag 10 is the lab", wantName: "VLANs.md", wantValid: true},
		{name: "already markdown", noteName: "todo.MD", text: "- flash router", wantName: "todo.MD", wantValid: true},
		{name: "unnamed", text: "x", wantName: "note.md", wantValid: true},
		{name: "path stripped", noteName: "../../etc/passwd", text: "x", wantName: "passwd.md", wantValid: true},
		{name: "empty", noteName: "empty", text: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := svc.AddNote(ctx, "u-"+tt.name, tt.noteName, " Welcome ", tt.text)
			if !tt.wantValid {
				assert.True(t, core.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, e.Name)
			assert.True(t, e.IsNote())
			assert.Equal(t, "welcome", e.ModuleSlug)
			assert.Equal(t, int64(len(tt.text)), e.Size)
		})
	}
}

func TestService_AddFile(t *testing.T) {
	svc := newTestService(testConfig())
	ctx := context.Background()

	e, err := svc.AddFile(ctx, "u1", notebook.Upload{Name: `C:\lab\topology.png`, Data: pngHeader})
	require.NoError(t, err)
	assert.Equal(t, "topology.png", e.Name)
	assert.Equal(t, "image/png", e.ContentType)
	assert.False(t, e.IsNote())

	_, err = svc.AddFile(ctx, "u1", notebook.Upload{Name: "big.bin", Data: make([]byte, 33)})
	assert.True(t, core.IsValidationError(err), "over the size limit")
	_, err = svc.AddFile(ctx, "u1", notebook.Upload{Name: "empty.txt"})
	assert.True(t, core.IsValidationError(err))
	_, err = svc.AddFile(ctx, "u1", notebook.Upload{Name: "", Data: []byte("x")})
	assert.True(t, core.IsValidationError(err))

	for i := 0; i < 2; i++ {
		_, err = svc.AddFile(ctx, "u1", notebook.Upload{Name: "a.txt", Data: []byte("x")})
		require.NoError(t, err)
	}
	_, err = svc.AddFile(ctx, "u1", notebook.Upload{Name: "a.txt", Data: []byte("x")})
	assert.Equal(t, notebook.ErrNotebookFull, err)

	_, err = svc.AddFile(ctx, "u2", notebook.Upload{Name: "a.txt", Data: []byte("x")})
	assert.NoError(t, err, "limits are per user")
}

func TestService_GetListDelete(t *testing.T) {
	svc := newTestService(testConfig())
	ctx := context.Background()

	e, err := svc.AddNote(ctx, "u1", "n", "", "text")
	require.NoError(t, err)

	got, err := svc.Get(ctx, "u1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), got.Data)

	_, err = svc.Get(ctx, "u2", e.ID)
	assert.Equal(t, notebook.ErrNotFound, err)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Data)

	assert.Equal(t, notebook.ErrNotFound, svc.Delete(ctx, "u2", e.ID))
	require.NoError(t, svc.Delete(ctx, "u1", e.ID))
	list, err = svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Archive(t *testing.T) {
	origNow := core.NowFunc
	defer func() { core.NowFunc = origNow }()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	core.NowFunc = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	conf := testConfig()
	conf.Notebook.MaxEntries = 0
	svc := newTestService(conf)
	ctx := context.Background()

	_, err := svc.AddNote(ctx, "u1", "lab", "welcome", "first")
	require.NoError(t, err)
	_, err = svc.AddNote(ctx, "u1", "lab", "welcome", "second")
	require.NoError(t, err)
	_, err = svc.AddFile(ctx, "u1", notebook.Upload{Name: "topology.png", Data: pngHeader})
	require.NoError(t, err)
	_, err = svc.AddNote(ctx, "u2", "private", "", "not yours")
	require.NoError(t, err)

	data, err := svc.Archive(ctx, "u1")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		files[f.Name] = string(content)
	}
	assert.Equal(t, map[string]string{
		"welcome/lab.md":     "first",
		"welcome/lab (1).md": "second",
		"topology.png":       string(pngHeader),
	}, files)

	data, err = svc.Archive(ctx, "nobody")
	require.NoError(t, err)
	zr, err = zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

// slowRepository blocks queries until the context is done.
type slowRepository struct {
	notebook.Repository
}

func (slowRepository) QueryEntries(ctx context.Context, _ string) ([]notebook.Entry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestService_Archive_timeout(t *testing.T) {
	conf := testConfig()
	conf.Notebook.ArchiveTimeout = 20 * time.Millisecond
	svc := notebook.NewService(conf, slowRepository{inmemdb.NewNotebookRepository(inmemdb.Open())})

	start := time.Now()
	data, err := svc.Archive(context.Background(), "u1")
	assert.Equal(t, notebook.ErrArchiveTimeout, err)
	assert.Nil(t, data)
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestService(testConfig()).Archive(ctx, "u1")
	assert.Equal(t, notebook.ErrArchiveTimeout, err, "fails closed on a cancelled request")
}
