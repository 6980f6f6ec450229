package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/loader"
	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/route"
)

type stubHandler struct {
	calls int
	fn    func(w http.ResponseWriter, r *http.Request, params map[string]string)
}

func (h *stubHandler) ServeRoute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	h.calls++
	if h.fn != nil {
		h.fn(w, r, params)
		return
	}
	w.Write([]byte("ok"))
}

func newTestPipeline(t *testing.T, opts config.Options, tableEntries []manifest.Entry, ld *loader.Loader) *Pipeline {
	t.Helper()
	log := logger.New("kiln-test")
	log.Enabled = false
	hb := hooks.New()
	p := New("development", func() *config.Options { return &opts }, ld, hb, log)
	if tableEntries != nil {
		table, err := NewTable(tableEntries)
		require.NoError(t, err)
		p.SetTable(table)
	}
	return p
}

func TestServeHTTPInvokesMatchedHandler(t *testing.T) {
	h := &stubHandler{}
	ld := loader.New(false)
	ld.Preload("/out/index.kiln.so", &route.Module{Handler: h})

	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", FilePath: "/out/index.kiln.so", Regex: "^/hello$"},
	}
	opts := config.Default()
	p := newTestPipeline(t, opts, entries, ld)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, 1, h.calls)
	assert.Equal(t, "kiln", rr.Header().Get("X-Powered-By"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServeHTTPReturnsNotFoundForUnmatchedRoute(t *testing.T) {
	ld := loader.New(false)
	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", FilePath: "/out/index.kiln.so", Regex: "^/hello$"},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "NotFound")
}

func TestServeHTTPReturnsConflictForAmbiguousMatch(t *testing.T) {
	ld := loader.New(false)
	entries := []manifest.Entry{
		{Method: "GET", Path: "/[a]", FilePath: "/out/a.kiln.so", Regex: `^/(?P<a>[^/]+)$`},
		{Method: "GET", Path: "/[b]", FilePath: "/out/b.kiln.so", Regex: `^/(?P<b>[^/]+)$`},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestServeHTTPGlobalMiddlewareShortCircuits(t *testing.T) {
	h := &stubHandler{}
	ld := loader.New(false)
	ld.Preload("/out/index.kiln.so", &route.Module{Handler: h})

	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", FilePath: "/out/index.kiln.so", Regex: "^/hello$"},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)
	p.Use("auth", func(ctx *Context, next func()) {
		ctx.Response.SetStatus(http.StatusUnauthorized)
		ctx.Response.JSON(map[string]string{"error": "nope"})
	})

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, 0, h.calls)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServeHTTPGlobalMiddlewarePassesThrough(t *testing.T) {
	h := &stubHandler{}
	ld := loader.New(false)
	ld.Preload("/out/index.kiln.so", &route.Module{Handler: h})

	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", FilePath: "/out/index.kiln.so", Regex: "^/hello$"},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)

	p.Use("mark", func(ctx *Context, next func()) {
		ctx.Set("marked", true)
		next()
	})
	h.fn = func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		w.Write([]byte("ok"))
	}

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, 1, h.calls)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServeHTTPRouteMiddlewareRunsBeforeHandler(t *testing.T) {
	var order []string
	h := &stubHandler{fn: func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		order = append(order, "handler")
		w.Write([]byte("ok"))
	}}
	mw := &stubMiddleware{fn: func(w http.ResponseWriter, r *http.Request, params map[string]string, next func()) {
		order = append(order, "middleware")
		next()
	}}

	ld := loader.New(false)
	ld.Preload("/out/index.kiln.so", &route.Module{Handler: h, Middlewares: []route.Middleware{mw}})

	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", FilePath: "/out/index.kiln.so", Regex: "^/hello$"},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	require.Equal(t, []string{"middleware", "handler"}, order)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServeHTTPRecoversHandlerPanic(t *testing.T) {
	h := &stubHandler{fn: func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		panic("boom")
	}}
	ld := loader.New(false)
	ld.Preload("/out/index.kiln.so", &route.Module{Handler: h})

	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", FilePath: "/out/index.kiln.so", Regex: "^/hello$"},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "InternalServerError")
}

func TestServeHTTPBindsDynamicParams(t *testing.T) {
	var gotParams map[string]string
	h := &stubHandler{fn: func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		gotParams = params
		w.Write([]byte("ok"))
	}}
	ld := loader.New(false)
	ld.Preload("/out/users_id.kiln.so", &route.Module{Handler: h})

	entries := []manifest.Entry{
		{Method: "GET", Path: "/users/:id", Dynamic: true, FilePath: "/out/users_id.kiln.so", Regex: `^/users/(?P<id>[^/]+)$`},
	}
	p := newTestPipeline(t, config.Default(), entries, ld)

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	require.NotNil(t, gotParams)
	assert.Equal(t, "42", gotParams["id"])
}

func TestServeHTTPNoTableReturnsNotFound(t *testing.T) {
	ld := loader.New(false)
	p := newTestPipeline(t, config.Default(), nil, ld)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type stubMiddleware struct {
	fn func(w http.ResponseWriter, r *http.Request, params map[string]string, next func())
}

func (m *stubMiddleware) ServeMiddleware(w http.ResponseWriter, r *http.Request, params map[string]string, next func()) {
	m.fn(w, r, params, next)
}
