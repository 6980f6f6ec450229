package pipeline

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/kiln-framework/kiln/internal/config"
)

// Context is the per-request context: built by the pipeline, discarded
// when the response ends. It carries the parsed pathname/method,
// read-only headers, the type-coerced query, the lazily-parsed
// memoized body, dynamic path parameters (filled after match), a
// scratch storage map, and a reference to the live Options, held as an
// explicit *config.Options field rather than a back-reference to a
// global instance.
type Context struct {
	Request  *http.Request
	Response *Response

	Pathname  string
	Method    string
	Env       string
	RequestID string

	Params map[string]string

	Options *config.Options

	storageMu sync.Mutex
	storage   map[string]interface{}

	query      map[string]interface{}
	queryOnce  sync.Once

	bodyOnce sync.Once
	body     interface{}
	bodyErr  error
}

// New builds a fresh Context for one incoming request.
func New(r *http.Request, w http.ResponseWriter, env string, opts *config.Options) *Context {
	return &Context{
		Request:   r,
		Response:  newResponse(w),
		Pathname:  r.URL.Path,
		Method:    r.Method,
		Env:       env,
		RequestID: uuid.NewString(),
		Params:    make(map[string]string),
		Options:   opts,
		storage:   make(map[string]interface{}),
	}
}

// Query returns the type-coerced query values, computed once and
// memoized.
func (c *Context) Query() map[string]interface{} {
	c.queryOnce.Do(func() {
		c.query = parseQuery(c.Request.URL.Query(), c.Options.Server.Request.QueryParser)
	})
	return c.query
}

// Body returns the lazily-parsed, memoized request body.
func (c *Context) Body() (interface{}, error) {
	c.bodyOnce.Do(func() {
		c.body, c.bodyErr = parseBody(c.Request, c.Options.Server.Request.MaxBodySize)
	})
	return c.body, c.bodyErr
}

// Set stores a value in the per-request scratch storage.
func (c *Context) Set(key string, value interface{}) {
	c.storageMu.Lock()
	defer c.storageMu.Unlock()
	c.storage[key] = value
}

// Get retrieves a value from the per-request scratch storage.
func (c *Context) Get(key string) (interface{}, bool) {
	c.storageMu.Lock()
	defer c.storageMu.Unlock()
	v, ok := c.storage[key]
	return v, ok
}

// bindParams fills Params from a matched route's ParamNames and the
// regex captures. Catch-alls bind the entire remaining tail (slashes
// included) as a single string.
func bindParams(ctx *Context, route *Route, captures []string) {
	for i, name := range route.ParamNames {
		if i >= len(captures) {
			continue
		}
		ctx.Params[name] = captures[i]
	}
}
