// Package pipeline implements the request pipeline: the HTTP dispatcher
// that builds a Context, runs the global and route middleware chains,
// matches and loads the target route, invokes its handler, and
// serializes errors, in a fixed nine-step order.
package pipeline

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/httperror"
	"github.com/kiln-framework/kiln/internal/loader"
	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/route"
)

// PoweredByHeader is added to every response unconditionally.
const PoweredByHeader = "kiln"

// namedGlobalMiddleware pairs a global middleware with the name hook
// observers see in its MiddlewareInfo.
type namedGlobalMiddleware struct {
	name string
	mw   Middleware
}

// Pipeline is the request dispatcher. One Pipeline instance is shared
// across all requests; its route table is swapped atomically whenever
// the manifest changes, so in-flight requests always observe a single
// consistent snapshot: a request that began reading the table under one
// version continues to observe that version for its whole lifetime.
type Pipeline struct {
	Env     string
	Options func() *config.Options

	ld *loader.Loader
	hb *hooks.Bus
	log *logger.Logger

	table atomic.Pointer[Table]

	mu     sync.Mutex
	global []namedGlobalMiddleware
}

// New constructs a Pipeline. opts is called once per request so the
// pipeline always observes the live config (which may be hot-reloaded
// by the config provider and orchestrator).
func New(env string, opts func() *config.Options, ld *loader.Loader, hb *hooks.Bus, log *logger.Logger) *Pipeline {
	return &Pipeline{Env: env, Options: opts, ld: ld, hb: hb, log: log}
}

// SetTable atomically publishes a new route table for subsequent
// requests to match against.
func (p *Pipeline) SetTable(t *Table) {
	p.table.Store(t)
}

// Table returns the currently published route table.
func (p *Pipeline) Table() *Table {
	return p.table.Load()
}

// Use registers a global middleware, run on every request ahead of
// route matching.
func (p *Pipeline) Use(name string, mw Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = append(p.global, namedGlobalMiddleware{name: name, mw: mw})
}

func (p *Pipeline) globalChain() ([]Middleware, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mws := make([]Middleware, len(p.global))
	names := make([]string, len(p.global))
	for i, g := range p.global {
		mws[i] = g.mw
		names[i] = g.name
	}
	return mws, names
}

// ServeHTTP implements the nine-step request pipeline.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := p.Options()
	w.Header().Set("X-Powered-By", PoweredByHeader)

	ctx := acquireContext(r, w, p.Env, opts)
	defer releaseContext(ctx)
	w.Header().Set("X-Request-Id", ctx.RequestID)

	// Step 1: pre-hook. Failures are not possible here (Fire never
	// returns an error; handler panics are recovered by the bus) but
	// the call must still happen before anything else runs.
	p.hb.Fire(hooks.RequestBefore, ctx)

	// Step 2: global middlewares.
	globalMWs, globalNames := p.globalChain()
	if err := runChain(GlobalChain, globalMWs, globalNames, ctx, p.hb, p.log, nil); err != nil {
		p.finishWithError(ctx, err, opts)
		return
	}
	if ctx.Response.Done() {
		p.hb.Fire(hooks.RequestAfter, ctx)
		return
	}

	// Step 3: route match.
	table := p.Table()
	if table == nil {
		p.finishWithError(ctx, httperror.New(httperror.NotFound, "no routes published"), opts)
		return
	}
	matched, captures, err := table.Match(ctx.Method, ctx.Env, ctx.Pathname)
	if err != nil {
		p.finishWithError(ctx, matchErrorToHTTPError(err), opts)
		return
	}

	// Step 4: validation + load (module validation happens as part of
	// resolving it: a missing handler or bad artifact is a LoadError).
	module, err := p.ld.Load(matched.OutputPath)
	if err != nil {
		p.finishWithError(ctx, httperror.Lift(err), opts)
		return
	}
	if module.Handler == nil {
		p.finishWithError(ctx, httperror.New(httperror.InternalServerError, "route module exports no handler"), opts)
		return
	}

	// Step 5: dynamic param extraction.
	bindParams(ctx, matched, captures)

	// Step 6: route middlewares.
	routeMWs, routeNames := adaptRouteMiddlewares(module.Middlewares)
	routeInfo := &RouteInfo{Path: matched.PathTemplate, Method: matched.Method, Dynamic: matched.Dynamic}
	if err := runChain(RouteChain, routeMWs, routeNames, ctx, p.hb, p.log, routeInfo); err != nil {
		p.finishWithError(ctx, err, opts)
		return
	}
	if ctx.Response.Done() {
		p.hb.Fire(hooks.RequestAfter, ctx)
		return
	}

	// Step 7: handler invocation.
	p.invokeHandler(ctx, module.Handler, opts)
}

func (p *Pipeline) invokeHandler(ctx *Context, h route.Handler, opts *config.Options) {
	defer func() {
		if r := recover(); r != nil {
			p.finishWithError(ctx, httperror.Lift(recoveredToError(r)), opts)
			return
		}
		if !ctx.Response.Done() {
			ctx.Response.MarkDone()
		}
		p.hb.Fire(hooks.RequestAfter, ctx)
	}()

	h.ServeRoute(ctx.Response.w, ctx.Request, ctx.Params)
}

// finishWithError implements step 8 (request:error hook) then step 9
// (request:after hook), serializing err to the client in between.
func (p *Pipeline) finishWithError(ctx *Context, err error, opts *config.Options) {
	httpErr := httperror.Lift(err).WithRequestID(ctx.RequestID)
	p.hb.Fire(hooks.RequestError, httpErr)

	if !ctx.Response.Done() {
		env := httpErr.Envelope(opts.Debug)
		ctx.Response.SetStatus(httpErr.Status)
		ctx.Response.JSON(env)
	}

	p.hb.Fire(hooks.RequestAfter, ctx)
}

func matchErrorToHTTPError(err error) *httperror.Error {
	me, ok := err.(*MatchError)
	if !ok {
		return httperror.Lift(err)
	}
	if me.Kind == "NotFound" {
		return httperror.New(httperror.NotFound, me.Error())
	}
	return httperror.Newf(httperror.Conflict, "%s", me.Error()).WithData(map[string]interface{}{"matched": me.Matched})
}

// adaptRouteMiddlewares wraps each loaded route.Middleware (which speaks
// the raw http.ResponseWriter/*http.Request/params shape, the stable
// contract route modules compile against) into the pipeline's own
// Middleware closure shape, so both global and route chains drive
// through the same runChain logic.
func adaptRouteMiddlewares(mws []route.Middleware) ([]Middleware, []string) {
	adapted := make([]Middleware, len(mws))
	names := make([]string, len(mws))
	for i, m := range mws {
		m := m
		adapted[i] = func(ctx *Context, next func()) {
			m.ServeMiddleware(ctx.Response.w, ctx.Request, ctx.Params, next)
		}
		names[i] = "route-middleware"
	}
	return adapted, names
}
