package pipeline

import (
	"fmt"

	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/httperror"
	"github.com/kiln-framework/kiln/internal/logger"
)

// Middleware is one chain slot: (ctx, next) -> (), driven by runChain.
type Middleware func(ctx *Context, next func())

// ChainKind distinguishes the global chain from a route's own chain,
// carried in MiddlewareInfo for hook observability.
type ChainKind string

const (
	GlobalChain ChainKind = "global"
	RouteChain  ChainKind = "route"
)

// RouteInfo is the optional route summary attached to MiddlewareInfo
// when the chain being driven is a route chain.
type RouteInfo struct {
	Path    string
	Method  string
	Dynamic bool
}

// MiddlewareInfo is passed to hook handlers for observability.
type MiddlewareInfo struct {
	Type            ChainKind
	Name            string
	PositionInChain int
	TotalInChain    int
	Route           *RouteInfo
}

// runChain drives mws in order against ctx. Each slot is invoked with a
// next closure that, when called, drives the following slot; a second
// call to next is logged and ignored, since next may be invoked at most
// once per slot. A middleware that never calls next, or that
// sets ctx.Response done, short-circuits everything after it. A panic
// recovered from a slot is lifted through httperror.Lift and returned
// as the chain's error, firing middleware:error; every successful slot
// fires middleware:beforeExecute/afterExecute around its call.
func runChain(kind ChainKind, mws []Middleware, names []string, ctx *Context, hb *hooks.Bus, log *logger.Logger, route *RouteInfo) error {
	var chainErr error

	var run func(i int)
	run = func(i int) {
		if chainErr != nil || ctx.Response.Done() || i >= len(mws) {
			return
		}

		info := MiddlewareInfo{Type: kind, Name: names[i], PositionInChain: i, TotalInChain: len(mws), Route: route}
		hb.Fire(hooks.MiddlewareBeforeExec, info)

		nextCalled := false
		next := func() {
			if nextCalled {
				log.Warnf("middleware %q (slot %d/%d) called next() more than once; ignoring", info.Name, i, len(mws))
				return
			}
			nextCalled = true
			run(i + 1)
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					chainErr = httperror.Lift(recoveredToError(r))
					hb.Fire(hooks.MiddlewareError, info)
				}
			}()
			mws[i](ctx, next)
		}()

		if chainErr == nil {
			hb.Fire(hooks.MiddlewareAfterExec, info)
		}
	}

	run(0)
	return chainErr
}

// recoveredToError normalizes a recover() value into an error for
// httperror.Lift.
func recoveredToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
