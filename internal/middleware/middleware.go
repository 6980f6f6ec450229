// Package middleware provides opt-in cross-cutting middleware (CORS,
// gzip compression, security headers) built on internal/pipeline's
// Middleware type, plus a static-file helper callable from inside a
// route handler. None of these are wired into the request pipeline by
// default; a module's route file or the host application mounts the
// ones it wants, each one explicit and composable.
package middleware

import "github.com/kiln-framework/kiln/internal/pipeline"

// Skipper decides whether a middleware should bypass a given request.
type Skipper func(ctx *pipeline.Context) bool

func defaultSkipper(*pipeline.Context) bool { return false }
