package middleware

import (
	"fmt"

	"github.com/kiln-framework/kiln/internal/pipeline"
)

// SecureOptions configures the Secure middleware's header set.
type SecureOptions struct {
	Skipper               Skipper
	XSSProtection         string
	ContentTypeNosniff    string
	XFrameOptions         string
	HSTSMaxAge            int
	HSTSExcludeSubdomains bool
	ContentSecurityPolicy string
}

// DefaultSecureOptions holds reasonable defaults for SecureOptions.
var DefaultSecureOptions = SecureOptions{
	XSSProtection:      "1; mode=block",
	ContentTypeNosniff: "nosniff",
	XFrameOptions:      "SAMEORIGIN",
}

// Secure sets a standard set of hardening response headers: XSS
// protection, content-type sniffing prevention, clickjacking protection,
// HSTS (only over TLS or behind a trusted X-Forwarded-Proto: https
// proxy), and an optional Content-Security-Policy.
func Secure(opts SecureOptions) pipeline.Middleware {
	if opts.Skipper == nil {
		opts.Skipper = defaultSkipper
	}

	return func(ctx *pipeline.Context, next func()) {
		if opts.Skipper(ctx) {
			next()
			return
		}

		res := ctx.Response
		if opts.XSSProtection != "" {
			res.SetHeader("X-XSS-Protection", opts.XSSProtection)
		}
		if opts.ContentTypeNosniff != "" {
			res.SetHeader("X-Content-Type-Options", opts.ContentTypeNosniff)
		}
		if opts.XFrameOptions != "" {
			res.SetHeader("X-Frame-Options", opts.XFrameOptions)
		}
		isTLS := ctx.Request.TLS != nil || ctx.Request.Header.Get("X-Forwarded-Proto") == "https"
		if isTLS && opts.HSTSMaxAge != 0 {
			subdomains := ""
			if !opts.HSTSExcludeSubdomains {
				subdomains = "; includeSubdomains"
			}
			res.SetHeader("Strict-Transport-Security", fmt.Sprintf("max-age=%d%s", opts.HSTSMaxAge, subdomains))
		}
		if opts.ContentSecurityPolicy != "" {
			res.SetHeader("Content-Security-Policy", opts.ContentSecurityPolicy)
		}
		next()
	}
}
