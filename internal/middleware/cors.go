package middleware

import (
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kiln-framework/kiln/internal/pipeline"
)

// CORSOptions mirrors the `cors.*` config keys, which are only consumed
// once this middleware is mounted.
type CORSOptions struct {
	Skipper          Skipper `mapstructure:"-"`
	AllowOrigins     []string `mapstructure:"allowOrigins"`
	AllowMethods     []string `mapstructure:"allowMethods"`
	AllowHeaders     []string `mapstructure:"allowHeaders"`
	AllowCredentials bool     `mapstructure:"allowCredentials"`
	ExposeHeaders    []string `mapstructure:"exposeHeaders"`
	MaxAge           int      `mapstructure:"maxAge"`
}

// DefaultCORSOptions holds reasonable defaults for CORSOptions.
var DefaultCORSOptions = CORSOptions{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"},
}

// CORSOptionsFromRaw decodes the `cors.*` document (config.Options.CORS)
// into CORSOptions, overlaying DefaultCORSOptions. A nil/empty raw
// document yields the defaults unchanged.
func CORSOptionsFromRaw(raw map[string]interface{}) (CORSOptions, error) {
	opts := DefaultCORSOptions
	if len(raw) == 0 {
		return opts, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return CORSOptions{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return CORSOptions{}, err
	}
	return opts, nil
}

// CORS returns a middleware enforcing cross-origin resource sharing per
// opts, operating on *Context directly instead of an http.Handler
// chain.
func CORS(opts CORSOptions) pipeline.Middleware {
	if opts.Skipper == nil {
		opts.Skipper = defaultSkipper
	}
	allowMethods := strings.Join(opts.AllowMethods, ",")
	allowHeaders := strings.Join(opts.AllowHeaders, ",")
	exposeHeaders := strings.Join(opts.ExposeHeaders, ",")

	return func(ctx *pipeline.Context, next func()) {
		if opts.Skipper(ctx) {
			next()
			return
		}

		origin := ctx.Request.Header.Get("Origin")
		res := ctx.Response

		res.SetHeader("Vary", "Origin")

		allowed := false
		for _, o := range opts.AllowOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if ctx.Method != "OPTIONS" {
			if allowed {
				if len(opts.AllowOrigins) == 1 && opts.AllowOrigins[0] == "*" {
					res.SetHeader("Access-Control-Allow-Origin", "*")
				} else {
					res.SetHeader("Access-Control-Allow-Origin", origin)
				}
				if opts.AllowCredentials {
					res.SetHeader("Access-Control-Allow-Credentials", "true")
				}
				if exposeHeaders != "" {
					res.SetHeader("Access-Control-Expose-Headers", exposeHeaders)
				}
			}
			next()
			return
		}

		// Preflight.
		res.SetHeader("Vary", "Access-Control-Request-Method")
		res.SetHeader("Vary", "Access-Control-Request-Headers")
		if allowed {
			if len(opts.AllowOrigins) == 1 && opts.AllowOrigins[0] == "*" {
				res.SetHeader("Access-Control-Allow-Origin", "*")
			} else {
				res.SetHeader("Access-Control-Allow-Origin", origin)
			}
		}
		if allowMethods != "" {
			res.SetHeader("Access-Control-Allow-Methods", allowMethods)
		}
		if allowHeaders != "" {
			res.SetHeader("Access-Control-Allow-Headers", allowHeaders)
		} else if reqHeaders := ctx.Request.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			res.SetHeader("Access-Control-Allow-Headers", reqHeaders)
		}
		if opts.AllowCredentials {
			res.SetHeader("Access-Control-Allow-Credentials", "true")
		}
		if opts.MaxAge > 0 {
			res.SetHeader("Access-Control-Max-Age", strconv.Itoa(opts.MaxAge))
		}
		res.SetStatus(204)
		res.Send([]byte{})
	}
}
