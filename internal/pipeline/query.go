package pipeline

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/kiln-framework/kiln/internal/config"
)

// parseQuery applies the configured coercion rules to raw query values.
// Precedence is number > boolean > array > string: the precedence that
// determines the resulting type, not the order coercions are attempted
// in.
func parseQuery(raw url.Values, opts config.QueryParserOptions) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for key, values := range raw {
		v := ""
		if len(values) > 0 {
			v = values[0]
		}
		out[key] = coerceQueryValue(v, opts)
	}
	return out
}

func coerceQueryValue(v string, opts config.QueryParserOptions) interface{} {
	if opts.Number.Enabled {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	if opts.Boolean.Enabled {
		if v == "true" {
			return true
		}
		if v == "false" {
			return false
		}
	}
	if opts.Array.Enabled && opts.Array.Delimiter != "" && strings.Contains(v, opts.Array.Delimiter) {
		return strings.Split(v, opts.Array.Delimiter)
	}
	return v
}
