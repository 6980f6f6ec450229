// Package convention implements the route file-naming convention:
// turning one source file's path into a method gate, an env gate, a
// normalized path template, and the regex that matches it.
package convention

import (
	"regexp"
	"strings"
)

// Env is the deployment environment a route is gated to.
type Env string

// The two recognized environments; "" means no gate (matches any).
const (
	EnvDev  Env = "dev"
	EnvProd Env = "prod"
)

var methodSuffixes = map[string]string{
	"connect": "CONNECT",
	"delete":  "DELETE",
	"get":     "GET",
	"head":    "HEAD",
	"options": "OPTIONS",
	"patch":   "PATCH",
	"post":    "POST",
	"put":     "PUT",
	"trace":   "TRACE",
}

// Descriptor is everything C1 derives from one source file's relative path.
type Descriptor struct {
	PathTemplate string
	MethodGate   string // "" means no gate
	EnvGate      Env    // "" means no gate
	Dynamic      bool
	MatchRegex   *regexp.Regexp
	RegexSource  string
}

// Convert derives a Descriptor from relPath (the route file's path relative
// to the routes root, using '/' or '\' separators) and ext (the source
// extension, including the leading dot, e.g. ".go"). globalPrefix, if
// non-empty, is prefixed onto the final path template.
func Convert(relPath, ext, globalPrefix string) Descriptor {
	p := strings.ReplaceAll(relPath, `\`, `/`)
	p = strings.TrimSuffix(p, ext)

	// Peel optional ".env" and ".method" suffixes, right to left, in
	// either order.
	var env Env
	var method string

	for i := 0; i < 2; i++ {
		idx := strings.LastIndex(p, ".")
		if idx < 0 {
			break
		}
		suffix := strings.ToLower(p[idx+1:])
		if env == "" && (suffix == string(EnvDev) || suffix == string(EnvProd)) {
			env = Env(suffix)
		} else if m, ok := methodSuffixes[suffix]; ok && method == "" {
			method = m
		} else {
			break
		}
		p = p[:idx]
	}

	p = transformSegments(p)

	if globalPrefix != "" {
		p = strings.TrimSuffix(globalPrefix, "/") + "/" + strings.TrimPrefix(p, "/")
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.HasPrefix(p, "//") {
		p = p[1:]
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		p = "/"
	}

	dynamic := strings.Contains(p, ":") || strings.Contains(p, "**")

	regexSrc := regexFromTemplate(p)

	return Descriptor{
		PathTemplate: p,
		MethodGate:   method,
		EnvGate:      env,
		Dynamic:      dynamic,
		MatchRegex:   regexp.MustCompile(regexSrc),
		RegexSource:  regexSrc,
	}
}

// transformSegments applies the segment-level rewrites: optional
// "(group)" dropping, "[...name]"/"[...]"/"[name]" dynamic segment
// syntax, and trailing "/index" collapse.
func transformSegments(p string) string {
	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))

	for i, seg := range segs {
		if seg == "" {
			continue
		}

		if strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")") {
			// Optional grouping: dropped entirely, no URL effect.
			continue
		}

		if seg == "index" && i == len(segs)-1 {
			continue
		}

		switch {
		case strings.HasPrefix(seg, "[...") && strings.HasSuffix(seg, "]"):
			name := seg[4 : len(seg)-1]
			if name == "" {
				out = append(out, "**")
			} else {
				out = append(out, "**:"+name)
			}
		case seg == "[...]":
			out = append(out, "**")
		case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
			name := seg[1 : len(seg)-1]
			out = append(out, ":"+name)
		default:
			out = append(out, seg)
		}
	}

	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

// regexFromTemplate derives the anchored match regex from a normalized
// path template: ":name" becomes a single-segment capture, "**:name"/
// "**" become a greedy capture that may include slashes.
func regexFromTemplate(template string) string {
	segs := strings.Split(strings.TrimPrefix(template, "/"), "/")

	var parts []string
	catchAll := false

	for i, seg := range segs {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, "**") {
			catchAll = true
			if i != len(segs)-1 {
				// Not expected by convention, but keep it total:
				// treat as a normal greedy capture mid-path.
				parts = append(parts, "(.+)")
				catchAll = false
			}
			continue
		}
		if strings.HasPrefix(seg, ":") {
			parts = append(parts, "([^/]+)")
			continue
		}
		parts = append(parts, regexp.QuoteMeta(seg))
	}

	if len(parts) == 0 && !catchAll {
		return `^/$`
	}

	prefix := "^/" + strings.Join(parts, "/")
	if catchAll {
		if len(parts) == 0 {
			// Bare "**" at root: matches anything, captured whole.
			return `^/(.*)$`
		}
		return prefix + `(?:/(.*))?$`
	}
	return prefix + "$"
}
