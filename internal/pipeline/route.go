package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kiln-framework/kiln/internal/manifest"
)

// Route is the pipeline's runtime view of one published route: a
// manifest.Entry with its regex compiled and its dynamic segment names
// extracted, ready for per-request matching.
type Route struct {
	Method     string
	Env        string
	PathTemplate string
	Dynamic    bool
	OutputPath string
	SourcePath string
	MatchRegex *regexp.Regexp
	ParamNames []string
}

// Table is the ordered, immutable route table the request pipeline
// matches against. A new Table is built whenever the manifest changes;
// readers holding a *Table reference always see a single, internally
// consistent snapshot: either the old table in full or the new table
// in full, never a mix.
type Table struct {
	Routes []Route
}

// NewTable compiles a manifest into a matchable Table.
func NewTable(entries []manifest.Entry) (*Table, error) {
	routes := make([]Route, 0, len(entries))
	for _, e := range entries {
		re, err := regexp.Compile(e.Regex)
		if err != nil {
			return nil, fmt.Errorf("pipeline: invalid regex for route %s: %w", e.Path, err)
		}
		routes = append(routes, Route{
			Method:       e.Method,
			Env:          e.Env,
			PathTemplate: e.Path,
			Dynamic:      e.Dynamic,
			OutputPath:   e.FilePath,
			SourcePath:   e.SourceFilePath,
			MatchRegex:   re,
			ParamNames:   paramNames(e.Path),
		})
	}
	return &Table{Routes: routes}, nil
}

// paramNames extracts the dynamic segment names from a path template, in
// order, matching the capture group order regexFromTemplate produces in
// internal/convention: ":name" and "**:name"/"**" segments.
func paramNames(template string) []string {
	var names []string
	for _, seg := range strings.Split(strings.TrimPrefix(template, "/"), "/") {
		switch {
		case strings.HasPrefix(seg, "**:"):
			names = append(names, seg[3:])
		case seg == "**":
			names = append(names, "*")
		case strings.HasPrefix(seg, ":"):
			names = append(names, seg[1:])
		}
	}
	return names
}

// MatchError is raised when route matching finds zero or more than one
// candidate.
type MatchError struct {
	Kind    string // "NotFound" | "Conflict"
	Path    string
	Matched []string // populated for Conflict: the matched path templates
}

func (e *MatchError) Error() string {
	if e.Kind == "NotFound" {
		return fmt.Sprintf("no route matches %s", e.Path)
	}
	return fmt.Sprintf("multiple routes match %s: %s", e.Path, strings.Join(e.Matched, ", "))
}

// Match scans t.Routes in order (O(n), no trie required) for every
// descriptor whose methodGate/envGate/matchRegex all accept (method,
// env, pathname). Zero matches is NotFound; more than one is Conflict,
// since it indicates a user authoring error.
func (t *Table) Match(method, env, pathname string) (*Route, []string, error) {
	var matched []Route
	var captures []string

	for i := range t.Routes {
		r := &t.Routes[i]
		if r.Method != "" && !strings.EqualFold(r.Method, method) {
			continue
		}
		if r.Env != "" && r.Env != env {
			continue
		}
		m := r.MatchRegex.FindStringSubmatch(pathname)
		if m == nil {
			continue
		}
		matched = append(matched, *r)
		captures = m[1:]
	}

	switch len(matched) {
	case 0:
		return nil, nil, &MatchError{Kind: "NotFound", Path: pathname}
	case 1:
		return &matched[0], captures, nil
	default:
		var paths []string
		for _, r := range matched {
			paths = append(paths, r.PathTemplate)
		}
		return nil, nil, &MatchError{Kind: "Conflict", Path: pathname, Matched: paths}
	}
}
