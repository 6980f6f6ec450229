// Package scanner turns a routes root directory into an ordered list
// of route descriptors by feeding each eligible source file through
// the convention package.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiln-framework/kiln/internal/convention"
)

// Descriptor is a fully-resolved route, pairing the convention output with
// the file-system locations the compiler and manifest need.
type Descriptor struct {
	convention.Descriptor
	SourcePath string // absolute path in the source tree
}

// ScanFailedError wraps an I/O failure encountered while walking the
// routes root.
type ScanFailedError struct {
	Root string
	Err  error
}

func (e *ScanFailedError) Error() string {
	return fmt.Sprintf("scan failed under %s: %v", e.Root, e.Err)
}

func (e *ScanFailedError) Unwrap() error { return e.Err }

// Options configures a Scan.
type Options struct {
	RoutesRoot   string // absolute path to the routes root
	SourceExt    string // e.g. ".go"
	GlobalPrefix string
}

var testOrSpecFile = func(name string) bool {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.Contains(base, ".spec") || strings.Contains(base, ".test")
}

// Scan walks opts.RoutesRoot recursively, selects regular files ending in
// opts.SourceExt (excluding *.spec.* and *.test.* files), converts each
// through the convention package, and returns the result sorted by
// PathTemplate ascending.
//
// If the routes root does not exist, Scan returns an empty, non-error
// result (a fresh project with no routes yet is not a failure). Any other
// I/O error is wrapped in a *ScanFailedError.
func Scan(opts Options) ([]Descriptor, error) {
	if _, err := os.Stat(opts.RoutesRoot); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ScanFailedError{Root: opts.RoutesRoot, Err: err}
	}

	var out []Descriptor

	err := filepath.Walk(opts.RoutesRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != opts.SourceExt {
			return nil
		}
		if testOrSpecFile(filepath.Base(path)) {
			return nil
		}

		rel, err := filepath.Rel(opts.RoutesRoot, path)
		if err != nil {
			return err
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		d := convention.Convert(rel, opts.SourceExt, opts.GlobalPrefix)
		out = append(out, Descriptor{Descriptor: d, SourcePath: abs})

		return nil
	})
	if err != nil {
		return nil, &ScanFailedError{Root: opts.RoutesRoot, Err: err}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PathTemplate < out[j].PathTemplate
	})

	return out, nil
}
