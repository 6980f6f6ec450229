package kiln

import (
	"context"
	"fmt"

	"github.com/kiln-framework/kiln/internal/compiler"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/scanner"
)

// BuildResult summarizes a one-shot `build` run.
type BuildResult struct {
	Compiled []string
	Skipped  []string
	Routes   int
}

// Build runs the scan -> compile -> publish sequence once and returns,
// implementing the `build` CLI command: no watcher, no server, no
// telemetry. A failed scan or compile returns an error; the caller
// (cmd/kiln) maps that to exit code 1.
func Build(opts Options) (*BuildResult, error) {
	opts.applyDefaults()

	descriptors, err := scanner.Scan(scanner.Options{
		RoutesRoot:   opts.RoutesRoot,
		SourceExt:    opts.SourceExt,
		GlobalPrefix: opts.GlobalPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("kiln: scanning routes: %w", err)
	}

	comp := compiler.New(compiler.Options{
		SourceRoot: opts.RoutesRoot,
		OutputRoot: opts.OutputRoot,
		OutputExt:  opts.OutputExt,
		GoBinary:   opts.GoBinary,
	}, opts.Log)

	files := make([]string, len(descriptors))
	for i, d := range descriptors {
		files[i] = d.SourcePath
	}

	result, err := comp.Build(context.Background(), files)
	if err != nil {
		return nil, fmt.Errorf("kiln: building routes: %w", err)
	}

	store := manifest.New(opts.OutputRoot)
	if err := store.Publish(descriptors, comp); err != nil {
		return nil, fmt.Errorf("kiln: publishing manifest: %w", err)
	}

	return &BuildResult{
		Compiled: result.Compiled,
		Skipped:  result.Skipped,
		Routes:   len(descriptors),
	}, nil
}
