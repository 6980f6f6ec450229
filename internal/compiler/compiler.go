// Package compiler turns scanned source files into runtime-loadable
// artifacts, incrementally where the cache allows it.
//
// "Compiling" a route module means producing a Go plugin (buildmode=
// plugin) that the loader (internal/loader) can plugin.Open at request
// time.
package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kiln-framework/kiln/internal/logger"
)

// CompileFailedError reports a single file's compilation failure. The
// file's cache entry is left untouched so the next build retries it.
type CompileFailedError struct {
	File  string
	Cause error
}

func (e *CompileFailedError) Error() string {
	return fmt.Sprintf("compile failed for %s: %v", e.File, e.Cause)
}

func (e *CompileFailedError) Unwrap() error { return e.Cause }

// Options configures a Compiler.
type Options struct {
	SourceRoot string
	OutputRoot string
	OutputExt  string // e.g. ".so", the compiled plugin's extension
	GoBinary   string // defaults to "go"
}

// Result summarizes one Build call.
type Result struct {
	Compiled []string // source paths that were (re)compiled
	Skipped  []string // source paths that were already up to date
	Duration int64    // milliseconds, filled in by the caller if wanted
}

// Compiler drives incremental or full builds of route source files,
// backed by a persisted Cache.
type Compiler struct {
	opts  Options
	cache *Cache
	log   *logger.Logger
}

// New constructs a Compiler, loading any persisted cache under
// opts.OutputRoot.
func New(opts Options, log *logger.Logger) *Compiler {
	if opts.GoBinary == "" {
		opts.GoBinary = "go"
	}
	if opts.OutputExt == "" {
		opts.OutputExt = ".so"
	}
	return &Compiler{
		opts:  opts,
		cache: LoadCache(opts.OutputRoot),
		log:   log,
	}
}

// OutputPathFor derives the deterministic output path for a source file,
// mirroring its position in the source tree under the output root with
// its extension swapped.
func (c *Compiler) OutputPathFor(sourcePath string) (string, error) {
	rel, err := filepath.Rel(c.opts.SourceRoot, sourcePath)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(rel)
	outRel := strings.TrimSuffix(rel, ext) + c.opts.OutputExt
	return filepath.Join(c.opts.OutputRoot, outRel), nil
}

// batchSize computes the concurrent batch width for n files:
// min(max(1, n/4), 20).
func batchSize(n int) int {
	b := n / 4
	if b < 1 {
		b = 1
	}
	if b > 20 {
		b = 20
	}
	return b
}

// Build compiles every file in files that is missing from the output
// tree or whose source has changed since it was last cached, skipping
// the rest. Files are compiled in bounded-concurrency batches (spec
// §4.2 step 6); a batch boundary is a synchronization point, but files
// within a batch share no ordering guarantee.
//
// On success for any file, its cache entry is advanced. The first failed
// file cancels the context shared by its batch, which stops the other
// compiles still running in that batch, and Build returns before any
// later batch starts. A failed file does not advance its own entry, so a
// subsequent build retries it. The cache is persisted once, and only
// when every batch has succeeded.
func (c *Compiler) Build(ctx context.Context, files []string) (*Result, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var toCompile []string
	var skipped []string

	for _, f := range sorted {
		out, err := c.OutputPathFor(f)
		if err != nil {
			return nil, err
		}
		if c.upToDate(f, out) {
			skipped = append(skipped, f)
			continue
		}
		toCompile = append(toCompile, f)
	}

	result := &Result{Skipped: skipped}

	width := batchSize(len(toCompile))
	for start := 0; start < len(toCompile); start += width {
		end := start + width
		if end > len(toCompile) {
			end = len(toCompile)
		}
		batch := toCompile[start:end]

		g, gctx := errgroup.WithContext(ctx)
		compiledInBatch := make([]string, len(batch))
		for i, f := range batch {
			i, f := i, f
			g.Go(func() error {
				if err := c.compileOne(gctx, f); err != nil {
					return &CompileFailedError{File: f, Cause: err}
				}
				compiledInBatch[i] = f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
		result.Compiled = append(result.Compiled, compiledInBatch...)
	}

	if err := c.cache.Persist(); err != nil {
		c.log.Warnf("compiler: failed to persist cache: %v", err)
	}

	return result, nil
}

func (c *Compiler) upToDate(sourcePath, outputPath string) bool {
	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		return false
	}
	if _, err := os.Stat(outputPath); err != nil {
		return false
	}
	cached, ok := c.cache.Get(sourcePath)
	if !ok {
		return false
	}
	return srcInfo.ModTime().UnixMilli() <= cached.UnixMilli()
}

// compileOne invokes the Go toolchain in plugin build mode, writing to a
// temp file in the output directory and renaming into place so a reader
// never observes a partially written artifact.
func (c *Compiler) compileOne(ctx context.Context, sourcePath string) error {
	outPath, err := c.OutputPathFor(sourcePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	tmpOut := outPath + ".building"

	cmd := exec.CommandContext(ctx, c.opts.GoBinary, "build", "-buildmode=plugin", "-o", tmpOut, sourcePath)
	cmd.Dir = c.opts.SourceRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpOut)
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}

	if err := os.Rename(tmpOut, outPath); err != nil {
		return err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	c.cache.Put(sourcePath, info.ModTime())

	return nil
}
