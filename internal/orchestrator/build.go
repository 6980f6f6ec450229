package orchestrator

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/eventbus"
	"github.com/kiln-framework/kiln/internal/pipeline"
	"github.com/kiln-framework/kiln/internal/scanner"
	"github.com/kiln-framework/kiln/internal/watch"
)

// handleFileEvent classifies one route-tree watcher event: a changed
// `.env`/`.env.local` file reloads the environment instead of
// triggering a build; "changed" enqueues an incremental build for that
// one file; "added"/"deleted" enqueue a full rebuild since the set of
// routes itself may have changed.
func (o *Orchestrator) handleFileEvent(ev watch.Event) {
	base := filepath.Base(ev.Path)
	if base == ".env" || base == ".env.local" {
		o.handleEnvChanged()
		return
	}

	if filepath.Ext(ev.Path) != o.deps.SourceExt {
		return
	}

	switch ev.Op {
	case watch.Changed:
		o.eb.Emit(eventbus.FileChanged, ev.Path)
		o.runIncrementalBuild(ev.Path)
	case watch.Added:
		o.eb.Emit(eventbus.FileAdded, ev.Path)
		o.runFullBuildReported()
	case watch.Deleted:
		o.eb.Emit(eventbus.FileDeleted, ev.Path)
		o.runFullBuildReported()
	}
}

func (o *Orchestrator) handleEnvChanged() {
	o.eb.Emit(eventbus.EnvChanged, nil)
	if err := config.LoadEnvFiles(o.deps.RoutesRoot); err != nil {
		o.log.Warnf("orchestrator: reloading env files: %v", err)
	}
}

// runFullBuildReported runs a full build and reports the outcome on the
// event bus, swallowing the error: a failed build never transitions the
// state machine out of Running.
func (o *Orchestrator) runFullBuildReported() {
	o.eb.Emit(eventbus.BuildStarting, nil)
	if err := o.fullBuild(); err != nil {
		o.log.Errorf("orchestrator: build failed: %v", err)
		o.eb.Emit(eventbus.BuildError, err)
		return
	}
	o.eb.Emit(eventbus.BuildSuccess, nil)
	o.eb.Emit(eventbus.BuildComplete, nil)
}

// fullBuild runs the strictly ordered sequence: compile -> publish
// manifest -> invalidate loader cache -> (caller emits build:success).
// Scan failures and compile failures are both
// reported but left for the caller to decide how to surface; the
// previously published manifest and pipeline table are left untouched
// on failure so the server keeps serving the last good build.
func (o *Orchestrator) fullBuild() error {
	o.buildMu.Lock()
	defer o.buildMu.Unlock()

	descriptors, err := scanner.Scan(scanner.Options{
		RoutesRoot:   o.deps.RoutesRoot,
		SourceExt:    o.deps.SourceExt,
		GlobalPrefix: o.deps.GlobalPrefix,
	})
	if err != nil {
		return err
	}

	files := make([]string, len(descriptors))
	for i, d := range descriptors {
		files[i] = d.SourcePath
	}

	if _, err := o.comp.Build(context.Background(), files); err != nil {
		return err
	}

	if err := o.store.Publish(descriptors, o.comp); err != nil {
		return err
	}

	entries, err := o.store.Load()
	if err != nil {
		return err
	}

	table, err := pipeline.NewTable(entries)
	if err != nil {
		return err
	}

	o.ld.InvalidateUnder(o.deps.OutputRoot)
	o.pipe.SetTable(table)

	return nil
}

// runIncrementalBuild recompiles a single changed source file. The
// route table's shape (path templates, regexes, method/env gates)
// cannot have changed for an edit that doesn't rename the file, so only
// the compiled artifact and the loader cache need to move; the manifest
// and the pipeline's route table are left as they are.
func (o *Orchestrator) runIncrementalBuild(sourcePath string) {
	o.eb.Emit(eventbus.BuildStarting, nil)

	o.buildMu.Lock()
	_, err := o.comp.Build(context.Background(), []string{sourcePath})
	o.buildMu.Unlock()

	if err != nil {
		o.log.Errorf("orchestrator: incremental build failed for %s: %v", sourcePath, err)
		o.eb.Emit(eventbus.BuildError, err)
		return
	}

	o.ld.InvalidateUnder(o.deps.OutputRoot)
	o.eb.Emit(eventbus.BuildSuccess, nil)
	o.eb.Emit(eventbus.BuildComplete, nil)
}

// applySoftConfigChange handles a Running-state config reload whose
// diff contains no critical key: apply the new config, re-register
// hooks if the hooks section changed, and notify telemetry.
func (o *Orchestrator) applySoftConfigChange(cc configChangeMsg) {
	cc.opts.Env = o.deps.Env
	o.setOptions(cc.opts)

	if hooksChanged(cc.diffs) && o.deps.HookRegistrar != nil {
		o.hb.Reset()
		o.deps.HookRegistrar(o.hb, cc.opts.Hooks)
	}

	if o.deps.Telemetry != nil {
		o.deps.Telemetry.Notify(eventbus.Event{Name: eventbus.Name("reload:config"), Data: cc})
	}
	o.eb.Emit(eventbus.Name("reload:config"), cc)
}

func hooksChanged(diffs []config.Diff) bool {
	for _, d := range diffs {
		if d.Key == "hooks" || strings.HasPrefix(d.Key, "hooks.") {
			return true
		}
	}
	return false
}
