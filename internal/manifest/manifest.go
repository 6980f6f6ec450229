// Package manifest publishes the compiled RouteTable as an atomic,
// well-known JSON document that the loader and request pipeline treat
// as authoritative.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kiln-framework/kiln/internal/compiler"
	"github.com/kiln-framework/kiln/internal/scanner"
)

// fileName is the on-disk name of the published manifest.
const fileName = "routes.json"

// Entry is one element of the published routes.json array.
type Entry struct {
	Method         string `json:"method"`
	Env            string `json:"env,omitempty"`
	Path           string `json:"path"`
	Dynamic        bool   `json:"dynamic"`
	FilePath       string `json:"filePath"`
	SourceFilePath string `json:"sourceFilePath"`
	Regex          string `json:"regex"`
}

// Store publishes a RouteTable as routes.json under an output root,
// skipping the write when the content is unchanged from the last publish.
type Store struct {
	outputRoot string

	mu       sync.Mutex
	lastHash string
}

// New constructs a Store publishing under outputRoot.
func New(outputRoot string) *Store {
	return &Store{outputRoot: outputRoot}
}

// Path returns the absolute path of the published manifest file.
func (s *Store) Path() string {
	return filepath.Join(s.outputRoot, fileName)
}

// Publish computes a stable hash over (method, pathTemplate, sourcePath)
// triples and writes routes.json iff the hash differs from the last
// publish or the file is missing. Descriptors carry their compiled
// outputPath (resolved via comp), substituted for the source path, since
// the runtime only needs outputs.
func (s *Store) Publish(descriptors []scanner.Descriptor, comp *compiler.Compiler) error {
	sorted := append([]scanner.Descriptor(nil), descriptors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PathTemplate < sorted[j].PathTemplate
	})

	hash, err := hashDescriptors(sorted)
	if err != nil {
		return err
	}

	s.mu.Lock()
	unchanged := hash == s.lastHash
	s.mu.Unlock()

	if unchanged {
		if _, err := os.Stat(s.Path()); err == nil {
			return nil
		}
	}

	entries := make([]Entry, 0, len(sorted))
	for _, d := range sorted {
		outPath, err := comp.OutputPathFor(d.SourcePath)
		if err != nil {
			return fmt.Errorf("manifest: resolving output path for %s: %w", d.SourcePath, err)
		}
		entries = append(entries, Entry{
			Method:         d.MethodGate,
			Env:            string(d.EnvGate),
			Path:           d.PathTemplate,
			Dynamic:        d.Dynamic,
			FilePath:       outPath,
			SourceFilePath: d.SourcePath,
			Regex:          d.RegexSource,
		})
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := writeAtomic(s.Path(), b); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastHash = hash
	s.mu.Unlock()

	return nil
}

// Load reads the currently published manifest. Readers treat it as
// authoritative and are expected to read it on demand; in-memory
// caching, if any, is the reader's choice.
func (s *Store) Load() ([]Entry, error) {
	b, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func hashDescriptors(descriptors []scanner.Descriptor) (string, error) {
	h := sha256.New()
	for _, d := range descriptors {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", d.MethodGate, d.PathTemplate, d.SourcePath)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".routes-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
