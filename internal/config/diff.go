package config

import (
	"fmt"
	"reflect"
	"sort"
)

// DiffKind classifies one changed dotted key.
type DiffKind string

const (
	Added   DiffKind = "added"
	Removed DiffKind = "removed"
	Changed DiffKind = "changed"
)

// Diff is one changed key between two loaded documents.
type Diff struct {
	Key      string
	Kind     DiffKind
	OldValue interface{}
	NewValue interface{}
}

// ComputeDiff walks two raw documents and reports every dotted key that
// was added, removed, or changed. Nested maps are walked recursively;
// any other value is compared with reflect.DeepEqual. Tree-diffing has
// no suitable off-the-shelf library (mergo merges documents, it does
// not diff them), so this walk is hand-rolled.
func ComputeDiff(oldDoc, newDoc map[string]interface{}) []Diff {
	var diffs []Diff
	walkDiff("", oldDoc, newDoc, &diffs)
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Key < diffs[j].Key })
	return diffs
}

func walkDiff(prefix string, oldM, newM map[string]interface{}, out *[]Diff) {
	keys := map[string]bool{}
	for k := range oldM {
		keys[k] = true
	}
	for k := range newM {
		keys[k] = true
	}

	for k := range keys {
		dotted := k
		if prefix != "" {
			dotted = prefix + "." + k
		}

		oldV, oldOK := oldM[k]
		newV, newOK := newM[k]

		switch {
		case !oldOK && newOK:
			*out = append(*out, Diff{Key: dotted, Kind: Added, NewValue: newV})
		case oldOK && !newOK:
			*out = append(*out, Diff{Key: dotted, Kind: Removed, OldValue: oldV})
		default:
			oldNested, oldIsMap := oldV.(map[string]interface{})
			newNested, newIsMap := newV.(map[string]interface{})
			if oldIsMap && newIsMap {
				walkDiff(dotted, oldNested, newNested, out)
				continue
			}
			if !reflect.DeepEqual(oldV, newV) {
				*out = append(*out, Diff{Key: dotted, Kind: Changed, OldValue: oldV, NewValue: newV})
			}
		}
	}
}

// IsCritical reports whether diffs contains any key in CriticalKeys:
// server.port, server.host, and studio.enabled force a full restart
// rather than a soft apply.
func IsCritical(diffs []Diff) bool {
	for _, d := range diffs {
		if CriticalKeys[d.Key] {
			return true
		}
	}
	return false
}

func (d Diff) String() string {
	switch d.Kind {
	case Added:
		return fmt.Sprintf("+%s=%v", d.Key, d.NewValue)
	case Removed:
		return fmt.Sprintf("-%s", d.Key)
	default:
		return fmt.Sprintf("~%s: %v -> %v", d.Key, d.OldValue, d.NewValue)
	}
}
