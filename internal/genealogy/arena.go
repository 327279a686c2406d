// Package genealogy tracks construction ancestry across a run as a DAG keyed
// by fingerprint. Parent references are fingerprints rather than pointers, so
// the graph tolerates parents it has never seen a record for.
package genealogy

import (
	"sort"
	"sync"

	"athanor/internal/model"
)

// Arena is an in-memory lineage DAG. The first record for a fingerprint wins;
// later constructions of the same structure add nothing, mirroring the
// first-write-wins rule of the evaluation cache.
type Arena struct {
	mu       sync.RWMutex
	records  map[string]model.LineageRecord
	children map[string][]string
}

func NewArena() *Arena {
	return &Arena{
		records:  make(map[string]model.LineageRecord),
		children: make(map[string][]string),
	}
}

// Add inserts one construction record. It reports false when the fingerprint
// is already present.
func (a *Arena) Add(record model.LineageRecord) bool {
	if record.Fingerprint == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.records[record.Fingerprint]; exists {
		return false
	}
	a.records[record.Fingerprint] = record
	for _, parent := range record.ParentFingerprints {
		a.children[parent] = append(a.children[parent], record.Fingerprint)
	}
	return true
}

// AddAll inserts records in order and returns how many were new.
func (a *Arena) AddAll(records []model.LineageRecord) int {
	added := 0
	for _, record := range records {
		if a.Add(record) {
			added++
		}
	}
	return added
}

// Lookup returns the construction record for a fingerprint.
func (a *Arena) Lookup(fingerprint string) (model.LineageRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	record, ok := a.records[fingerprint]
	return record, ok
}

// Size returns the number of known fingerprints.
func (a *Arena) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Fingerprints returns every known fingerprint, sorted.
func (a *Arena) Fingerprints() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.records))
	for fingerprint := range a.records {
		out = append(out, fingerprint)
	}
	sort.Strings(out)
	return out
}

// Roots returns the fingerprints constructed without parents, sorted.
func (a *Arena) Roots() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.records))
	for fingerprint, record := range a.records {
		if len(record.ParentFingerprints) == 0 {
			out = append(out, fingerprint)
		}
	}
	sort.Strings(out)
	return out
}

// Parents returns the direct parents of a fingerprint in record order.
func (a *Arena) Parents(fingerprint string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	record, ok := a.records[fingerprint]
	if !ok || len(record.ParentFingerprints) == 0 {
		return nil
	}
	out := make([]string, len(record.ParentFingerprints))
	copy(out, record.ParentFingerprints)
	return out
}

// Children returns the direct descendants of a fingerprint, sorted. The
// fingerprint itself does not need a record: edges from unknown parents are
// still tracked.
func (a *Arena) Children(fingerprint string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	kids := a.children[fingerprint]
	if len(kids) == 0 {
		return nil
	}
	out := make([]string, len(kids))
	copy(out, kids)
	sort.Strings(out)
	return out
}

// Ancestors walks parent edges breadth first up to maxDepth levels and
// returns every distinct ancestor fingerprint, nearest level first and sorted
// within a level. Ancestors without a record are included but not expanded.
// A maxDepth of zero or below removes the limit.
func (a *Arena) Ancestors(fingerprint string, maxDepth int) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.walk(fingerprint, maxDepth, func(fp string) []string {
		record, ok := a.records[fp]
		if !ok {
			return nil
		}
		parents := make([]string, len(record.ParentFingerprints))
		copy(parents, record.ParentFingerprints)
		sort.Strings(parents)
		return parents
	})
}

// Descendants walks child edges breadth first up to maxDepth levels.
func (a *Arena) Descendants(fingerprint string, maxDepth int) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.walk(fingerprint, maxDepth, func(fp string) []string {
		kids := make([]string, len(a.children[fp]))
		copy(kids, a.children[fp])
		sort.Strings(kids)
		return kids
	})
}

func (a *Arena) walk(start string, maxDepth int, next func(string) []string) []string {
	seen := map[string]struct{}{start: {}}
	frontier := []string{start}
	var out []string

	for depth := 0; len(frontier) > 0; depth++ {
		if maxDepth > 0 && depth >= maxDepth {
			break
		}
		var level []string
		for _, fp := range frontier {
			for _, linked := range next(fp) {
				if _, dup := seen[linked]; dup {
					continue
				}
				seen[linked] = struct{}{}
				level = append(level, linked)
			}
		}
		sort.Strings(level)
		out = append(out, level...)
		frontier = level
	}
	return out
}
