package planner

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/orchnova/vmsync/internal/snapshot"
)

// DiffResult is the set comparison of two snapshots by path and hash.
type DiffResult struct {
	OnlyInLocal  mapset.Set[string]
	OnlyInRemote mapset.Set[string]
	Changed      mapset.Set[string]
}

func newDiffResult() *DiffResult {
	return &DiffResult{
		OnlyInLocal:  mapset.NewThreadUnsafeSet[string](),
		OnlyInRemote: mapset.NewThreadUnsafeSet[string](),
		Changed:      mapset.NewThreadUnsafeSet[string](),
	}
}

// IsEmpty reports whether the two snapshots hold the same files.
func (d *DiffResult) IsEmpty() bool {
	return d.OnlyInLocal.Cardinality() == 0 &&
		d.OnlyInRemote.Cardinality() == 0 &&
		d.Changed.Cardinality() == 0
}

// Total counts paths that differ in any way.
func (d *DiffResult) Total() int {
	return d.OnlyInLocal.Cardinality() + d.OnlyInRemote.Cardinality() + d.Changed.Cardinality()
}

func (d *DiffResult) SortedOnlyInLocal() []string  { return sorted(d.OnlyInLocal) }
func (d *DiffResult) SortedOnlyInRemote() []string { return sorted(d.OnlyInRemote) }
func (d *DiffResult) SortedChanged() []string      { return sorted(d.Changed) }

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}

// ComputeDiff compares local against remote. It has no side effects and a
// nil snapshot counts as empty.
func ComputeDiff(local, remote *snapshot.Snapshot) *DiffResult {
	diff := newDiffResult()

	for _, path := range local.Paths() {
		localRec, _ := local.Get(path)
		remoteRec, ok := remote.Get(path)
		switch {
		case !ok:
			diff.OnlyInLocal.Add(path)
		case localRec.Hash != remoteRec.Hash:
			diff.Changed.Add(path)
		}
	}

	for _, path := range remote.Paths() {
		if _, ok := local.Get(path); !ok {
			diff.OnlyInRemote.Add(path)
		}
	}

	return diff
}
