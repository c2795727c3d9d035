package planner

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/orchnova/vmsync/internal/snapshot"
)

// ResolveThreeWay compares each side with base, the last state both sides
// agreed on. A path changed on both sides to different content is a
// conflict; so is any run where both sides changed something, because a
// whole-tree copy in either direction would overwrite the other side's work.
// A path deleted on one side only is a conflict too: transfers never delete,
// so the survivor would be copied back on the next run.
// Without a base it falls back to ResolveDirection.
func (p *Planner) ResolveThreeWay(local, remoteSnap, base *snapshot.Snapshot, remoteErr error) SyncDecision {
	if base.Len() == 0 {
		return p.ResolveDirection(local, remoteSnap, remoteErr)
	}
	if unreachable(remoteSnap, remoteErr) {
		return SyncDecision{Direction: Noop, Reason: ReasonRemoteUnreachable}
	}

	decision := SyncDecision{
		Diff:         ComputeDiff(local, remoteSnap),
		LocalNewest:  local.NewestModified(p.isSource),
		RemoteNewest: remoteSnap.NewestModified(p.isSource),
	}
	if decision.Diff.IsEmpty() {
		decision.Direction, decision.Reason = Noop, ReasonIdentical
		return decision
	}

	localChanged := changedSince(local, base)
	remoteChanged := changedSince(remoteSnap, base)

	// paths where both sides converged on the same content need nothing
	for _, path := range localChanged.Intersect(remoteChanged).ToSlice() {
		if sameOnBoth(local, remoteSnap, path) {
			localChanged.Remove(path)
			remoteChanged.Remove(path)
		}
	}

	conflicts := sorted(localChanged.Intersect(remoteChanged).Union(deletedOnOneSide(local, remoteSnap, base)))

	switch {
	case len(conflicts) > 0:
		decision.Direction, decision.Reason = Noop, ReasonConflict
		decision.Conflicts = conflicts
	case localChanged.Cardinality() > 0 && remoteChanged.Cardinality() > 0:
		decision.Direction, decision.Reason = Noop, ReasonConflict
		decision.Conflicts = divergent(local, remoteSnap, localChanged, remoteChanged)
	case localChanged.Cardinality() > 0:
		decision.Direction, decision.Reason = LocalToRemote, ReasonLocalNewer
	case remoteChanged.Cardinality() > 0:
		decision.Direction, decision.Reason = RemoteToLocal, ReasonRemoteNewer
	default:
		// the sides differ but neither moved since base; base is stale
		return p.ResolveDirection(local, remoteSnap, nil)
	}
	return decision
}

// changedSince returns paths created, modified or deleted in snap relative to base.
func changedSince(snap, base *snapshot.Snapshot) mapset.Set[string] {
	changed := mapset.NewThreadUnsafeSet[string]()
	for _, path := range snap.Paths() {
		rec, _ := snap.Get(path)
		baseRec, ok := base.Get(path)
		if !ok || baseRec.Hash != rec.Hash {
			changed.Add(path)
		}
	}
	for _, path := range base.Paths() {
		if _, ok := snap.Get(path); !ok {
			changed.Add(path)
		}
	}
	return changed
}

// deletedOnOneSide returns base paths missing from exactly one side.
func deletedOnOneSide(local, remoteSnap, base *snapshot.Snapshot) mapset.Set[string] {
	deleted := mapset.NewThreadUnsafeSet[string]()
	for _, path := range base.Paths() {
		_, inLocal := local.Get(path)
		_, inRemote := remoteSnap.Get(path)
		if inLocal != inRemote {
			deleted.Add(path)
		}
	}
	return deleted
}

// divergent lists the changed paths on both sides whose contents currently
// differ between local and remote.
func divergent(local, remoteSnap *snapshot.Snapshot, localChanged, remoteChanged mapset.Set[string]) []string {
	var out []string
	for _, path := range localChanged.Union(remoteChanged).ToSlice() {
		if !sameOnBoth(local, remoteSnap, path) {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out
}

func sameOnBoth(local, remoteSnap *snapshot.Snapshot, path string) bool {
	l, lok := local.Get(path)
	r, rok := remoteSnap.Get(path)
	if !lok && !rok {
		return true
	}
	return lok && rok && l.Hash == r.Hash
}
