// Package planner decides whether a sync is needed and which way it flows.
package planner

import (
	"errors"
	"fmt"

	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/snapshot"
)

type Direction string

const (
	LocalToRemote Direction = "localToRemote"
	RemoteToLocal Direction = "remoteToLocal"
	Noop          Direction = "noop"
)

type Reason string

const (
	ReasonRemoteUnreachable Reason = "remoteUnreachable"
	ReasonIdentical         Reason = "identical"
	ReasonLocalNewer        Reason = "localNewer"
	ReasonRemoteNewer       Reason = "remoteNewer"
	ReasonTie               Reason = "tie"
	ReasonConflict          Reason = "conflict"
)

// SyncDecision is computed fresh on every run.
type SyncDecision struct {
	Direction    Direction
	Reason       Reason
	LocalNewest  int64
	RemoteNewest int64
	// Diff is nil when the remote side was unreachable.
	Diff *DiffResult
	// Conflicts lists paths changed on both sides; three-way mode only.
	Conflicts []string
}

func (d SyncDecision) IsNoop() bool {
	return d.Direction == Noop
}

func (d SyncDecision) String() string {
	return fmt.Sprintf("%s (%s)", d.Direction, d.Reason)
}

// Planner holds the one policy knob of direction resolution: which files
// count as source when looking for the newest timestamp.
type Planner struct {
	isSource func(relPath string) bool
}

// New returns a Planner. A nil isSource counts every file.
func New(isSource func(relPath string) bool) *Planner {
	return &Planner{isSource: isSource}
}

// ResolveDirection applies the whole-tree newest-timestamp heuristic:
//
//   - remote unreachable: noop
//   - no differences: noop
//   - otherwise the side holding the newest source file wins, and equal
//     timestamps push local outward.
//
// It cannot see the case where both sides changed different files since the
// last sync; that resolves to a one-way copy. ResolveThreeWay covers it.
func (p *Planner) ResolveDirection(local, remoteSnap *snapshot.Snapshot, remoteErr error) SyncDecision {
	if unreachable(remoteSnap, remoteErr) {
		return SyncDecision{Direction: Noop, Reason: ReasonRemoteUnreachable}
	}

	diff := ComputeDiff(local, remoteSnap)
	decision := SyncDecision{
		Diff:         diff,
		LocalNewest:  local.NewestModified(p.isSource),
		RemoteNewest: remoteSnap.NewestModified(p.isSource),
	}

	switch {
	case diff.IsEmpty():
		decision.Direction, decision.Reason = Noop, ReasonIdentical
	case decision.LocalNewest > decision.RemoteNewest:
		decision.Direction, decision.Reason = LocalToRemote, ReasonLocalNewer
	case decision.RemoteNewest > decision.LocalNewest:
		decision.Direction, decision.Reason = RemoteToLocal, ReasonRemoteNewer
	default:
		decision.Direction, decision.Reason = LocalToRemote, ReasonTie
	}
	return decision
}

func unreachable(remoteSnap *snapshot.Snapshot, remoteErr error) bool {
	var unreachableErr *remote.UnreachableError
	return remoteSnap == nil || errors.As(remoteErr, &unreachableErr)
}
