package engine

import (
	"github.com/kmorita/shiftsync/internal/record"
	"github.com/kmorita/shiftsync/internal/remote"
)

// ReconcileStrategy decides which snapshot a read returns when the remote
// and local tiers disagree. The engine's read path never hardcodes the
// policy; alternate strategies are injected without touching it.
type ReconcileStrategy interface {
	// Name identifies the strategy in logs and diagnostics.
	Name() string

	// ChooseRead picks the collection contents given the remote read
	// outcome and the local snapshot. The returned slice is what the
	// caller sees and what the cheaper tiers are backfilled with.
	ChooseRead(status remote.ReadStatus, remoteDocs, localDocs []record.Document) []record.Document
}

// RemoteAuthoritative is the default policy: a populated remote snapshot
// overwrites local tiers. A legitimately empty remote collection does not
// mask non-empty local data - intentional clears go through explicit
// delete operations, never through an empty read.
type RemoteAuthoritative struct{}

// Name implements ReconcileStrategy.
func (RemoteAuthoritative) Name() string { return "remote-authoritative" }

// ChooseRead implements ReconcileStrategy.
func (RemoteAuthoritative) ChooseRead(status remote.ReadStatus, remoteDocs, localDocs []record.Document) []record.Document {
	if status == remote.ReadFound {
		return remoteDocs
	}
	return localDocs
}

// PreferLocal keeps a non-empty local snapshot even when the remote one
// differs; the remote view wins only when nothing is stored locally.
// Useful for recovery after a suspected remote corruption.
type PreferLocal struct{}

// Name implements ReconcileStrategy.
func (PreferLocal) Name() string { return "prefer-local" }

// ChooseRead implements ReconcileStrategy.
func (PreferLocal) ChooseRead(status remote.ReadStatus, remoteDocs, localDocs []record.Document) []record.Document {
	if len(localDocs) > 0 {
		return localDocs
	}
	if status == remote.ReadFound {
		return remoteDocs
	}
	return localDocs
}
