package fetcher

import (
	"phabry/pkg/checkpoint"
	"phabry/pkg/phabricator"
)

// ConduitClient is the transport surface the fetcher drives. The production
// implementation is phabricator.Client; tests substitute scripted fakes.
type ConduitClient interface {
	// SearchRevisions fetches one page of revisions for the given cursor,
	// order, page size and creation-time window.
	SearchRevisions(cursor phabricator.Cursor, order string, limit int, window phabricator.Window) (*phabricator.RevisionPage, error)

	// SearchTransactions fetches one page of the transaction history of the
	// object identified by objectPHID.
	SearchTransactions(objectPHID string, cursor phabricator.Cursor) (*phabricator.TransactionPage, error)
}

// SnapshotWriter is the artifact sink for fetched pages. The production
// implementation is storage.Manager.
type SnapshotWriter interface {
	SaveRevisionPage(firstID, lastID int, raw []byte) (string, error)
	SaveTransactionPage(revisionID, pageIndex int, raw []byte) (string, error)
	TargetDir() string
	RevisionPageCount() int
	TransactionPageCount() int
}

// CheckpointStore holds the resumable state of a run for one target. The
// production implementation is checkpoint.Manager.
type CheckpointStore interface {
	Exists() bool
	Load() (*checkpoint.Checkpoint, error)
	Create(target string, latestKnownID int) (*checkpoint.Checkpoint, error)
	UpdateProgress(cp *checkpoint.Checkpoint, cursorToken string, firstID, lastSeenID, pages int) error
	Delete() error
}
