// Package checkpoint persists resumable fetch state per target under the
// OS data directory (XDG_DATA_HOME/phabry on Linux). A checkpoint records
// the revision cursor of the next unfetched page together with the ID
// bookkeeping the progress display needs, is updated atomically after every
// persisted revision page, and is deleted when a run completes.
package checkpoint
