// Package storage persists fetched pages as immutable JSON snapshot
// artifacts under a per-target directory:
//
//	<basedir>/<target>/revisions/{firstID}-{lastID}.json
//	<basedir>/<target>/transactions/{revisionID}_{pageIndex}.json
//
// Writes are atomic (temp file plus rename) and append-only: a later page
// adds a new file, it never rewrites an earlier one.
package storage
