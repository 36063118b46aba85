// Package fetcher orchestrates a mirroring run against a Phabricator
// instance: one probe for the newest revision ID, an oldest-first walk over
// the revision search, and a nested walk over each revision's transaction
// history. Each pagination context owns its own cursor.
//
// Failure handling is asymmetric on purpose. The probe and the revision walk
// are load-bearing: any failure there is classified fatal and aborts the run
// with the failing operation and cursor position in the error. A revision's
// transaction walk is self-contained: a failure there is classified
// recoverable, the revision is reported as partial, and the run continues
// with the next revision. Nothing is ever retried silently.
package fetcher
