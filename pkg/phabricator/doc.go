// Package phabricator provides a client for the Conduit HTTP API of a
// Phabricator instance.
//
// This package includes:
//   - A form-encoded HTTP client for the two search methods phabry consumes,
//     differential.revision.search and transaction.search
//   - A tagged Cursor type (start / token / exhausted) instantiated per
//     pagination context so revision and transaction cursors never alias
//   - Envelope models that keep record fields raw, since snapshot artifacts
//     persist response payloads byte for byte
//
// Failures are tagged with their origin using the pkg/errors taxonomy: a
// network or non-2xx failure is a transport error, an unparseable body is a
// decode error, and a well-formed envelope with a non-null error_code is a
// remote rejection. The client never retries and never classifies severity;
// both belong to the fetcher.
package phabricator
