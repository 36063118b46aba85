package phabricator

import "strings"

const (
	// RevisionSearchMethod is the Conduit method for paged revision searches.
	RevisionSearchMethod = "differential.revision.search"

	// TransactionSearchMethod is the Conduit method for paged transaction
	// searches against one object identifier.
	TransactionSearchMethod = "transaction.search"

	// OrderOldest walks a search oldest-first; OrderNewest newest-first.
	OrderOldest = "oldest"
	OrderNewest = "newest"

	// MaxPageSize is the largest page Conduit will return per request.
	MaxPageSize = 100

	// DefaultPageSize is the revision page size used by the main loop.
	DefaultPageSize = 100
)

// MethodURL joins the API base URL and a Conduit method name.
func MethodURL(baseURL, method string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + method
}

// ClampPageSize bounds a requested page size to what Conduit accepts.
func ClampPageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
