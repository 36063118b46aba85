package phabricator

import "encoding/json"

// Revision is one code-review object from differential.revision.search. The
// numeric ID is assigned monotonically by the remote system and is used for
// ordering and artifact naming; the PHID is the stable identity used to
// address the transaction search. Fields and attachments stay raw because
// snapshot artifacts persist the response payload unmodified.
type Revision struct {
	ID          int             `json:"id"`
	Type        string          `json:"type"`
	PHID        string          `json:"phid"`
	Fields      json.RawMessage `json:"fields"`
	Attachments json.RawMessage `json:"attachments"`
}

// Transaction is one change event from transaction.search, belonging to
// exactly one revision's history.
type Transaction struct {
	ID         int             `json:"id"`
	PHID       string          `json:"phid"`
	Type       string          `json:"type"`
	ObjectPHID string          `json:"objectPHID"`
	Fields     json.RawMessage `json:"fields"`
}

// resultCursor is the cursor block of a Conduit search result.
type resultCursor struct {
	Limit  int     `json:"limit"`
	After  *string `json:"after"`
	Before *string `json:"before"`
}

// revisionSearchResponse is the Conduit envelope for revision searches.
// error_code is non-null when the API rejects an otherwise well-formed
// request.
type revisionSearchResponse struct {
	Result *struct {
		Data   []Revision   `json:"data"`
		Cursor resultCursor `json:"cursor"`
	} `json:"result"`
	ErrorCode *string `json:"error_code"`
	ErrorInfo string  `json:"error_info"`
}

// transactionSearchResponse is the Conduit envelope for transaction searches.
type transactionSearchResponse struct {
	Result *struct {
		Data   []Transaction `json:"data"`
		Cursor resultCursor  `json:"cursor"`
	} `json:"result"`
	ErrorCode *string `json:"error_code"`
	ErrorInfo string  `json:"error_info"`
}

// RevisionPage is one fetched page of revisions. Raw is the exact response
// body, persisted unmodified by the snapshot writer. Next addresses the
// following page and is Exhausted on the last one.
type RevisionPage struct {
	Records []Revision
	Next    Cursor
	Raw     []byte
}

// TransactionPage is one fetched page of a single revision's transactions.
type TransactionPage struct {
	Records []Transaction
	Next    Cursor
	Raw     []byte
}

// Window is the inclusive creation-time range revisions are filtered by.
// Nil bounds are unbounded; both bounds are epoch seconds. Immutable for a
// run.
type Window struct {
	Start *int64
	End   *int64
}

// Unbounded reports whether the window constrains nothing.
func (w Window) Unbounded() bool {
	return w.Start == nil && w.End == nil
}
