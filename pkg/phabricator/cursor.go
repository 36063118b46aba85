package phabricator

// Cursor is an opaque pagination position inside one pagination context. It
// is one of three things: the start of the context, a token handed back by
// the remote API, or exhausted. Tokens are never interpreted locally, only
// threaded into the next request. Each pagination context (the revision
// search, and each revision's transaction search) owns its own Cursor;
// cursors must never move between contexts.
type Cursor struct {
	token     string
	exhausted bool
}

// StartCursor returns the cursor that addresses the first page of a context.
func StartCursor() Cursor {
	return Cursor{}
}

// TokenCursor returns a cursor holding an opaque continuation token. An
// empty token is the start position.
func TokenCursor(token string) Cursor {
	return Cursor{token: token}
}

// ExhaustedCursor returns the terminal cursor of a context.
func ExhaustedCursor() Cursor {
	return Cursor{exhausted: true}
}

// cursorFromAfter builds the next cursor from a Conduit result envelope,
// where a null "after" means the context is exhausted.
func cursorFromAfter(after *string) Cursor {
	if after == nil {
		return ExhaustedCursor()
	}
	return TokenCursor(*after)
}

// Exhausted reports whether the context has no further pages.
func (c Cursor) Exhausted() bool {
	return c.exhausted
}

// Token returns the opaque token to send as the "after" parameter. It is
// empty at the start position and must not be used once exhausted.
func (c Cursor) Token() string {
	return c.token
}

// String renders the cursor position for log and error messages.
func (c Cursor) String() string {
	switch {
	case c.exhausted:
		return "<exhausted>"
	case c.token == "":
		return "<start>"
	default:
		return c.token
	}
}
