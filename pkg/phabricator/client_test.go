package phabricator

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "phabry/pkg/errors"
	"phabry/pkg/logger"
)

// mockRoundTripper allows us to intercept HTTP requests
type mockRoundTripper struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

func newResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

// newTestClient creates a Client whose HTTP layer is handled by handler.
func newTestClient(handler func(req *http.Request) (*http.Response, error)) *Client {
	client := NewClient("https://phab.example.com/api/", "api-testtoken", 30*time.Second, logger.NewTestLogger())
	client.httpClient = &http.Client{
		Transport: &mockRoundTripper{handler: handler},
		Timeout:   30 * time.Second,
	}
	return client
}

const revisionPageBody = `{
	"result": {
		"data": [
			{"id": 10, "type": "DREV", "phid": "PHID-DREV-10", "fields": {"title": "First"}},
			{"id": 11, "type": "DREV", "phid": "PHID-DREV-11", "fields": {"title": "Second"}}
		],
		"cursor": {"limit": 2, "after": "11", "before": null}
	},
	"error_code": null,
	"error_info": null
}`

const lastRevisionPageBody = `{
	"result": {
		"data": [
			{"id": 12, "type": "DREV", "phid": "PHID-DREV-12", "fields": {"title": "Last"}}
		],
		"cursor": {"limit": 2, "after": null, "before": "12"}
	},
	"error_code": null,
	"error_info": null
}`

func TestSearchRevisions(t *testing.T) {
	var captured url.Values
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "https://phab.example.com/api/differential.revision.search", req.URL.String())

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		captured, err = url.ParseQuery(string(body))
		require.NoError(t, err)

		return newResponse(http.StatusOK, revisionPageBody), nil
	})

	page, err := client.SearchRevisions(StartCursor(), OrderOldest, 50, Window{})
	require.NoError(t, err)

	// Request form fields
	assert.Equal(t, "api-testtoken", captured.Get("api.token"))
	assert.Equal(t, "oldest", captured.Get("order"))
	assert.Equal(t, "", captured.Get("after"))
	assert.Equal(t, "50", captured.Get("limit"))
	assert.Equal(t, "1", captured.Get("attachments[subscribers]"))
	assert.Equal(t, "1", captured.Get("attachments[reviewers]"))
	assert.Equal(t, "1", captured.Get("attachments[projects]"))
	assert.False(t, captured.Has("constraints[createdStart]"))
	assert.False(t, captured.Has("constraints[createdEnd]"))

	// Decoded page
	require.Len(t, page.Records, 2)
	assert.Equal(t, 10, page.Records[0].ID)
	assert.Equal(t, "PHID-DREV-11", page.Records[1].PHID)
	assert.False(t, page.Next.Exhausted())
	assert.Equal(t, "11", page.Next.Token())
	assert.JSONEq(t, revisionPageBody, string(page.Raw))
}

func TestSearchRevisionsWindow(t *testing.T) {
	var captured url.Values
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		captured, _ = url.ParseQuery(string(body))
		return newResponse(http.StatusOK, lastRevisionPageBody), nil
	})

	start := int64(1577836800)
	end := int64(1609459199)
	_, err := client.SearchRevisions(TokenCursor("11"), OrderOldest, 100, Window{Start: &start, End: &end})
	require.NoError(t, err)

	assert.Equal(t, "11", captured.Get("after"))
	assert.Equal(t, "1577836800", captured.Get("constraints[createdStart]"))
	assert.Equal(t, "1609459199", captured.Get("constraints[createdEnd]"))
}

func TestSearchRevisionsLastPage(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, lastRevisionPageBody), nil
	})

	page, err := client.SearchRevisions(TokenCursor("11"), OrderOldest, 100, Window{})
	require.NoError(t, err)

	require.Len(t, page.Records, 1)
	assert.True(t, page.Next.Exhausted())
}

func TestSearchRevisionsNetworkError(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := client.SearchRevisions(StartCursor(), OrderOldest, 100, Window{})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindTransport, apierrors.KindOf(err))
}

func TestSearchRevisionsHTTPError(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusBadGateway, "upstream down"), nil
	})

	_, err := client.SearchRevisions(StartCursor(), OrderOldest, 100, Window{})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindTransport, apierrors.KindOf(err))

	var tagged *apierrors.Error
	require.True(t, errors.As(err, &tagged))
	assert.Equal(t, http.StatusBadGateway, tagged.Code)
}

func TestSearchRevisionsDecodeError(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, "<html>not json</html>"), nil
	})

	_, err := client.SearchRevisions(StartCursor(), OrderOldest, 100, Window{})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindDecode, apierrors.KindOf(err))
}

func TestSearchRevisionsRemoteRejection(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{
			"result": null,
			"error_code": "ERR-INVALID-AUTH",
			"error_info": "API token is not valid"
		}`), nil
	})

	_, err := client.SearchRevisions(StartCursor(), OrderOldest, 100, Window{})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindRemoteRejected, apierrors.KindOf(err))
	assert.Contains(t, err.Error(), "ERR-INVALID-AUTH")
}

func TestSearchTransactions(t *testing.T) {
	var captured url.Values
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "https://phab.example.com/api/transaction.search", req.URL.String())

		body, _ := io.ReadAll(req.Body)
		captured, _ = url.ParseQuery(string(body))

		return newResponse(http.StatusOK, `{
			"result": {
				"data": [
					{"id": 201, "phid": "PHID-XACT-201", "type": "comment", "objectPHID": "PHID-DREV-10"},
					{"id": 202, "phid": "PHID-XACT-202", "type": "accept", "objectPHID": "PHID-DREV-10"}
				],
				"cursor": {"limit": 100, "after": null, "before": null}
			},
			"error_code": null,
			"error_info": null
		}`), nil
	})

	page, err := client.SearchTransactions("PHID-DREV-10", StartCursor())
	require.NoError(t, err)

	assert.Equal(t, "PHID-DREV-10", captured.Get("objectIdentifier"))
	assert.Equal(t, "", captured.Get("after"))
	// The transaction search runs on the server's default page size.
	assert.False(t, captured.Has("limit"))

	require.Len(t, page.Records, 2)
	assert.Equal(t, "PHID-DREV-10", page.Records[0].ObjectPHID)
	assert.True(t, page.Next.Exhausted())
}

func TestSearchTransactionsPaged(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{
			"result": {
				"data": [{"id": 203, "phid": "PHID-XACT-203", "type": "comment", "objectPHID": "PHID-DREV-10"}],
				"cursor": {"limit": 100, "after": "203", "before": null}
			},
			"error_code": null,
			"error_info": null
		}`), nil
	})

	page, err := client.SearchTransactions("PHID-DREV-10", TokenCursor("202"))
	require.NoError(t, err)

	assert.False(t, page.Next.Exhausted())
	assert.Equal(t, "203", page.Next.Token())
}

func TestSearchTransactionsRemoteRejection(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{
			"result": null,
			"error_code": "ERR-CONDUIT-CORE",
			"error_info": "Monogram does not identify a valid object"
		}`), nil
	})

	_, err := client.SearchTransactions("PHID-DREV-404", StartCursor())
	require.Error(t, err)
	assert.Equal(t, apierrors.KindRemoteRejected, apierrors.KindOf(err))
}
