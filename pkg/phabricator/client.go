package phabricator

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"phabry/pkg/errors"
	"phabry/pkg/logger"
)

// Client is the transport adapter for the Conduit API. It performs exactly
// one blocking request at a time and returns either a decoded page or a
// failure tagged with its origin (transport, decode, remote rejection).
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     logger.Logger
}

// NewClient creates a Conduit client for the given API base URL and token.
func NewClient(baseURL, token string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		token:   token,
		logger:  log,
	}
}

// SearchRevisions fetches one page of revisions. The cursor belongs to the
// revision-search context; an empty-token cursor starts from the beginning.
// Window bounds are added as createdStart/createdEnd constraints only when
// set. The returned page's Next cursor is Exhausted on the last page, where
// Records may be empty.
func (c *Client) SearchRevisions(cursor Cursor, order string, limit int, window Window) (*RevisionPage, error) {
	form := url.Values{}
	form.Set("api.token", c.token)
	form.Set("attachments[subscribers]", "1")
	form.Set("attachments[reviewers]", "1")
	form.Set("attachments[projects]", "1")
	form.Set("order", order)
	form.Set("after", cursor.Token())
	form.Set("limit", strconv.Itoa(ClampPageSize(limit)))
	if window.Start != nil {
		form.Set("constraints[createdStart]", strconv.FormatInt(*window.Start, 10))
	}
	if window.End != nil {
		form.Set("constraints[createdEnd]", strconv.FormatInt(*window.End, 10))
	}

	body, err := c.post(RevisionSearchMethod, form)
	if err != nil {
		return nil, err
	}

	var response revisionSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.logger.ErrorWithFields("failed to parse revision search response", map[string]interface{}{
			"method": RevisionSearchMethod,
			"error":  err.Error(),
		})
		return nil, errors.NewDecode("failed to parse revision search response", err)
	}
	if response.ErrorCode != nil {
		return nil, errors.NewRemoteRejected(*response.ErrorCode, response.ErrorInfo)
	}
	if response.Result == nil {
		return nil, errors.NewDecode("revision search response has no result", nil)
	}

	c.logger.DebugWithFields("revision page fetched", map[string]interface{}{
		"method":  RevisionSearchMethod,
		"records": len(response.Result.Data),
		"after":   cursor.String(),
	})

	return &RevisionPage{
		Records: response.Result.Data,
		Next:    cursorFromAfter(response.Result.Cursor.After),
		Raw:     body,
	}, nil
}

// SearchTransactions fetches one page of the given revision's transaction
// history, identified by the revision's PHID. No explicit limit is sent; the
// server default page size applies. The cursor belongs to that revision's
// own transaction-search context.
func (c *Client) SearchTransactions(objectPHID string, cursor Cursor) (*TransactionPage, error) {
	form := url.Values{}
	form.Set("api.token", c.token)
	form.Set("objectIdentifier", objectPHID)
	form.Set("after", cursor.Token())

	body, err := c.post(TransactionSearchMethod, form)
	if err != nil {
		return nil, err
	}

	var response transactionSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		c.logger.ErrorWithFields("failed to parse transaction search response", map[string]interface{}{
			"method": TransactionSearchMethod,
			"object": objectPHID,
			"error":  err.Error(),
		})
		return nil, errors.NewDecode("failed to parse transaction search response", err)
	}
	if response.ErrorCode != nil {
		return nil, errors.NewRemoteRejected(*response.ErrorCode, response.ErrorInfo)
	}
	if response.Result == nil {
		return nil, errors.NewDecode("transaction search response has no result", nil)
	}

	c.logger.DebugWithFields("transaction page fetched", map[string]interface{}{
		"method":  TransactionSearchMethod,
		"object":  objectPHID,
		"records": len(response.Result.Data),
		"after":   cursor.String(),
	})

	return &TransactionPage{
		Records: response.Result.Data,
		Next:    cursorFromAfter(response.Result.Cursor.After),
		Raw:     body,
	}, nil
}

// post performs one form-encoded Conduit request and returns the raw
// response body. Network failures and non-2xx statuses come back tagged as
// transport errors.
func (c *Client) post(method string, form url.Values) ([]byte, error) {
	endpoint := MethodURL(c.baseURL, method)

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &errors.Error{
			Kind:    errors.KindUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Err:     err,
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	c.logger.DebugWithFields("sending Conduit request", map[string]interface{}{
		"method": method,
		"url":    endpoint,
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("Conduit request failed", map[string]interface{}{
			"method":   method,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.NewTransport(fmt.Sprintf("network error: %v", err), 0, err)
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("Conduit request completed", map[string]interface{}{
		"method":   method,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransport(fmt.Sprintf("failed to read response body: %v", err), resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.ErrorWithFields("Conduit returned non-OK status", map[string]interface{}{
			"method": method,
			"status": resp.StatusCode,
		})
		return nil, errors.NewTransport(fmt.Sprintf("unexpected status code %d", resp.StatusCode), resp.StatusCode, nil)
	}

	return body, nil
}
