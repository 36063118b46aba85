package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

const validToken = "api-integrationtesttoken"

// mockRevision is one revision held by the mock Conduit server.
type mockRevision struct {
	ID      int
	PHID    string
	Title   string
	Created int64
	// Transactions is how many change events the revision's history holds.
	Transactions int
}

// mockConduit is an in-memory Phabricator Conduit endpoint. It serves
// differential.revision.search and transaction.search with real cursor
// pagination, so the whole fetch pipeline can run against it unchanged.
type mockConduit struct {
	mu        sync.Mutex
	server    *httptest.Server
	revisions []mockRevision

	// transactionPageSize is the server-side default page size for
	// transaction.search, which takes no limit parameter.
	transactionPageSize int

	// failRevisionCursor makes the revision search return an error envelope
	// when queried with this exact "after" value. Empty string disabled.
	failRevisionCursor   string
	failRevisionsEnabled bool

	// failTransactionsPHID makes transaction.search return HTTP 500 for this
	// object.
	failTransactionsPHID string

	requestCount int
}

func newMockConduit(revisions []mockRevision) *mockConduit {
	m := &mockConduit{
		revisions:           revisions,
		transactionPageSize: 2,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/differential.revision.search", m.handleRevisionSearch)
	mux.HandleFunc("/api/transaction.search", m.handleTransactionSearch)
	m.server = httptest.NewServer(mux)

	return m
}

func (m *mockConduit) Close() {
	m.server.Close()
}

// APIURL returns the Conduit base URL of the mock server.
func (m *mockConduit) APIURL() string {
	return m.server.URL + "/api/"
}

func (m *mockConduit) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

func (m *mockConduit) countRequest() {
	m.mu.Lock()
	m.requestCount++
	m.mu.Unlock()
}

func writeError(w http.ResponseWriter, code, info string) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result":     nil,
		"error_code": code,
		"error_info": info,
	})
}

func (m *mockConduit) checkToken(w http.ResponseWriter, r *http.Request) bool {
	if r.FormValue("api.token") != validToken {
		writeError(w, "ERR-INVALID-AUTH", "API token is not valid")
		return false
	}
	return true
}

func (m *mockConduit) handleRevisionSearch(w http.ResponseWriter, r *http.Request) {
	m.countRequest()

	if !m.checkToken(w, r) {
		return
	}

	after := r.FormValue("after")
	if m.failRevisionsEnabled && after == m.failRevisionCursor {
		writeError(w, "ERR-CONDUIT-CORE", "cursor is invalid")
		return
	}

	limit, err := strconv.Atoi(r.FormValue("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	// Window constraints, both optional
	matches := make([]mockRevision, 0, len(m.revisions))
	for _, rev := range m.revisions {
		if v := r.FormValue("constraints[createdStart]"); v != "" {
			start, _ := strconv.ParseInt(v, 10, 64)
			if rev.Created < start {
				continue
			}
		}
		if v := r.FormValue("constraints[createdEnd]"); v != "" {
			end, _ := strconv.ParseInt(v, 10, 64)
			if rev.Created > end {
				continue
			}
		}
		matches = append(matches, rev)
	}

	if r.FormValue("order") == "newest" {
		reversed := make([]mockRevision, len(matches))
		for i, rev := range matches {
			reversed[len(matches)-1-i] = rev
		}
		matches = reversed
	}

	// The cursor is the ID of the last record of the previous page.
	startIdx := 0
	if after != "" {
		afterID, _ := strconv.Atoi(after)
		for i, rev := range matches {
			if rev.ID == afterID {
				startIdx = i + 1
				break
			}
		}
	}

	endIdx := startIdx + limit
	if endIdx > len(matches) {
		endIdx = len(matches)
	}
	page := matches[startIdx:endIdx]

	data := make([]map[string]interface{}, 0, len(page))
	for _, rev := range page {
		data = append(data, map[string]interface{}{
			"id":   rev.ID,
			"type": "DREV",
			"phid": rev.PHID,
			"fields": map[string]interface{}{
				"title":       rev.Title,
				"dateCreated": rev.Created,
			},
			"attachments": map[string]interface{}{
				"subscribers": map[string]interface{}{"subscriberPHIDs": []string{}},
				"reviewers":   map[string]interface{}{"reviewers": []string{}},
				"projects":    map[string]interface{}{"projectPHIDs": []string{}},
			},
		})
	}

	var nextAfter interface{}
	if endIdx < len(matches) && len(page) > 0 {
		nextAfter = strconv.Itoa(page[len(page)-1].ID)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"result": map[string]interface{}{
			"data": data,
			"cursor": map[string]interface{}{
				"limit":  limit,
				"after":  nextAfter,
				"before": nil,
			},
		},
		"error_code": nil,
		"error_info": nil,
	})
}

func (m *mockConduit) handleTransactionSearch(w http.ResponseWriter, r *http.Request) {
	m.countRequest()

	if !m.checkToken(w, r) {
		return
	}

	phid := r.FormValue("objectIdentifier")
	if phid == m.failTransactionsPHID {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var rev *mockRevision
	for i := range m.revisions {
		if m.revisions[i].PHID == phid {
			rev = &m.revisions[i]
			break
		}
	}
	if rev == nil {
		writeError(w, "ERR-CONDUIT-CORE", "Monogram does not identify a valid object")
		return
	}

	startIdx := 0
	if after := r.FormValue("after"); after != "" {
		startIdx, _ = strconv.Atoi(after)
	}

	endIdx := startIdx + m.transactionPageSize
	if endIdx > rev.Transactions {
		endIdx = rev.Transactions
	}

	data := make([]map[string]interface{}, 0, endIdx-startIdx)
	for i := startIdx; i < endIdx; i++ {
		data = append(data, map[string]interface{}{
			"id":         rev.ID*1000 + i,
			"phid":       fmt.Sprintf("PHID-XACT-%d-%d", rev.ID, i),
			"type":       "comment",
			"objectPHID": rev.PHID,
			"fields":     map[string]interface{}{},
		})
	}

	var nextAfter interface{}
	if endIdx < rev.Transactions {
		nextAfter = strconv.Itoa(endIdx)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"result": map[string]interface{}{
			"data": data,
			"cursor": map[string]interface{}{
				"limit":  m.transactionPageSize,
				"after":  nextAfter,
				"before": nil,
			},
		},
		"error_code": nil,
		"error_info": nil,
	})
}
