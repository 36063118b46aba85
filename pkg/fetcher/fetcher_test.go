package fetcher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phabry/pkg/checkpoint"
	"phabry/pkg/config"
	apierrors "phabry/pkg/errors"
	"phabry/pkg/logger"
	"phabry/pkg/phabricator"
	"phabry/pkg/ui"
)

// nopLimiter lets every request through immediately.
type nopLimiter struct{}

func (nopLimiter) Allow() bool { return true }
func (nopLimiter) Wait()       {}
func (nopLimiter) Reset()      {}

type pageResult struct {
	page *phabricator.RevisionPage
	err  error
}

type txnResult struct {
	page *phabricator.TransactionPage
	err  error
}

// fakeClient scripts Conduit responses. Revision pages are keyed by the
// cursor token they are requested with, transaction pages by
// "<phid>|<token>".
type fakeClient struct {
	probe pageResult
	pages map[string]pageResult
	txns  map[string]txnResult

	probeCalls      int
	revisionCursors []string
}

func (f *fakeClient) SearchRevisions(cursor phabricator.Cursor, order string, limit int, window phabricator.Window) (*phabricator.RevisionPage, error) {
	if order == phabricator.OrderNewest {
		f.probeCalls++
		return f.probe.page, f.probe.err
	}

	f.revisionCursors = append(f.revisionCursors, cursor.Token())
	r, ok := f.pages[cursor.Token()]
	if !ok {
		return nil, fmt.Errorf("unexpected revision cursor %q", cursor.Token())
	}
	return r.page, r.err
}

func (f *fakeClient) SearchTransactions(objectPHID string, cursor phabricator.Cursor) (*phabricator.TransactionPage, error) {
	r, ok := f.txns[objectPHID+"|"+cursor.Token()]
	if !ok {
		// Unscripted revisions have an empty, single-page history.
		return &phabricator.TransactionPage{Next: phabricator.ExhaustedCursor(), Raw: []byte(`{}`)}, nil
	}
	return r.page, r.err
}

type fakeWriter struct {
	revisionPages    []string
	transactionPages []string
	failRevisionSave bool
}

func (w *fakeWriter) SaveRevisionPage(firstID, lastID int, raw []byte) (string, error) {
	if w.failRevisionSave {
		return "", errors.New("disk full")
	}
	name := fmt.Sprintf("%d-%d", firstID, lastID)
	w.revisionPages = append(w.revisionPages, name)
	return name, nil
}

func (w *fakeWriter) SaveTransactionPage(revisionID, pageIndex int, raw []byte) (string, error) {
	name := fmt.Sprintf("%d_%d", revisionID, pageIndex)
	w.transactionPages = append(w.transactionPages, name)
	return name, nil
}

func (w *fakeWriter) TargetDir() string         { return "/fake/target" }
func (w *fakeWriter) RevisionPageCount() int    { return len(w.revisionPages) }
func (w *fakeWriter) TransactionPageCount() int { return len(w.transactionPages) }

// recordingCheckpointStore captures the cursor tokens a run persists while
// delegating to the real checkpoint manager.
type recordingCheckpointStore struct {
	*checkpoint.Manager
	tokens []string
}

func (r *recordingCheckpointStore) UpdateProgress(cp *checkpoint.Checkpoint, cursorToken string, firstID, lastSeenID, pages int) error {
	r.tokens = append(r.tokens, cursorToken)
	return r.Manager.UpdateProgress(cp, cursorToken, firstID, lastSeenID, pages)
}

func revisions(ids ...int) []phabricator.Revision {
	out := make([]phabricator.Revision, len(ids))
	for i, id := range ids {
		out[i] = phabricator.Revision{
			ID:   id,
			Type: "DREV",
			PHID: fmt.Sprintf("PHID-DREV-%d", id),
		}
	}
	return out
}

func revPage(next phabricator.Cursor, ids ...int) *phabricator.RevisionPage {
	return &phabricator.RevisionPage{
		Records: revisions(ids...),
		Next:    next,
		Raw:     []byte(fmt.Sprintf(`{"page_of": %d}`, len(ids))),
	}
}

func probeResult(latestID int) pageResult {
	return pageResult{page: revPage(phabricator.TokenCursor("probe"), latestID)}
}

// newTestFetcher wires a fetcher to fakes and an isolated checkpoint
// directory. The returned counter reports how often the snapshot writer was
// constructed.
func newTestFetcher(t *testing.T, client ConduitClient, writer *fakeWriter) (*Fetcher, *logger.TestLogger, *int) {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	ui.SetQuietMode(true)
	t.Cleanup(func() { ui.SetQuietMode(false) })

	cfg := config.DefaultConfig()
	cfg.Phabricator.URL = "https://phab.example.com/api/"
	cfg.Phabricator.Token = "api-testtoken"
	cfg.Fetch.PageSize = 2

	log := logger.NewTestLogger()
	f := NewWithClient(cfg, client, log)
	f.limiter = nopLimiter{}

	writerCalls := new(int)
	f.newWriter = func(baseDir, target string) (SnapshotWriter, error) {
		*writerCalls++
		return writer, nil
	}

	return f, log, writerCalls
}

func TestRunFetchesAllPages(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(14),
		pages: map[string]pageResult{
			"":   {page: revPage(phabricator.TokenCursor("11"), 10, 11)},
			"11": {page: revPage(phabricator.TokenCursor("13"), 12, 13)},
			"13": {page: revPage(phabricator.ExhaustedCursor(), 14)},
		},
		txns: map[string]txnResult{},
	}
	writer := &fakeWriter{}
	f, _, _ := newTestFetcher(t, client, writer)

	err := f.Run("myproject", false, false)
	require.NoError(t, err)

	assert.Equal(t, 1, client.probeCalls)
	assert.Equal(t, []string{"", "11", "13"}, client.revisionCursors)
	assert.Equal(t, []string{"10-11", "12-13", "14-14"}, writer.revisionPages)

	// Every revision got its (empty) transaction history persisted.
	assert.Len(t, writer.transactionPages, 5)
	assert.Contains(t, writer.transactionPages, "10_0")
	assert.Contains(t, writer.transactionPages, "14_0")
}

func TestRunDeletesCheckpointOnSuccess(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(11),
		pages: map[string]pageResult{
			"": {page: revPage(phabricator.ExhaustedCursor(), 10, 11)},
		},
	}
	f, log, _ := newTestFetcher(t, client, &fakeWriter{})

	require.NoError(t, f.Run("myproject", false, false))

	mgr, err := checkpoint.NewManager("myproject", log)
	require.NoError(t, err)
	assert.False(t, mgr.Exists())
}

func TestRunCheckpointKeepsResumablePosition(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(14),
		pages: map[string]pageResult{
			"":   {page: revPage(phabricator.TokenCursor("11"), 10, 11)},
			"11": {page: revPage(phabricator.TokenCursor("13"), 12, 13)},
			"13": {page: revPage(phabricator.ExhaustedCursor(), 14)},
		},
	}
	writer := &fakeWriter{}
	f, log, _ := newTestFetcher(t, client, writer)

	var rec *recordingCheckpointStore
	f.newCheckpoint = func(target string) (CheckpointStore, error) {
		mgr, err := checkpoint.NewManager(target, log)
		if err != nil {
			return nil, err
		}
		rec = &recordingCheckpointStore{Manager: mgr}
		return rec, nil
	}

	require.NoError(t, f.Run("myproject", false, false))

	// The final page ends the run, so its exhausted cursor is never written
	// out. An interruption between the last page and the checkpoint removal
	// then resumes at the last stored position instead of starting over.
	assert.Equal(t, []string{"11", "13"}, rec.tokens)
	assert.NotContains(t, rec.tokens, "")
	assert.False(t, rec.Exists())
}

func TestRunProbeFailureCreatesNothing(t *testing.T) {
	client := &fakeClient{
		probe: pageResult{err: apierrors.NewTransport("connection refused", 0, nil)},
	}
	writer := &fakeWriter{}
	f, log, writerCalls := newTestFetcher(t, client, writer)

	err := f.Run("myproject", false, false)
	require.Error(t, err)

	assert.True(t, apierrors.IsFatal(err))
	assert.Equal(t, apierrors.KindTransport, apierrors.KindOf(err))
	assert.Contains(t, err.Error(), "probe")

	// No snapshot directories, no checkpoint.
	assert.Equal(t, 0, *writerCalls)
	mgr, mgrErr := checkpoint.NewManager("myproject", log)
	require.NoError(t, mgrErr)
	assert.False(t, mgr.Exists())
}

func TestRunRevisionPageFailureAborts(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(14),
		pages: map[string]pageResult{
			"":   {page: revPage(phabricator.TokenCursor("11"), 10, 11)},
			"11": {err: apierrors.NewRemoteRejected("ERR-CONDUIT-CORE", "cursor is invalid")},
		},
	}
	writer := &fakeWriter{}
	f, _, _ := newTestFetcher(t, client, writer)

	err := f.Run("myproject", false, false)
	require.Error(t, err)

	assert.True(t, apierrors.IsFatal(err))
	assert.Equal(t, apierrors.KindRemoteRejected, apierrors.KindOf(err))
	// The error names the failing cursor position.
	assert.Contains(t, err.Error(), "11")

	// The page fetched before the failure is kept.
	assert.Equal(t, []string{"10-11"}, writer.revisionPages)
}

func TestRunRevisionSaveFailureAborts(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(11),
		pages: map[string]pageResult{
			"": {page: revPage(phabricator.ExhaustedCursor(), 10, 11)},
		},
	}
	writer := &fakeWriter{failRevisionSave: true}
	f, _, _ := newTestFetcher(t, client, writer)

	err := f.Run("myproject", false, false)
	require.Error(t, err)
	assert.True(t, apierrors.IsFatal(err))
}

func TestTransactionFailureIsIsolated(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(11),
		pages: map[string]pageResult{
			"": {page: revPage(phabricator.ExhaustedCursor(), 10, 11)},
		},
		txns: map[string]txnResult{
			"PHID-DREV-10|": {err: apierrors.NewTransport("connection reset", 0, nil)},
		},
	}
	writer := &fakeWriter{}
	f, log, _ := newTestFetcher(t, client, writer)

	// The failing history costs revision 10 its transactions, nothing else.
	err := f.Run("myproject", false, false)
	require.NoError(t, err)

	assert.NotContains(t, writer.transactionPages, "10_0")
	assert.Contains(t, writer.transactionPages, "11_0")
	assert.Equal(t, 1, log.CountLevel("warn"))
}

func TestTransactionHistorySpansPages(t *testing.T) {
	txnPage := func(next phabricator.Cursor, ids ...int) *phabricator.TransactionPage {
		records := make([]phabricator.Transaction, len(ids))
		for i, id := range ids {
			records[i] = phabricator.Transaction{ID: id, ObjectPHID: "PHID-DREV-10"}
		}
		return &phabricator.TransactionPage{Records: records, Next: next, Raw: []byte(`{}`)}
	}

	client := &fakeClient{
		probe: probeResult(10),
		pages: map[string]pageResult{
			"": {page: revPage(phabricator.ExhaustedCursor(), 10)},
		},
		txns: map[string]txnResult{
			"PHID-DREV-10|":    {page: txnPage(phabricator.TokenCursor("202"), 201, 202)},
			"PHID-DREV-10|202": {page: txnPage(phabricator.ExhaustedCursor(), 203)},
		},
	}
	writer := &fakeWriter{}
	f, _, _ := newTestFetcher(t, client, writer)

	require.NoError(t, f.Run("myproject", false, false))

	assert.Equal(t, []string{"10_0", "10_1"}, writer.transactionPages)
}

func TestTransactionFailureOnLaterPage(t *testing.T) {
	// The first history page of revision 555 persists before the second one
	// fails; revision 556 is unaffected.
	firstPage := &phabricator.TransactionPage{
		Records: []phabricator.Transaction{{ID: 1, ObjectPHID: "PHID-DREV-555"}},
		Next:    phabricator.TokenCursor("1"),
		Raw:     []byte(`{}`),
	}

	client := &fakeClient{
		probe: probeResult(556),
		pages: map[string]pageResult{
			"": {page: revPage(phabricator.ExhaustedCursor(), 555, 556)},
		},
		txns: map[string]txnResult{
			"PHID-DREV-555|":  {page: firstPage},
			"PHID-DREV-555|1": {err: apierrors.NewTransport("connection reset", 0, nil)},
		},
	}
	writer := &fakeWriter{}
	f, _, _ := newTestFetcher(t, client, writer)

	require.NoError(t, f.Run("myproject", false, false))

	assert.Contains(t, writer.transactionPages, "555_0")
	assert.NotContains(t, writer.transactionPages, "555_1")
	assert.Contains(t, writer.transactionPages, "556_0")
}

func TestRunEmptyInstance(t *testing.T) {
	client := &fakeClient{
		probe: pageResult{page: &phabricator.RevisionPage{Next: phabricator.ExhaustedCursor(), Raw: []byte(`{}`)}},
	}
	writer := &fakeWriter{}
	f, _, writerCalls := newTestFetcher(t, client, writer)

	err := f.Run("myproject", false, false)
	require.NoError(t, err)
	assert.Equal(t, 0, *writerCalls)
}

func TestRunEmptyWindow(t *testing.T) {
	// The instance has revisions but none fall inside the window: the first
	// page comes back empty and the run ends cleanly.
	client := &fakeClient{
		probe: probeResult(500),
		pages: map[string]pageResult{
			"": {page: &phabricator.RevisionPage{Next: phabricator.ExhaustedCursor(), Raw: []byte(`{}`)}},
		},
	}
	writer := &fakeWriter{}
	f, _, _ := newTestFetcher(t, client, writer)
	f.config.Fetch.StartDate = "01-01-2020"
	f.config.Fetch.EndDate = "02-01-2020"

	err := f.Run("myproject", false, false)
	require.NoError(t, err)
	assert.Empty(t, writer.revisionPages)
	assert.Empty(t, writer.transactionPages)
}

func TestRunRefusesStaleCheckpoint(t *testing.T) {
	client := &fakeClient{probe: probeResult(11)}
	f, log, _ := newTestFetcher(t, client, &fakeWriter{})

	mgr, err := checkpoint.NewManager("myproject", log)
	require.NoError(t, err)
	_, err = mgr.Create("myproject", 100)
	require.NoError(t, err)

	err = f.Run("myproject", false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--resume")

	// The probe never ran and the checkpoint survived.
	assert.Equal(t, 0, client.probeCalls)
	assert.True(t, mgr.Exists())
}

func TestRunResume(t *testing.T) {
	client := &fakeClient{
		pages: map[string]pageResult{
			"13": {page: revPage(phabricator.ExhaustedCursor(), 14, 15)},
		},
	}
	writer := &fakeWriter{}
	f, log, _ := newTestFetcher(t, client, writer)

	mgr, err := checkpoint.NewManager("myproject", log)
	require.NoError(t, err)
	cp, err := mgr.Create("myproject", 15)
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateProgress(cp, "13", 10, 13, 2))

	require.NoError(t, f.Run("myproject", true, false))

	// No second probe; the walk continues exactly at the stored cursor.
	assert.Equal(t, 0, client.probeCalls)
	assert.Equal(t, []string{"13"}, client.revisionCursors)
	assert.Equal(t, []string{"14-15"}, writer.revisionPages)
	assert.False(t, mgr.Exists())
}

func TestRunForceRestart(t *testing.T) {
	client := &fakeClient{
		probe: probeResult(11),
		pages: map[string]pageResult{
			"": {page: revPage(phabricator.ExhaustedCursor(), 10, 11)},
		},
	}
	writer := &fakeWriter{}
	f, log, _ := newTestFetcher(t, client, writer)

	mgr, err := checkpoint.NewManager("myproject", log)
	require.NoError(t, err)
	cp, err := mgr.Create("myproject", 15)
	require.NoError(t, err)
	require.NoError(t, mgr.UpdateProgress(cp, "13", 10, 13, 2))

	require.NoError(t, f.Run("myproject", false, true))

	// The stored cursor is discarded and the walk starts over.
	assert.Equal(t, 1, client.probeCalls)
	assert.Equal(t, []string{""}, client.revisionCursors)
	assert.Equal(t, []string{"10-11"}, writer.revisionPages)
}
