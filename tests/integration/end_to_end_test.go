package integration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phabry/pkg/config"
	apierrors "phabry/pkg/errors"
	"phabry/pkg/fetcher"
	"phabry/pkg/logger"
	"phabry/pkg/ui"
)

// testRevisions builds n revisions with IDs 1..n, created one day apart
// starting at base.
func testRevisions(n int, base time.Time, transactionsEach int) []mockRevision {
	revisions := make([]mockRevision, n)
	for i := 0; i < n; i++ {
		revisions[i] = mockRevision{
			ID:           i + 1,
			PHID:         revisionPHID(i + 1),
			Title:        fmt.Sprintf("Change number %d", i+1),
			Created:      base.AddDate(0, 0, i).Unix(),
			Transactions: transactionsEach,
		}
	}
	return revisions
}

func revisionPHID(id int) string {
	return fmt.Sprintf("PHID-DREV-%04d", id)
}

func newTestConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	ui.SetQuietMode(true)
	t.Cleanup(func() { ui.SetQuietMode(false) })

	cfg := config.DefaultConfig()
	cfg.Phabricator.URL = apiURL
	cfg.Phabricator.Token = validToken
	cfg.Phabricator.Timeout = 10 * time.Second
	cfg.Fetch.PageSize = 2
	cfg.RateLimit.RequestsPerMinute = 10000
	cfg.Output.BaseDirectory = t.TempDir()
	require.NoError(t, cfg.Validate())

	return cfg
}

func runFetch(t *testing.T, cfg *config.Config, target string, resume, forceRestart bool) error {
	t.Helper()
	log := logger.NewTestLogger()
	return fetcher.New(cfg, log).Run(target, resume, forceRestart)
}

func TestFullMirror(t *testing.T) {
	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockConduit(testRevisions(5, base, 3))
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())

	require.NoError(t, runFetch(t, cfg, "myproject", false, false))

	targetDir := filepath.Join(cfg.Output.BaseDirectory, "myproject")

	// Revision pages, oldest first, two revisions per page.
	for _, name := range []string{"1-2.json", "3-4.json", "5-5.json"} {
		assert.FileExists(t, filepath.Join(targetDir, "revisions", name))
	}

	// Each revision has 3 transactions served 2 per page, so 2 files each.
	for id := 1; id <= 5; id++ {
		assert.FileExists(t, filepath.Join(targetDir, "transactions", transactionFile(id, 0)))
		assert.FileExists(t, filepath.Join(targetDir, "transactions", transactionFile(id, 1)))
	}

	// Artifacts are the verbatim Conduit envelopes.
	data, err := os.ReadFile(filepath.Join(targetDir, "revisions", "1-2.json"))
	require.NoError(t, err)

	var envelope struct {
		Result struct {
			Data []struct {
				ID     int `json:"id"`
				Fields struct {
					Title string `json:"title"`
				} `json:"fields"`
			} `json:"data"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Len(t, envelope.Result.Data, 2)
	assert.Equal(t, 1, envelope.Result.Data[0].ID)
	assert.NotEmpty(t, envelope.Result.Data[0].Fields.Title)
}

func transactionFile(revisionID, pageIndex int) string {
	return fmt.Sprintf("%d_%d.json", revisionID, pageIndex)
}

func TestInvalidTokenLeavesNoTrace(t *testing.T) {
	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockConduit(testRevisions(3, base, 1))
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())
	cfg.Phabricator.Token = "api-wrongtoken"

	err := runFetch(t, cfg, "myproject", false, false)
	require.Error(t, err)
	assert.True(t, apierrors.IsFatal(err))
	assert.Equal(t, apierrors.KindRemoteRejected, apierrors.KindOf(err))

	// The failed probe must not have created the target directory.
	assert.NoDirExists(t, filepath.Join(cfg.Output.BaseDirectory, "myproject"))
}

func TestWindowedMirror(t *testing.T) {
	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockConduit(testRevisions(6, base, 1))
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())
	// Bounds are midnights, so this window holds the revisions created at
	// noon on the 3rd and the 4th.
	cfg.Fetch.StartDate = "03-03-2021"
	cfg.Fetch.EndDate = "05-03-2021"

	require.NoError(t, runFetch(t, cfg, "windowed", false, false))

	revDir := filepath.Join(cfg.Output.BaseDirectory, "windowed", "revisions")
	assert.FileExists(t, filepath.Join(revDir, "3-4.json"))

	entries, err := os.ReadDir(revDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTransactionFailureKeepsRunAlive(t *testing.T) {
	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockConduit(testRevisions(3, base, 1))
	mock.failTransactionsPHID = revisionPHID(2)
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())

	require.NoError(t, runFetch(t, cfg, "partial", false, false))

	txnDir := filepath.Join(cfg.Output.BaseDirectory, "partial", "transactions")
	assert.FileExists(t, filepath.Join(txnDir, "1_0.json"))
	assert.NoFileExists(t, filepath.Join(txnDir, "2_0.json"))
	assert.FileExists(t, filepath.Join(txnDir, "3_0.json"))

	// All three revisions were still mirrored.
	revDir := filepath.Join(cfg.Output.BaseDirectory, "partial", "revisions")
	assert.FileExists(t, filepath.Join(revDir, "1-2.json"))
	assert.FileExists(t, filepath.Join(revDir, "3-3.json"))
}

func TestRevisionPageFailureAbortsButKeepsProgress(t *testing.T) {
	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockConduit(testRevisions(6, base, 1))
	mock.failRevisionsEnabled = true
	mock.failRevisionCursor = "2"
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())

	err := runFetch(t, cfg, "aborted", false, false)
	require.Error(t, err)
	assert.True(t, apierrors.IsFatal(err))

	// The first page survived; nothing after the failure was written.
	revDir := filepath.Join(cfg.Output.BaseDirectory, "aborted", "revisions")
	assert.FileExists(t, filepath.Join(revDir, "1-2.json"))
	assert.NoFileExists(t, filepath.Join(revDir, "3-4.json"))
}

func TestResumeAfterAbort(t *testing.T) {
	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := newMockConduit(testRevisions(6, base, 1))
	mock.failRevisionsEnabled = true
	mock.failRevisionCursor = "2"
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())

	require.Error(t, runFetch(t, cfg, "resumed", false, false))

	// A second run without flags refuses to touch the interrupted state.
	err := runFetch(t, cfg, "resumed", false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--resume")

	// After the failure clears, resume picks up at the stored cursor.
	mock.failRevisionsEnabled = false
	require.NoError(t, runFetch(t, cfg, "resumed", true, false))

	revDir := filepath.Join(cfg.Output.BaseDirectory, "resumed", "revisions")
	for _, name := range []string{"1-2.json", "3-4.json", "5-6.json"} {
		assert.FileExists(t, filepath.Join(revDir, name))
	}
}

func TestEmptyInstance(t *testing.T) {
	mock := newMockConduit(nil)
	defer mock.Close()

	cfg := newTestConfig(t, mock.APIURL())

	require.NoError(t, runFetch(t, cfg, "empty", false, false))
	assert.NoDirExists(t, filepath.Join(cfg.Output.BaseDirectory, "empty"))
}
