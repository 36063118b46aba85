package fetcher

import (
	"fmt"
	"time"

	"phabry/pkg/checkpoint"
	"phabry/pkg/config"
	apierrors "phabry/pkg/errors"
	"phabry/pkg/logger"
	"phabry/pkg/phabricator"
	"phabry/pkg/progress"
	"phabry/pkg/ratelimit"
	"phabry/pkg/storage"
	"phabry/pkg/ui"
)

// Fetcher drives one mirroring run: probe the newest revision, walk the
// revision search oldest-first page by page, and walk each revision's
// transaction history. Revision-level failures abort the run; transaction
// failures only cost the affected revision its remaining history.
type Fetcher struct {
	client     ConduitClient
	classifier *apierrors.Classifier
	limiter    ratelimit.Limiter
	progress   *ui.FetchProgress
	config     *config.Config
	logger     logger.Logger

	// newWriter defers snapshot directory creation until the probe has
	// succeeded. Overridable in tests, as is newCheckpoint.
	newWriter     func(baseDir, target string) (SnapshotWriter, error)
	newCheckpoint func(target string) (CheckpointStore, error)
}

// New creates a fetcher wired to a live Conduit client.
func New(cfg *config.Config, log logger.Logger) *Fetcher {
	client := phabricator.NewClient(cfg.Phabricator.URL, cfg.Phabricator.Token, cfg.Phabricator.Timeout, log)
	return NewWithClient(cfg, client, log)
}

// NewWithClient creates a fetcher around an existing Conduit client.
func NewWithClient(cfg *config.Config, client ConduitClient, log logger.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		classifier: apierrors.NewClassifier(log),
		limiter:    ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute),
		progress:   ui.NewFetchProgress(),
		config:     cfg,
		logger:     log,
		newWriter: func(baseDir, target string) (SnapshotWriter, error) {
			return storage.NewManager(baseDir, target)
		},
		newCheckpoint: func(target string) (CheckpointStore, error) {
			return checkpoint.NewManager(target, log)
		},
	}
}

// Run executes one mirroring run for the named target. resume continues from
// an existing checkpoint; forceRestart discards one. With neither flag set an
// existing checkpoint is an error, so a stale one is never overwritten
// silently.
func (f *Fetcher) Run(target string, resume, forceRestart bool) error {
	start, end, err := f.config.Fetch.WindowBounds()
	if err != nil {
		return err
	}
	window := phabricator.Window{Start: start, End: end}

	f.logger.InfoWithFields("starting fetch", map[string]interface{}{
		"target":    target,
		"url":       f.config.Phabricator.URL,
		"window":    fmt.Sprintf("%s..%s", orAny(f.config.Fetch.StartDate), orAny(f.config.Fetch.EndDate)),
		"page_size": f.config.Fetch.PageSize,
	})

	checkpointMgr, err := f.newCheckpoint(target)
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint manager: %w", err)
	}

	var cp *checkpoint.Checkpoint
	switch {
	case forceRestart:
		if checkpointMgr.Exists() {
			if err := checkpointMgr.Delete(); err != nil {
				return err
			}
			ui.PrintWarning("Discarded existing checkpoint, starting fresh")
		}
	case resume:
		cp, err = checkpointMgr.Load()
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp == nil {
			ui.PrintInfo("Resume requested", "no checkpoint found, starting fresh")
		}
	case checkpointMgr.Exists():
		return fmt.Errorf("a checkpoint for target %q exists; use --resume to continue or --force-restart to discard it", target)
	}

	// Probe the newest revision before creating anything on disk. A failing
	// probe leaves no trace of the run.
	latestKnownID := 0
	if cp != nil {
		latestKnownID = cp.LatestKnownID
	} else {
		f.limiter.Wait()
		probe, err := f.client.SearchRevisions(phabricator.StartCursor(), phabricator.OrderNewest, 1, phabricator.Window{})
		if err != nil {
			return f.classifier.Fatal(err, "probe for the latest revision")
		}
		if len(probe.Records) > 0 {
			latestKnownID = probe.Records[0].ID
		}
	}

	if latestKnownID == 0 {
		f.logger.Info("remote instance has no revisions, nothing to fetch")
		ui.PrintInfo("Nothing to fetch", "the instance has no revisions")
		return nil
	}

	writer, err := f.newWriter(f.config.Output.BaseDirectory, target)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot directories: %w", err)
	}

	if cp == nil {
		cp, err = checkpointMgr.Create(target, latestKnownID)
		if err != nil {
			// The run can still complete without resumability.
			f.logger.WarnWithFields("continuing without checkpoint", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	cursor := phabricator.StartCursor()
	firstID := 0
	lastSeenID := 0
	pages := 0
	var estimator *progress.Estimator

	if cp != nil && cp.RevisionCursor != "" {
		cursor = phabricator.TokenCursor(cp.RevisionCursor)
		firstID = cp.FirstRevisionID
		lastSeenID = cp.LastSeenRevisionID
		pages = cp.RevisionPages
		estimator = progress.NewEstimator(firstID, latestKnownID)
		estimator.Update(lastSeenID)
		ui.PrintInfo("Resuming", fmt.Sprintf("%d revision pages already fetched", pages))
	}

	for !cursor.Exhausted() {
		f.limiter.Wait()
		page, err := f.client.SearchRevisions(cursor, phabricator.OrderOldest, f.config.Fetch.PageSize, window)
		if err != nil {
			return f.classifier.Fatal(err, fmt.Sprintf("revision page at cursor %s", cursor))
		}

		if len(page.Records) == 0 {
			// Only the final page may be empty, e.g. a window that matches
			// nothing at all.
			break
		}

		pageFirst := page.Records[0].ID
		pageLast := page.Records[len(page.Records)-1].ID
		if firstID == 0 {
			firstID = pageFirst
			estimator = progress.NewEstimator(firstID, latestKnownID)
		}
		lastSeenID = pageLast
		pct := estimator.Update(lastSeenID)

		if _, err := writer.SaveRevisionPage(pageFirst, pageLast, page.Raw); err != nil {
			return f.classifier.Fatal(err, fmt.Sprintf("persisting revision page %d-%d", pageFirst, pageLast))
		}
		pages++
		cursor = page.Next

		f.progress.RevisionPage(pageFirst, pageLast, latestKnownID, pct)
		f.logger.InfoWithFields("revision page persisted", map[string]interface{}{
			"first":    pageFirst,
			"last":     pageLast,
			"records":  len(page.Records),
			"progress": pct,
		})

		for i := range page.Records {
			f.fetchTransactions(writer, &page.Records[i])
		}

		// The exhausted cursor serializes as an empty token, which a later
		// resume would take for an unstarted run. After the final page the
		// checkpoint keeps the last resumable position until it is removed
		// below; refetching that page on resume rewrites the same artifact.
		if cp != nil && !cursor.Exhausted() {
			if err := checkpointMgr.UpdateProgress(cp, cursor.Token(), firstID, lastSeenID, pages); err != nil {
				f.logger.WarnWithFields("failed to update checkpoint", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}

	if cp != nil {
		if err := checkpointMgr.Delete(); err != nil {
			f.logger.WarnWithFields("failed to delete checkpoint", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	f.logger.InfoWithFields("fetch complete", map[string]interface{}{
		"target":            target,
		"revision_pages":    writer.RevisionPageCount(),
		"transaction_pages": writer.TransactionPageCount(),
		"elapsed":           f.progress.Elapsed().Round(time.Second).String(),
	})
	f.progress.Complete(writer.TargetDir())

	return nil
}

// fetchTransactions walks one revision's transaction history. A failure on
// any page is recoverable: it is classified and logged, the revision keeps
// whatever pages were already persisted, and the caller moves on to the next
// revision.
func (f *Fetcher) fetchTransactions(writer SnapshotWriter, rev *phabricator.Revision) {
	cursor := phabricator.StartCursor()
	pageIndex := 0

	for !cursor.Exhausted() {
		f.limiter.Wait()
		page, err := f.client.SearchTransactions(rev.PHID, cursor)
		if err != nil {
			f.classifier.Recoverable(err, fmt.Sprintf("transactions of revision %d at cursor %s", rev.ID, cursor))
			f.progress.PartialRevision(rev.ID)
			return
		}

		if len(page.Records) > 0 || pageIndex == 0 {
			if _, err := writer.SaveTransactionPage(rev.ID, pageIndex, page.Raw); err != nil {
				f.classifier.Recoverable(err, fmt.Sprintf("persisting transactions %d_%d", rev.ID, pageIndex))
				f.progress.PartialRevision(rev.ID)
				return
			}
			f.progress.TransactionPage()
			pageIndex++
		}

		cursor = page.Next
	}

	f.logger.DebugWithFields("transaction history complete", map[string]interface{}{
		"revision": rev.ID,
		"pages":    pageIndex,
	})
}

func orAny(date string) string {
	if date == "" {
		return "any"
	}
	return date
}
