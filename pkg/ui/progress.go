package ui

import (
	"fmt"
	"time"
)

// FetchProgress renders the running single-line progress indicator for a
// fetch and keeps the counters for the final summary.
type FetchProgress struct {
	startTime        time.Time
	revisionPages    int
	transactionPages int
	partialRevisions int
}

// NewFetchProgress creates a progress display for one run
func NewFetchProgress() *FetchProgress {
	return &FetchProgress{startTime: time.Now()}
}

// RevisionPage reports one persisted revision page. The line is rewritten
// in place; pct comes from the progress estimator and never decreases.
func (p *FetchProgress) RevisionPage(pageFirst, pageLast, latestKnown, pct int) {
	p.revisionPages++
	if quietMode {
		return
	}
	fmt.Printf("\rRevisions %d-%d of %d (%d%%) ...", pageFirst, pageLast, latestKnown, pct)
}

// TransactionPage reports one persisted transaction page
func (p *FetchProgress) TransactionPage() {
	p.transactionPages++
}

// PartialRevision reports a revision whose transaction history could not be
// fetched completely
func (p *FetchProgress) PartialRevision(revisionID int) {
	p.partialRevisions++
	if quietMode {
		return
	}
	fmt.Printf("\n%s incomplete transaction history for revision %d\n", Yellow("[PARTIAL]"), revisionID)
}

// Elapsed returns the time since the display was created
func (p *FetchProgress) Elapsed() time.Duration {
	return time.Since(p.startTime)
}

// Complete finishes the progress line and prints the run summary
func (p *FetchProgress) Complete(targetDir string) {
	if quietMode {
		return
	}
	fmt.Println()
	fmt.Printf("%s %d revision pages, %d transaction pages in %s\n",
		Green("[DONE]"),
		p.revisionPages,
		p.transactionPages,
		p.Elapsed().Round(time.Second))
	if p.partialRevisions > 0 {
		fmt.Printf("%s %d revisions have incomplete transaction history, see the log\n",
			Yellow("[WARN]"), p.partialRevisions)
	}
	PrintInfo("Snapshots written to", targetDir)
}
