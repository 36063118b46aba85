package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	revisionsDir    = "revisions"
	transactionsDir = "transactions"
)

// Manager writes snapshot artifacts for one target. Artifacts are immutable
// once written: every page gets its own uniquely named file and nothing is
// ever rewritten. All writes happen from the single fetch loop, so no
// locking discipline is needed.
type Manager struct {
	targetDir        string
	revisionPages    int
	transactionPages int
}

// NewManager creates the snapshot directory tree for a target under the
// base directory. Callers construct it only after the initial probe has
// succeeded, so a run that fails up front leaves no directories behind.
func NewManager(baseDir, target string) (*Manager, error) {
	targetDir := filepath.Join(baseDir, target)

	for _, sub := range []string{revisionsDir, transactionsDir} {
		if err := os.MkdirAll(filepath.Join(targetDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	return &Manager{targetDir: targetDir}, nil
}

// SaveRevisionPage persists one revision page as
// revisions/{firstID}-{lastID}.json, named by the page's own inclusive ID
// range. One file per page rather than one growing rewritten file: together
// the range-named files cover the window, and no artifact is ever touched
// again after its rename.
func (m *Manager) SaveRevisionPage(firstID, lastID int, raw []byte) (string, error) {
	name := fmt.Sprintf("%d-%d.json", firstID, lastID)
	path := filepath.Join(m.targetDir, revisionsDir, name)

	if err := m.writeAtomic(path, raw); err != nil {
		return "", fmt.Errorf("failed to save revision page %s: %w", name, err)
	}

	m.revisionPages++
	return path, nil
}

// SaveTransactionPage persists one page of a revision's transaction history
// as transactions/{revisionID}_{pageIndex}.json.
func (m *Manager) SaveTransactionPage(revisionID, pageIndex int, raw []byte) (string, error) {
	name := fmt.Sprintf("%d_%d.json", revisionID, pageIndex)
	path := filepath.Join(m.targetDir, transactionsDir, name)

	if err := m.writeAtomic(path, raw); err != nil {
		return "", fmt.Errorf("failed to save transaction page %s: %w", name, err)
	}

	m.transactionPages++
	return path, nil
}

// writeAtomic writes data through a temporary file and renames it into
// place, so a crash mid-write never leaves a truncated artifact.
func (m *Manager) writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = out.Write(data)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write artifact data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// TargetDir returns the per-target snapshot root.
func (m *Manager) TargetDir() string {
	return m.targetDir
}

// RevisionPageCount returns the number of revision page artifacts written.
func (m *Manager) RevisionPageCount() int {
	return m.revisionPages
}

// TransactionPageCount returns the number of transaction page artifacts
// written.
func (m *Manager) TransactionPageCount() int {
	return m.transactionPages
}
