package jobs

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Coinsides/mimobrain-memory-system/internal/merrors"
)

// GCCandidate is one consumed inbox folder old enough to be collectable.
type GCCandidate struct {
	Path        string `json:"path"`
	WorkspaceID string `json:"workspace_id"`
	State       string `json:"state"` // "done" | "failed"
	JobID       string `json:"job_id"`
	AgeDays     int    `json:"age_days"`
}

// InboxGCCandidates lists every _done/_failed inbox folder older than
// olderThanDays, across every workspace (or just workspaceID when set).
// It only ever reads: actual deletion is deliberately unimplemented, so
// this stays a dry-run report an operator acts on by hand.
func InboxGCCandidates(dataRoot, workspaceID string, olderThanDays int, now time.Time) ([]GCCandidate, error) {
	root := InboxRoot(dataRoot)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merrors.Wrap(merrors.KindTransientIO, "jobs.InboxGCCandidates", "read inbox root", err)
	}

	cutoff := now.Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	var out []GCCandidate
	for _, ws := range entries {
		if !ws.IsDir() {
			continue
		}
		if workspaceID != "" && ws.Name() != workspaceID {
			continue
		}
		for _, state := range []string{"done", "failed"} {
			stateDir := filepath.Join(root, ws.Name(), "_"+state)
			jobs, err := os.ReadDir(stateDir)
			if err != nil {
				continue
			}
			for _, j := range jobs {
				if !j.IsDir() {
					continue
				}
				jobDir := filepath.Join(stateDir, j.Name())
				info, err := os.Stat(jobDir)
				if err != nil {
					continue
				}
				if info.ModTime().After(cutoff) {
					continue
				}
				out = append(out, GCCandidate{
					Path:        jobDir,
					WorkspaceID: ws.Name(),
					State:       state,
					JobID:       j.Name(),
					AgeDays:     int(now.Sub(info.ModTime()).Hours() / 24),
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
