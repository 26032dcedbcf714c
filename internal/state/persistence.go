package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"forge/internal/logging"
)

// ErrNotFound is returned by Load when no snapshot exists at dir.
var ErrNotFound = errors.New("no pipeline snapshot found")

const snapshotFileName = "PIPELINE_STATE.json"

// Save writes the snapshot as pretty-printed JSON atomically: serialize to
// a sibling temp file, fsync, then rename. On any error the temp file is
// unlinked before the failure is returned — the post-condition is that
// after a crash at any point there is either the previous valid file or
// the new valid file, never a partial write and never a leftover temp
// file. Grounded on build3_shared/utils.py:atomic_write_json.
func Save(snap *Snapshot, dir string) error {
	timer := logging.StartTimer(logging.CategoryState, "Save")
	defer timer.Stop()

	snap.Touch()
	if err := snap.validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid snapshot: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	target := filepath.Join(dir, snapshotFileName)
	tmp, err := os.CreateTemp(dir, snapshotFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupTmp := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanupTmp()
		return fmt.Errorf("writing temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanupTmp()
		return fmt.Errorf("fsyncing temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp snapshot file into place: %w", err)
	}

	logging.Get(logging.CategoryState).Debug("snapshot saved to %s (state=%s)", target, snap.CurrentState)
	return nil
}

// Load reads the snapshot from dir. Unknown fields in the persisted JSON
// are silently dropped (forward-compatible) since json.Unmarshal already
// ignores unrecognized keys for struct targets.
func Load(dir string) (*Snapshot, error) {
	path := filepath.Join(dir, snapshotFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Clear removes the state directory entirely. No CLI command calls it.
func Clear(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing state dir %s: %w", dir, err)
	}
	return nil
}

// validate checks the snapshot's internal invariants. A violation
// here indicates a coding error upstream, not a user error — Save refuses
// to persist a snapshot that would violate them rather than writing
// corrupt-but-well-formed state to disk.
func (s *Snapshot) validate() error {
	var sum float64
	for _, c := range s.PhaseCosts {
		sum += c
	}
	const epsilon = 1e-6
	diff := sum - s.TotalCost
	if diff < 0 {
		diff = -diff
	}
	if diff > epsilon {
		return fmt.Errorf("total_cost (%.6f) != sum of phase_costs (%.6f)", s.TotalCost, sum)
	}

	seen := map[string]bool{}
	for _, p := range s.CompletedPhases {
		if seen[p] {
			return fmt.Errorf("completed_phases contains duplicate entry %q", p)
		}
		seen[p] = true
	}

	if s.SuccessfulBuilders > s.TotalBuilders {
		return fmt.Errorf("successful_builders (%d) > total_builders (%d)", s.SuccessfulBuilders, s.TotalBuilders)
	}

	return nil
}
