// Package session provides the per-minion in-memory streaming state and the
// on-disk session directory layout. A Session exists only while a minion has
// been touched since process start; its absence never implies the minion is
// gone.
package session

import (
	"os"
	"path/filepath"
)

// LegionDirName is the per-project state directory.
const LegionDirName = ".legion"

// File names inside a minion's session directory.
const (
	TimingFileName         = "session-timing.json"
	UsageFileName          = "session-usage.json"
	PostCompactionFileName = "post-compaction.json"
	ExclusionsFileName     = "exclusions.json"
	PlanFileName           = "plan.md"
	RemovingMarkerName     = "removing.marker"
)

// LegionDir returns the project-level state directory.
func LegionDir(projectPath string) string {
	return filepath.Join(projectPath, LegionDirName)
}

// MinionsDir returns the directory holding all minion session directories.
func MinionsDir(projectPath string) string {
	return filepath.Join(LegionDir(projectPath), "minions")
}

// Dir returns the session directory for one minion.
func Dir(projectPath, minionID string) string {
	return filepath.Join(MinionsDir(projectPath), minionID)
}

// PlanPath returns the minion's plan file path.
func PlanPath(projectPath, minionID string) string {
	return filepath.Join(Dir(projectPath, minionID), PlanFileName)
}

// RemovingMarkerPath returns the path of the removal-in-progress marker.
// The marker is written before any destructive removal step so a process
// restart mid-removal can detect and resume the removal instead of
// presenting a half-deleted minion as healthy.
func RemovingMarkerPath(projectPath, minionID string) string {
	return filepath.Join(Dir(projectPath, minionID), RemovingMarkerName)
}

// WriteRemovingMarker creates the removal marker.
func WriteRemovingMarker(projectPath, minionID string) error {
	dir := Dir(projectPath, minionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(RemovingMarkerPath(projectPath, minionID), []byte{}, 0644)
}

// HasRemovingMarker reports whether a removal was interrupted mid-flight.
func HasRemovingMarker(projectPath, minionID string) bool {
	_, err := os.Stat(RemovingMarkerPath(projectPath, minionID))
	return err == nil
}
