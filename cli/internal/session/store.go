// Persistence of a session to <stateDir>/session.json.

package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"aiowasp/cli/internal/erruser"
	"aiowasp/cli/internal/findings"
)

// ErrLocked indicates another process holds the session lock.
var ErrLocked = errors.New("session is in use by another process")

const (
	sessionFilename = "session.json"
	lockFilename    = "lock"
)

// snapshot is the on-disk form of a Session.
type snapshot struct {
	Project         string             `json:"project"`
	TaxonomyVersion string             `json:"taxonomy_version"`
	Criteria        findings.Criteria  `json:"criteria"`
	Findings        []findings.Finding `json:"findings"`
	SavedAt         string             `json:"saved_at,omitempty"`
}

// Restore reads the session from stateDir/session.json. A missing file
// yields an empty session for project and version (nil error); an existing
// but corrupt file is an error. Restore does not create stateDir. The
// restored session is at generation 1 when it holds findings.
func Restore(stateDir, project, version string) (*Session, error) {
	path := filepath.Join(stateDir, sessionFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(project, version), nil
		}
		return nil, erruser.New("Could not read session file.", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, erruser.New("Session file is invalid or corrupted.", err)
	}
	if snap.Project == "" {
		snap.Project = project
	}
	if snap.TaxonomyVersion == "" {
		snap.TaxonomyVersion = version
	}
	s := New(snap.Project, snap.TaxonomyVersion)
	s.criteria = snap.Criteria
	if len(snap.Findings) > 0 {
		s.Replace(findings.AssignIDs(snap.Findings))
	}
	return s, nil
}

// Save writes s to stateDir/session.json, creating stateDir if needed. The
// write goes to a temp file that is renamed into place.
func Save(stateDir string, s *Session) error {
	if s == nil {
		return erruser.New("Cannot save nil session.", nil)
	}
	s.mu.RLock()
	snap := snapshot{
		Project:         s.project,
		TaxonomyVersion: s.version,
		Criteria:        s.criteria,
		Findings:        cloneAll(s.all),
		SavedAt:         time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return erruser.New("Could not create session directory.", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return erruser.New("Could not save session.", err)
	}
	f, err := os.CreateTemp(stateDir, "session.*.tmp")
	if err != nil {
		return erruser.New("Could not save session.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return erruser.New("Could not save session.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not save session.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not save session.", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(stateDir, sessionFilename)); err != nil {
		return erruser.New("Could not save session.", err)
	}
	return nil
}

// Clear removes the persisted session file. A missing file is not an error.
func Clear(stateDir string) error {
	err := os.Remove(filepath.Join(stateDir, sessionFilename))
	if err != nil && !os.IsNotExist(err) {
		return erruser.New("Could not remove session file.", err)
	}
	return nil
}
