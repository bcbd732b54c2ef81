// Package session owns the state of one triage session: the loaded
// findings, the active filter criteria, the selected taxonomy version and a
// load generation counter. It replaces page-level globals with one object
// passed to the components that need it, and persists that object to
// <stateDir>/session.json between CLI invocations.
package session

import (
	"errors"
	"fmt"
	"sync"

	"aiowasp/cli/internal/findings"
	"aiowasp/cli/internal/taxonomy"
)

// ErrFindingNotFound is returned when an index is outside the current
// filtered view.
var ErrFindingNotFound = errors.New("finding not found")

// Ref identifies one finding of one loaded finding set. Position is the
// finding's index in load order, which stays valid while Generation is
// current regardless of later criteria changes.
type Ref struct {
	Generation uint64
	Position   int
}

// Session is safe for concurrent use. Reads always observe the latest
// loaded set and criteria.
type Session struct {
	mu         sync.RWMutex
	project    string
	version    string
	criteria   findings.Criteria
	all        []findings.Finding
	generation uint64
}

// New returns an empty session for project using taxonomy version.
func New(project, version string) *Session {
	if version == "" {
		version = taxonomy.DefaultVersion
	}
	return &Session{project: project, version: version}
}

// Project returns the project key the findings belong to.
func (s *Session) Project() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

// Load parses a report payload (see findings.ParsePayload) and installs the
// result as the new finding set. It returns the new generation and the
// number of findings; an unrecognized payload installs an empty set.
func (s *Session) Load(raw []byte) (uint64, int) {
	list := findings.ParsePayload(raw)
	return s.Replace(list), len(list)
}

// Replace installs list as the new finding set and advances the generation.
// Suggestion work started against an older generation can no longer write
// to the session. The session keeps its own copy of list.
func (s *Session) Replace(list []findings.Finding) uint64 {
	cp := make([]findings.Finding, len(list))
	for i := range list {
		cp[i] = list[i].Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = cp
	s.generation++
	return s.generation
}

// Generation returns the current load generation. It starts at 0 and grows
// by one per Load or Replace.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SetCriteria replaces the active criteria.
func (s *Session) SetCriteria(c findings.Criteria) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria = c
}

// Criteria returns the active criteria.
func (s *Session) Criteria() findings.Criteria {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.criteria
}

// TaxonomyVersion returns the selected taxonomy version key.
func (s *Session) TaxonomyVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SwitchVersion selects newVersion and reconciles the category criterion
// against it: a category code that does not exist in newVersion is cleared.
// It returns the reconciled category code. Unknown versions leave the
// session unchanged and return taxonomy.ErrUnknownVersion.
func (s *Session) SwitchVersion(reg *taxonomy.Registry, newVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, err := reg.ReconcileSelection(s.criteria.OwaspCategoryPrefix, newVersion)
	if err != nil {
		return "", err
	}
	c := s.criteria
	c.OwaspCategoryPrefix = code
	s.criteria = c
	s.version = newVersion
	return code, nil
}

// All returns a copy of every loaded finding in load order.
func (s *Session) All() []findings.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.all)
}

// Filtered returns copies of the findings matching the active criteria, in
// load order.
func (s *Session) Filtered() []findings.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos := findings.FilterPositions(s.all, s.criteria)
	out := make([]findings.Finding, len(pos))
	for i, p := range pos {
		out[i] = s.all[p].Clone()
	}
	return out
}

// DistinctFilePaths returns the sorted unique file paths of the unfiltered
// set, so a file selector always offers every file.
func (s *Session) DistinctFilePaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findings.DistinctFilePaths(s.all)
}

// Resolve maps an index into the current filtered view to a Ref and a copy
// of the finding. Out-of-range indexes return ErrFindingNotFound.
func (s *Session) Resolve(filteredIndex int) (Ref, findings.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos := findings.FilterPositions(s.all, s.criteria)
	if filteredIndex < 0 || filteredIndex >= len(pos) {
		return Ref{}, findings.Finding{}, fmt.Errorf("%w: index %d of %d", ErrFindingNotFound, filteredIndex, len(pos))
	}
	p := pos[filteredIndex]
	return Ref{Generation: s.generation, Position: p}, s.all[p].Clone(), nil
}

// Finding returns a copy of the finding ref points to. ok is false when ref
// belongs to a superseded generation.
func (s *Session) Finding(ref Ref) (findings.Finding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref.Generation != s.generation || ref.Position < 0 || ref.Position >= len(s.all) {
		return findings.Finding{}, false
	}
	return s.all[ref.Position].Clone(), true
}

// ApplySuggestion writes sug to the finding ref points to, replacing any
// earlier suggestion. It returns false and changes nothing when ref belongs
// to a superseded generation.
func (s *Session) ApplySuggestion(ref Ref, sug findings.AISuggestion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.Generation != s.generation || ref.Position < 0 || ref.Position >= len(s.all) {
		return false
	}
	s.all[ref.Position].AISuggestion = &sug
	return true
}

func cloneAll(list []findings.Finding) []findings.Finding {
	out := make([]findings.Finding, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}
