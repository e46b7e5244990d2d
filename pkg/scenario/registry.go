package scenario

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrNotFound is returned for unknown scenario ids, versions, or hashes.
	ErrNotFound = errors.New("scenario not found")
	// ErrHashMismatch is returned when re-registering an existing
	// (id, version) with different content. Registered scenarios are
	// immutable.
	ErrHashMismatch = errors.New("scenario content differs from registered version")
)

// Entry pairs a registered scenario with its content hash.
type Entry struct {
	Scenario *Scenario
	Hash     string
}

// Registry holds scenarios keyed by (id, version). Safe for concurrent use;
// Register is serialized against other registers so the hash-immutability
// check cannot race.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]*Entry // "id@version"
	byHash map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[string]*Entry),
		byHash: make(map[string]*Entry),
	}
}

func key(id, version string) string { return id + "@" + version }

// Register validates and stores a scenario. Re-registering the same
// (id, version) with the same hash is a silent no-op; with a different
// hash it fails with ErrHashMismatch.
func (r *Registry) Register(s *Scenario) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	hash, err := s.Hash()
	if err != nil {
		return "", err
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return "", fmt.Errorf("scenario %s: bad version %q: %w", s.ID, s.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(s.ID, s.Version)
	if existing, ok := r.byKey[k]; ok {
		if existing.Hash == hash {
			return hash, nil
		}
		return "", fmt.Errorf("%w: %s (registered %s, got %s)", ErrHashMismatch, k, existing.Hash, hash)
	}

	e := &Entry{Scenario: s, Hash: hash}
	r.byKey[k] = e
	r.byHash[hash] = e
	return hash, nil
}

// Get resolves a scenario by id and version. Version "latest" (or empty)
// picks the highest semver.
func (r *Registry) Get(id, version string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version != "" && version != "latest" {
		e, ok := r.byKey[key(id, version)]
		if !ok {
			return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, id, version)
		}
		return e, nil
	}

	var best *Entry
	var bestVer *semver.Version
	for _, e := range r.byKey {
		if e.Scenario.ID != id {
			continue
		}
		v, err := semver.NewVersion(e.Scenario.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = e, v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return best, nil
}

// GetByHash resolves a scenario by its content address.
func (r *Registry) GetByHash(hash string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	}
	return e, nil
}

// List returns all registered entries, ordered by id then version for
// stable output.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.byKey))
	for _, e := range r.byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scenario.ID != out[j].Scenario.ID {
			return out[i].Scenario.ID < out[j].Scenario.ID
		}
		vi, ei := semver.NewVersion(out[i].Scenario.Version)
		vj, ej := semver.NewVersion(out[j].Scenario.Version)
		if ei != nil || ej != nil {
			return out[i].Scenario.Version < out[j].Scenario.Version
		}
		return vi.LessThan(vj)
	})
	return out
}
