package policy

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Store holds the active policy snapshot for the process. Readers get a
// consistent immutable *Policy; Reload swaps the whole pointer so concurrent
// readers never observe a half-updated policy.
type Store struct {
	current atomic.Pointer[Policy]
	path    string // policy file, empty when running on defaults
}

// NewStore creates a store seeded with the default policy.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(Default())
	return s
}

// NewStoreFromFile loads the initial policy from a JSON file. Subsequent
// Reload calls re-read the same file.
func NewStoreFromFile(path string) (*Store, error) {
	s := &Store{path: path}
	p, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	log.Printf("policy: loaded from %s (sensitivity=%s, rules=%d)", path, p.Sensitivity, len(p.Rules))
	return s, nil
}

// Current returns the active policy snapshot. The returned value must be
// treated as read-only; it may be shared by any number of concurrent calls.
func (s *Store) Current() *Policy {
	return s.current.Load()
}

// Replace publishes a new policy snapshot.
func (s *Store) Replace(p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy: replace with nil policy")
	}
	if err := p.validate(); err != nil {
		return err
	}
	s.current.Store(p)
	return nil
}

// Reload re-reads the policy file and swaps in the result. It is a no-op
// error when the store was not created from a file.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("policy: store has no backing file")
	}
	p, err := loadFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)
	log.Printf("policy: reloaded from %s (sensitivity=%s)", s.path, p.Sensitivity)
	return nil
}

func loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}
