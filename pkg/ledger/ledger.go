// Package ledger is the per-account record of already-forwarded post ids.
// One plain text file per account, newline-delimited, most recent id last,
// capped at 50 entries. Deliberately not a database: the files are small,
// bounded and meant to be human-inspectable.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Capacity is the number of ids retained per account; the oldest are
// evicted first
const Capacity = 50

// Store manages ledger files under a single directory. Account handles are
// sanitized here so nothing else in the system ever deals with file paths.
type Store struct {
	dir string
}

// NewStore creates the ledger directory if needed and returns a store
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Seen is the working set of forwarded ids for one account. Membership is
// O(1); insertion order is preserved for eviction.
type Seen struct {
	order []string
	index map[string]struct{}
}

// NewSeen returns an empty working set
func NewSeen() *Seen {
	return &Seen{index: make(map[string]struct{})}
}

// Has reports whether the id was already forwarded
func (s *Seen) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Record adds an id to the working set, keeping at most Capacity entries
// with the oldest dropped first. Recording a known id is a no-op.
func (s *Seen) Record(id string) {
	if id == "" || s.Has(id) {
		return
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	for len(s.order) > Capacity {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.index, evicted)
	}
}

// Len returns the number of recorded ids
func (s *Seen) Len() int { return len(s.order) }

// IDs returns recorded ids oldest first
func (s *Seen) IDs() []string {
	res := make([]string, len(s.order))
	copy(res, s.order)
	return res
}

// Load reads the persisted set for an account, empty when none exists yet
func (st *Store) Load(account string) (*Seen, error) {
	seen := NewSeen()

	f, err := os.Open(st.path(account))
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return nil, fmt.Errorf("open ledger for %s: %w", account, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			seen.Record(id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger for %s: %w", account, err)
	}
	return seen, nil
}

// Flush persists the working set. Writes go to a temp file first and replace
// the old one with a rename, so a crash mid-write never leaves a mangled
// ledger behind.
func (st *Store) Flush(account string, seen *Seen) error {
	path := st.path(account)

	tmp, err := os.CreateTemp(st.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger for %s: %w", account, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	data := strings.Join(seen.IDs(), "\n")
	if data != "" {
		data += "\n"
	}
	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger for %s: %w", account, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger for %s: %w", account, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace ledger for %s: %w", account, err)
	}
	return nil
}

// path maps an account handle to its ledger file, stripping anything that
// could escape the ledger directory
func (st *Store) path(account string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, account)
	return filepath.Join(st.dir, safe+".txt")
}
