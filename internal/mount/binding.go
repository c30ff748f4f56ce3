package mount

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/hashicorp/go-multierror"
)

// Value supplied for a secret id at invocation time.
//
// Either Source names a host file holding the value, or Data holds it in
// memory. Data takes precedence.
type Binding struct {
	ID     string
	Source string
	Data   []byte
}

// Returns the bound value.
func (b Binding) Read() ([]byte, error) {
	if b.Data != nil {
		return b.Data, nil
	}
	data, err := os.ReadFile(b.Source)
	if err != nil {
		return nil, crex.Wrap(ErrUnbound, err)
	}
	return data, nil
}

// Omits the value from formatted output.
func (b Binding) String() string {
	if b.Data != nil {
		return fmt.Sprintf("secret %s (%d bytes in memory)", b.ID, len(b.Data))
	}
	return fmt.Sprintf("secret %s (from %s)", b.ID, b.Source)
}

// Bound secrets of one invocation, indexed by id.
type Set struct {
	byID map[string]Binding
}

// Creates a set from bindings. Duplicate ids are rejected.
func NewSet(bindings ...Binding) (*Set, error) {
	s := &Set{byID: make(map[string]Binding, len(bindings))}
	for _, b := range bindings {
		if err := s.Add(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Adds a binding. Duplicate ids are rejected.
func (s *Set) Add(b Binding) error {
	if !idPattern.MatchString(b.ID) {
		return crex.Wrapf(ErrMount, "secret id %q is invalid", b.ID)
	}
	if _, dup := s.byID[b.ID]; dup {
		return crex.Wrapf(ErrMount, "secret %q bound twice", b.ID)
	}
	s.byID[b.ID] = b
	return nil
}

// Whether id is bound.
func (s *Set) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Returns the binding for id.
func (s *Set) Get(id string) (Binding, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// Returns the bound ids, sorted.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Returns the raw value of every binding, for leak detection.
func (s *Set) Values() ([][]byte, error) {
	values := make([][]byte, 0, len(s.byID))
	for _, id := range s.IDs() {
		v, err := s.byID[id].Read()
		if err != nil {
			return nil, err
		}
		if v = bytes.TrimSpace(v); len(v) > 0 {
			values = append(values, v)
		}
	}
	return values, nil
}

// Secret files written for one invocation.
//
// All files live in a private directory that [Materialized.Cleanup] removes.
// Source-backed bindings are used in place unless a specific mode is needed.
type Materialized struct {
	dir   string
	set   *Set
	files map[string]string
}

// Creates a private directory under parent to hold secret files.
func Materialize(set *Set, parent string) (*Materialized, error) {
	if err := os.MkdirAll(parent, 0700); err != nil {
		return nil, crex.Wrap(ErrMount, err)
	}
	dir, err := os.MkdirTemp(parent, "secrets-")
	if err != nil {
		return nil, crex.Wrap(ErrMount, err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		os.RemoveAll(dir)
		return nil, crex.Wrap(ErrMount, err)
	}
	return &Materialized{dir: dir, set: set, files: make(map[string]string)}, nil
}

// Returns a host file holding the secret, for engines that read secrets by
// path.
func (m *Materialized) Source(id string) (string, error) {
	b, ok := m.set.Get(id)
	if !ok {
		return "", crex.Wrapf(ErrUnbound, "secret %q", id)
	}
	if b.Data == nil {
		return b.Source, nil
	}
	return m.File(id, defaultSecretMode)
}

// Returns a private copy of the secret with the given file mode.
func (m *Materialized) File(id string, mode os.FileMode) (string, error) {
	key := fmt.Sprintf("%s.%04o", id, mode)
	if p, ok := m.files[key]; ok {
		return p, nil
	}

	b, ok := m.set.Get(id)
	if !ok {
		return "", crex.Wrapf(ErrUnbound, "secret %q", id)
	}
	data, err := b.Read()
	if err != nil {
		return "", err
	}

	p := filepath.Join(m.dir, key)
	if err := os.WriteFile(p, data, 0600); err != nil {
		return "", crex.Wrap(ErrMount, err)
	}
	if err := os.Chmod(p, mode); err != nil {
		return "", crex.Wrap(ErrMount, err)
	}

	m.files[key] = p
	return p, nil
}

// Whether id is bound.
func (m *Materialized) Has(id string) bool {
	return m.set.Has(id)
}

// Returns the secret value, for env-style secret mounts.
func (m *Materialized) Value(id string) ([]byte, error) {
	b, ok := m.set.Get(id)
	if !ok {
		return nil, crex.Wrapf(ErrUnbound, "secret %q", id)
	}
	return b.Read()
}

// Removes every file written for this invocation.
func (m *Materialized) Cleanup() error {
	var result *multierror.Error
	for _, p := range m.files {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	if err := os.RemoveAll(m.dir); err != nil {
		result = multierror.Append(result, err)
	}
	m.files = map[string]string{}
	return result.ErrorOrNil()
}
