package edge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// NodeIDFile is the name of the file persisting the node id in the cache directory.
const NodeIDFile = ".node_id"

// State is the edge node's view of the primary. All fields are safe for
// concurrent use and reads never block the heartbeat loop.
type State struct {
	offline     atomic.Bool
	lastContact atomic.Time
	nodeID      atomic.String
	store       *NodeIDStore
}

// NewState creates an online state, restoring a node id from store when one
// was persisted. store may be nil.
func NewState(store *NodeIDStore) (*State, error) {
	s := &State{store: store}
	if store == nil {
		return s, nil
	}

	id, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		s.nodeID.Store(id.String())
	}
	return s, nil
}

// IsOffline reports whether the primary is currently considered unreachable.
func (s *State) IsOffline() bool {
	return s.offline.Load()
}

// MarkOnline returns true if this call moved the state from Offline to Online.
func (s *State) MarkOnline() bool {
	return s.offline.CompareAndSwap(true, false)
}

// MarkOffline returns true if this call moved the state from Online to Offline.
func (s *State) MarkOffline() bool {
	return s.offline.CompareAndSwap(false, true)
}

// Touch records a successful contact with the primary.
func (s *State) Touch(at time.Time) {
	s.lastContact.Store(at)
}

// LastContact returns the time of the last successful heartbeat, or the zero
// time if there was none.
func (s *State) LastContact() time.Time {
	return s.lastContact.Load()
}

// NodeID returns the id assigned by the primary, if any.
func (s *State) NodeID() (uuid.UUID, bool) {
	v := s.nodeID.Load()
	if v == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// AdoptNodeID sets the node id if none is set yet and persists it. It
// returns false without writing anything when an id was already adopted.
func (s *State) AdoptNodeID(id uuid.UUID) (bool, error) {
	if !s.nodeID.CompareAndSwap("", id.String()) {
		return false, nil
	}
	if s.store == nil {
		return true, nil
	}
	if err := s.store.Save(id); err != nil {
		return true, err
	}
	return true, nil
}

// NodeIDStore persists the node id across restarts.
type NodeIDStore struct {
	path string
}

// NewNodeIDStore stores the node id in dir/NodeIDFile.
func NewNodeIDStore(dir string) *NodeIDStore {
	return &NodeIDStore{path: filepath.Join(dir, NodeIDFile)}
}

// Load returns the persisted id. A missing file is not an error.
func (s *NodeIDStore) Load() (uuid.UUID, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return uuid.Nil, false, nil
	} else if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to read node id: %w", err)
	}

	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid node id in %s: %w", s.path, err)
	}
	return id, true, nil
}

// Save writes id atomically.
func (s *NodeIDStore) Save(id uuid.UUID) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create node id directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write node id: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to persist node id: %w", err)
	}
	return nil
}
