package shares

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Store holds the latest published snapshot. Refresh passes are numbered
// when they start; a pass may only publish (or record a failure) if no
// later-started pass has already done so.
type Store struct {
	mu        sync.RWMutex
	started   uint64
	settled   uint64
	published uint64
	owner     *solana.PublicKey
	views     []PropertyView
	at        time.Time
	lastErr   error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Begin starts a new refresh pass and returns its generation.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.started
}

// Publish replaces the snapshot with views from pass gen. It returns false
// when a later pass has already settled, in which case nothing changes.
func (s *Store) Publish(gen uint64, owner *solana.PublicKey, views []PropertyView, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.settled {
		return false
	}
	s.settled = gen
	s.published = gen
	s.owner = owner
	s.views = views
	s.at = at
	s.lastErr = nil
	return true
}

// Fail records that pass gen failed. The previously published views stay.
func (s *Store) Fail(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.settled {
		return false
	}
	s.settled = gen
	s.lastErr = err
	return true
}

// Current returns the published snapshot. While a pass is running the
// snapshot reports Loading and no Error; a failure shows once every started
// pass has settled.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Generation:  s.published,
		Owner:       s.owner,
		Views:       s.views,
		RefreshedAt: s.at,
		Loading:     s.started > s.settled,
	}
	if s.lastErr != nil && !snap.Loading {
		snap.Error = s.lastErr.Error()
	}
	return snap
}
