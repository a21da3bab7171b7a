package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

// Presence tracks which identities are online and when others were last seen.
// It lives only in memory; clients re-join after a restart.
type Presence struct {
	mu       sync.Mutex
	online   map[string]struct{}
	lastSeen map[string]time.Time
	limit    int // max lastSeen entries, 0 = unbounded
	now      func() time.Time
}

// NewPresence returns an empty registry. A positive limit bounds the
// last-seen map by evicting the oldest stamp.
func NewPresence(limit int) *Presence {
	return &Presence{
		online:   map[string]struct{}{},
		lastSeen: map[string]time.Time{},
		limit:    limit,
		now:      time.Now,
	}
}

// MarkOnline adds id to the online set and returns the resulting snapshot.
func (p *Presence) MarkOnline(id string) models.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = struct{}{}
	return p.snapshotLocked()
}

// MarkOffline removes id from the online set, stamps its last-seen time and
// returns the resulting snapshot. Removal is idempotent; the stamp is
// refreshed on every call so it tracks the latest leave or disconnect.
func (p *Presence) MarkOffline(id string) models.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
	p.lastSeen[id] = p.now()
	p.evictLocked()
	return p.snapshotLocked()
}

func (p *Presence) Snapshot() models.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Presence) snapshotLocked() models.PresenceSnapshot {
	snap := models.PresenceSnapshot{
		Online:   make([]string, 0, len(p.online)),
		LastSeen: make(map[string]int64, len(p.lastSeen)),
	}
	for id := range p.online {
		snap.Online = append(snap.Online, id)
	}
	sort.Strings(snap.Online)
	for id, ts := range p.lastSeen {
		snap.LastSeen[id] = ts.UnixMilli()
	}
	return snap
}

func (p *Presence) evictLocked() {
	for p.limit > 0 && len(p.lastSeen) > p.limit {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, ts := range p.lastSeen {
			if oldestID == "" || ts.Before(oldest) {
				oldestID, oldest = id, ts
			}
		}
		delete(p.lastSeen, oldestID)
	}
}
