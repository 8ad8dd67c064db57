package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/config"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/redis"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ingest"
)

type ManagerConfig struct {
	MaxSessions int
	// Idle time after which a session is dropped from memory.
	TTL        time.Duration
	Controller Options
}

// ManagerConfigFrom reads the session settings of cfg.
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		MaxSessions: cfg.BasicConfig.MaxSessions,
		TTL:         cfg.SessionTTL(),
		Controller: Options{
			MaxChars: cfg.BasicConfig.MaxChars,
			Workers:  cfg.BasicConfig.ExtractorWorkers,
		},
	}
}

// Manager is the registry of live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Controller]
	// controllers evicted mid-operation, kept until they are claimed or idle
	parkMu sync.Mutex
	parked map[string]*Controller

	cache     *snapshotCache
	extractor *ingest.Extractor
	analyst   Analyst
	cfg       ManagerConfig
}

func NewManager(cfg ManagerConfig, extractor *ingest.Extractor, analyst Analyst, cacheClient *redis.Client) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = config.DefaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = config.DefaultSessionTTL
	}
	if extractor == nil {
		extractor = ingest.NewExtractor()
	}
	m := &Manager{
		parked:    make(map[string]*Controller),
		extractor: extractor,
		analyst:   analyst,
		cfg:       cfg,
		cache:     newSnapshotCache(cacheClient, cfg.TTL, uuid.NewString()),
	}
	m.sessions = expirable.NewLRU[string, *Controller](cfg.MaxSessions, m.evicted, cfg.TTL)
	return m
}

// evicted runs under the LRU's lock; it must not call back into m.sessions.
func (m *Manager) evicted(id string, c *Controller) {
	if c.Snapshot().Busy == models.Idle {
		debugLog("session %s dropped from memory", id)
		return
	}
	m.parkMu.Lock()
	m.parked[id] = c
	m.parkMu.Unlock()
	debugLog("session %s evicted while busy, parked", id)
}

func (m *Manager) unpark(id string) (*Controller, bool) {
	m.parkMu.Lock()
	defer m.parkMu.Unlock()
	c, ok := m.parked[id]
	if ok {
		delete(m.parked, id)
	}
	return c, ok
}

// pruneParked releases parked controllers whose operation has finished.
// Their state is in the snapshot cache when one is configured.
func (m *Manager) pruneParked() {
	m.parkMu.Lock()
	defer m.parkMu.Unlock()
	for id, c := range m.parked {
		if c.Snapshot().Busy == models.Idle {
			delete(m.parked, id)
		}
	}
}

// Create registers a new empty session.
func (m *Manager) Create() *Controller {
	m.pruneParked()
	c := m.newController(uuid.NewString())
	m.mu.Lock()
	m.sessions.Add(c.ID(), c)
	m.mu.Unlock()
	debugLog("session %s created", c.ID())
	return c
}

// Get returns the live session, restoring it from the snapshot cache when
// this instance does not hold it. Access renews the idle TTL.
func (m *Manager) Get(id string) (*Controller, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions.Get(id); ok {
		m.sessions.Add(id, c)
		return c, nil
	}
	// an evicted controller still running an operation keeps the busy gate
	if c, ok := m.unpark(id); ok {
		m.sessions.Add(id, c)
		return c, nil
	}
	snap, ok := m.cache.load(id)
	if !ok {
		return nil, ErrNotFound
	}
	c := m.newController(id)
	c.restore(snap)
	m.sessions.Add(id, c)
	debugLog("session %s restored from cache", id)
	return c, nil
}

// Delete forgets a session here and in the cache.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, live := m.sessions.Peek(id)
	if live {
		m.sessions.Remove(id)
	}
	m.mu.Unlock()
	if _, parked := m.unpark(id); parked {
		live = true
	}
	if !live {
		if _, ok := m.cache.load(id); !ok {
			return ErrNotFound
		}
	}
	m.cache.invalidate(id)
	m.cache.publishInvalidation(id, scopeDelete)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}

// Listen drops local copies of sessions changed elsewhere until ctx is done.
func (m *Manager) Listen(ctx context.Context) {
	m.cache.listen(ctx, func(inv invalidateMessage) {
		m.mu.Lock()
		removed := m.sessions.Remove(inv.SessionID)
		m.mu.Unlock()
		m.unpark(inv.SessionID)
		if removed {
			log.Printf("session %s invalidated by peer (%s)", inv.SessionID, inv.Scope)
		}
	})
}

func (m *Manager) newController(id string) *Controller {
	c := NewController(id, m.extractor, m.analyst, m.cfg.Controller)
	c.observer = m.observe
	return c
}

func (m *Manager) observe(event string, snap models.Snapshot) {
	m.cache.save(snap)
	if event == eventReset {
		m.cache.publishInvalidation(snap.ID, scopeReset)
	}
}
