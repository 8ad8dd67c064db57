package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/redis"
)

const (
	redisInvalidateChannel = "aria:session:invalidate"
	redisOpTimeout         = 2 * time.Second
)

const (
	scopeReset  = "reset"
	scopeDelete = "delete"
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Scope     string `json:"scope"`
	Origin    string `json:"origin"`
}

// snapshotCache keeps transcripts and file records (never file bytes) in
// redis so another instance, or this one after a restart, can pick a
// session up. Every method is a no-op without a client.
type snapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	origin string
}

func newSnapshotCache(client *redis.Client, ttl time.Duration, origin string) *snapshotCache {
	return &snapshotCache{client: client, ttl: ttl, origin: origin}
}

func snapshotKey(id string) string {
	return fmt.Sprintf("aria:session:%s", id)
}

func (r *snapshotCache) enabled() bool {
	return r != nil && r.client != nil
}

func (r *snapshotCache) save(snap models.Snapshot) {
	if !r.enabled() || snap.ID == "" {
		return
	}
	// pending bytes are not cached, so neither are pending names
	snap.PendingFiles = nil
	snap.Warnings = nil
	snap.Busy = models.Idle
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.SetJSON(ctx, snapshotKey(snap.ID), snap, r.ttl); err != nil {
		log.Printf("session cache save %s failed: %v", snap.ID, err)
	}
}

func (r *snapshotCache) load(id string) (models.Snapshot, bool) {
	if !r.enabled() || id == "" {
		return models.Snapshot{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	var snap models.Snapshot
	if err := r.client.GetJSON(ctx, snapshotKey(id), &snap); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("session cache load %s failed: %v", id, err)
		}
		return models.Snapshot{}, false
	}
	if snap.ID != id {
		return models.Snapshot{}, false
	}
	return snap, true
}

func (r *snapshotCache) invalidate(id string) {
	if !r.enabled() || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, snapshotKey(id)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		log.Printf("session cache invalidate %s failed: %v", id, err)
	}
}

// publishInvalidation tells other instances to drop their copy of a session.
func (r *snapshotCache) publishInvalidation(id, scope string) {
	if !r.enabled() {
		return
	}
	payload, err := json.Marshal(invalidateMessage{SessionID: id, Scope: scope, Origin: r.origin})
	if err != nil {
		log.Printf("session invalidation marshal failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		log.Printf("session publish invalidation failed: %v", err)
	}
}

// listen feeds invalidations from other instances to handler until ctx ends.
func (r *snapshotCache) listen(ctx context.Context, handler func(invalidateMessage)) {
	if !r.enabled() || handler == nil {
		return
	}
	err := r.client.Subscribe(ctx, redisInvalidateChannel, func(payload []byte) {
		var inv invalidateMessage
		if err := json.Unmarshal(payload, &inv); err != nil {
			log.Printf("session invalidation decode failed: %v", err)
			return
		}
		if inv.Origin == r.origin {
			return
		}
		handler(inv)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("session invalidation listener stopped: %v", err)
	}
}
