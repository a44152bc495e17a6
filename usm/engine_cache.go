package usm

import (
	"sync"
	"time"
)

// EngineTime tracks one authoritative engine's boots/time counters, used
// for the RFC 3414 §3.2 time-window check (±150s, engineBoots must match).
type EngineTime struct {
	Boots       int32
	Time        int32
	receivedAt  time.Time
}

// EngineCache is MPv3's (peer address -> authoritative engine ID) cache
// plus per-engine boots/time bookkeeping (§4.2 "MPv3 additionally caches").
// This is deliberately a *different* cache from session's (peer ->
// contextEngineID) cache (§9 "MPv3 engine cache"): this one is keyed by
// authoritative engine ID and invalidated only explicitly, the session's is
// keyed by peer address and is a plain best-effort hint.
type EngineCache struct {
	mu      sync.RWMutex
	byPeer  map[string][]byte // peer address string -> authoritative engine ID
	times   map[string]*EngineTime // string(engineID) -> time state
}

// NewEngineCache returns an empty cache.
func NewEngineCache() *EngineCache {
	return &EngineCache{
		byPeer: make(map[string][]byte),
		times:  make(map[string]*EngineTime),
	}
}

// EngineIDFor returns the cached authoritative engine ID for peer, if any.
func (c *EngineCache) EngineIDFor(peer string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byPeer[peer]
	return id, ok
}

// SetEngineID records (or updates) the authoritative engine ID known for a
// peer, e.g. after an explicit UserTarget registration (§4.3 step 8) or a
// successful usmStatsUnknownEngineIDs-driven discovery (§4.4 "Report
// handling").
func (c *EngineCache) SetEngineID(peer string, engineID []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPeer[peer] = append([]byte(nil), engineID...)
}

// InvalidateEngineID forgets peer's cached engine ID, forcing a fresh
// discovery on the next send.
func (c *EngineCache) InvalidateEngineID(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byPeer, peer)
}

// UpdateTime stores the (boots, time) pair observed for an engine ID as
// given, replacing any earlier pair without comparing the two. MPv3 calls
// it for every authenticated inbound message whose authoritative engine is
// not this one (RFC 3414 §3.2).
func (c *EngineCache) UpdateTime(engineID []byte, boots, snmpTime int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[string(engineID)] = &EngineTime{Boots: boots, Time: snmpTime, receivedAt: time.Now()}
}

// InWindow reports whether (boots, snmpTime) is within the RFC 3414 §3.2
// timeliness window of the last-known state for engineID: same boots
// counter, and |local estimate - snmpTime| <= 150s. An engine never seen
// before is treated as out of window, forcing discovery.
func (c *EngineCache) InWindow(engineID []byte, boots, snmpTime int32) bool {
	c.mu.RLock()
	last, ok := c.times[string(engineID)]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if boots != last.Boots {
		return false
	}
	elapsed := int32(time.Since(last.receivedAt).Seconds())
	estimate := last.Time + elapsed
	delta := snmpTime - estimate
	if delta < 0 {
		delta = -delta
	}
	return delta <= 150
}
