// Package cachesim is a set-associative cache model that drives a
// replacement policy with an address trace.
package cachesim

import (
	"fmt"

	"github.com/sarchlab/mlreplace/replacement"
)

// Config holds the cache geometry.
type Config struct {
	NumSets   int
	NumWays   int
	BlockSize int
}

// AccessResult describes the outcome of one access.
type AccessResult struct {
	Hit         bool
	SetID       int
	WayID       int
	Evicted     bool
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Accesses        uint64
	Hits            uint64
	Misses          uint64
	Evictions       uint64
	DirtyEvictions  uint64
	ReusedEvictions uint64
	HitsByKind      map[replacement.AccessKind]uint64
	MissesByKind    map[replacement.AccessKind]uint64
}

// HitRate returns the fraction of accesses that hit.
func (s Statistics) HitRate() float64 {
	if s.Accesses == 0 {
		return 0
	}

	return float64(s.Hits) / float64(s.Accesses)
}

// Cache is a set-associative cache whose replacement decisions are made by a
// replacement.Policy.
type Cache struct {
	config Config
	tags   *tagArray
	policy *replacement.Policy
	stats  Statistics
}

// New creates a cache. The policy must track the same number of sets and
// ways.
func New(config Config, policy *replacement.Policy) *Cache {
	mustHaveValidGeometry(config)

	tracker := policy.Tracker()
	if tracker.NumSets() != config.NumSets ||
		tracker.NumWays() != config.NumWays {
		panic(fmt.Sprintf(
			"policy %s tracks %d sets and %d ways, cache has %d and %d",
			policy.Name(), tracker.NumSets(), tracker.NumWays(),
			config.NumSets, config.NumWays))
	}

	c := &Cache{
		config: config,
		tags:   newTagArray(config.NumSets, config.NumWays, config.BlockSize),
		policy: policy,
	}
	c.ResetStats()

	return c
}

func mustHaveValidGeometry(config Config) {
	if config.NumSets <= 0 || config.NumWays <= 0 || config.BlockSize <= 0 {
		panic(fmt.Sprintf("invalid cache geometry %+v", config))
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Policy returns the replacement policy of the cache.
func (c *Cache) Policy() *replacement.Policy {
	return c.policy
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	s := c.stats
	s.HitsByKind = copyCounts(c.stats.HitsByKind)
	s.MissesByKind = copyCounts(c.stats.MissesByKind)

	return s
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{
		HitsByKind:   make(map[replacement.AccessKind]uint64),
		MissesByKind: make(map[replacement.AccessKind]uint64),
	}
}

// TotalSize returns the capacity of the cache in bytes.
func (c *Cache) TotalSize() uint64 {
	return c.tags.TotalSize()
}

// Block returns the state of a way.
func (c *Cache) Block(setID, wayID int) Block {
	return c.tags.Sets[setID].Blocks[wayID]
}

// Access looks up an address and, on a miss, fills it into the cache.
func (c *Cache) Access(
	addr, ip uint64,
	kind replacement.AccessKind,
) AccessResult {
	c.stats.Accesses++

	if block, ok := c.tags.Lookup(addr); ok {
		return c.hit(block, kind)
	}

	return c.miss(addr, ip, kind)
}

func (c *Cache) hit(block *Block, kind replacement.AccessKind) AccessResult {
	c.stats.Hits++
	c.stats.HitsByKind[kind]++

	block.AccessCount++

	switch kind {
	case replacement.AccessWrite:
		block.IsDirty = true
	case replacement.AccessPrefetch:
		// Prefetch hits are not reuse.
	default:
		block.HitsSinceInsertion++
		block.IsReused = true
		block.IsPrefetch = false

		if kind == replacement.AccessRFO {
			block.IsDirty = true
		}
	}

	view := c.view(block.SetID, block.WayID)
	c.policy.OnAccess(block.SetID, block.WayID, true, kind, view)

	return AccessResult{Hit: true, SetID: block.SetID, WayID: block.WayID}
}

func (c *Cache) miss(
	addr, ip uint64,
	kind replacement.AccessKind,
) AccessResult {
	c.stats.Misses++
	c.stats.MissesByKind[kind]++

	blockAddr := c.tags.BlockAddr(addr)
	set, setID := c.tags.GetSet(addr)
	views := c.views(setID)

	wayID := c.policy.FindVictim(setID, views)
	victim := &set.Blocks[wayID]
	result := AccessResult{SetID: setID, WayID: wayID}

	if victim.IsValid {
		c.evict(victim, views[wayID])
		result.Evicted = true
		result.EvictedAddr = victim.Tag
	}

	*victim = Block{
		Tag:         blockAddr,
		IP:          ip,
		SetID:       setID,
		WayID:       wayID,
		IsValid:     true,
		IsDirty:     kind == replacement.AccessWrite || kind == replacement.AccessRFO,
		IsPrefetch:  kind == replacement.AccessPrefetch,
		AccessCount: 1,
	}

	c.policy.OnFill(setID, wayID, blockAddr, result.EvictedAddr)
	c.policy.OnAccess(setID, wayID, false, kind, c.view(setID, wayID))

	return result
}

func (c *Cache) evict(victim *Block, view replacement.Block) {
	c.stats.Evictions++

	if victim.IsDirty {
		c.stats.DirtyEvictions++
	}

	if victim.IsReused {
		c.stats.ReusedEvictions++
	}

	c.policy.UpdateOnEviction(view, victim.IsReused)
}

// views returns what the policy sees of the blocks of a set.
func (c *Cache) views(setID int) []replacement.Block {
	views := make([]replacement.Block, c.config.NumWays)
	for wayID := range views {
		views[wayID] = c.view(setID, wayID)
	}

	return views
}

// view returns what the policy sees of one block. The recency of a block is
// the number of valid blocks of the set used after it.
func (c *Cache) view(setID, wayID int) replacement.Block {
	blocks := c.tags.Sets[setID].Blocks
	b := blocks[wayID]

	v := replacement.Block{
		Address:            b.Tag,
		Signature:          b.IP,
		HitsSinceInsertion: b.HitsSinceInsertion,
		AccessCount:        b.AccessCount,
		IsValid:            b.IsValid,
		IsDirty:            b.IsDirty,
		IsPrefetch:         b.IsPrefetch,
		IsReused:           b.IsReused,
	}

	if !b.IsValid {
		return v
	}

	tracker := c.policy.Tracker()
	stamp := tracker.LastUsed(setID, wayID)

	for j, other := range blocks {
		if j != wayID && other.IsValid && tracker.LastUsed(setID, j) > stamp {
			v.Recency++
		}
	}

	return v
}

func copyCounts(
	m map[replacement.AccessKind]uint64,
) map[replacement.AccessKind]uint64 {
	c := make(map[replacement.AccessKind]uint64, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}
