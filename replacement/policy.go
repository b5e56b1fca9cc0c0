package replacement

import "log"

// Stats counts the events that a Policy has seen.
type Stats struct {
	Accesses        uint64
	Hits            uint64
	Fills           uint64
	Victims         uint64
	InvalidVictims  uint64
	EngineVictims   uint64
	LRUVictims      uint64
	Clamps          uint64
	Evictions       uint64
	ReusedEvictions uint64
	SinkErrors      uint64
}

// A Policy is the replacement policy of one cache. The cache model calls
// FindVictim when it needs room in a set, OnFill after a new block is placed,
// OnAccess on every access, and UpdateOnEviction once it knows whether an
// evicted block had been reused.
//
// A Policy is not safe for concurrent use. Policies share nothing unless they
// are built with the same predictor.
type Policy struct {
	name     string
	tracker  *RecencyTracker
	engine   Engine
	liveWays func(set int) int
	sinks    []FeatureSink
	evSinks  []EvictionSink
	logger   *log.Logger

	cycle uint64
	stats Stats
}

// Name returns the name of the policy.
func (p *Policy) Name() string {
	return p.name
}

// Engine returns the decision engine of the policy. It returns nil if the
// policy only uses recency.
func (p *Policy) Engine() Engine {
	return p.engine
}

// Tracker returns the recency tracker of the policy.
func (p *Policy) Tracker() *RecencyTracker {
	return p.tracker
}

// Cycle returns the logical cycle of the last fill or access.
func (p *Policy) Cycle() uint64 {
	return p.cycle
}

// Stats returns the statistics collected so far.
func (p *Policy) Stats() Stats {
	s := p.stats
	s.Clamps = p.tracker.ClampCount()

	return s
}

// LiveWays returns the number of ways of the set that may hold blocks.
func (p *Policy) LiveWays(set int) int {
	if p.liveWays == nil {
		return p.tracker.NumWays()
	}

	return p.liveWays(set)
}

// FindVictim returns the way of the set to evict. An invalid way is chosen
// first. With a decision engine, the least recently used way among the ways
// that the engine votes to evict comes next. Otherwise, the least recently
// used way is chosen. The returned way is always within the live ways of the
// set, or 0 if the set has none.
func (p *Policy) FindVictim(set int, blocks []Block) int {
	p.stats.Victims++

	t := p.tracker
	if set < 0 || set >= t.NumSets() {
		return t.FindVictim(set, blocks, p.LiveWays(set))
	}

	ways := t.liveWays(set, blocks, p.LiveWays(set))
	if ways == 0 {
		return 0
	}

	candidates := blocks[:ways]

	if way, ok := firstInvalid(candidates); ok {
		p.stats.InvalidVictims++
		return way
	}

	if p.engine != nil {
		way := t.lruWay(set, candidates, func(way int) bool {
			return p.engine.Classify(candidates[way]) == Evict
		})

		if way >= 0 {
			p.stats.EngineVictims++
			return t.clamp(set, way, ways)
		}
	}

	p.stats.LRUVictims++

	return t.clamp(set, t.lruWay(set, candidates, nil), ways)
}

// OnFill records that a new block was placed in the way and passes the
// eviction to the eviction sinks. It must be called exactly once per fill.
// evictedAddr is 0 if the way was empty.
func (p *Policy) OnFill(set, way int, newAddr, evictedAddr uint64) {
	p.cycle++
	p.stats.Fills++
	p.tracker.OnFill(set, way, p.cycle)

	if len(p.evSinks) == 0 {
		return
	}

	record := EvictionRecord{
		Cycle:      p.cycle,
		Set:        set,
		Way:        way,
		VictimAddr: evictedAddr,
		NewAddr:    newAddr,
	}

	for _, sink := range p.evSinks {
		err := sink.RecordEviction(record)
		if err != nil {
			p.sinkFailed("evictions", err)
		}
	}
}

func (p *Policy) sinkFailed(what string, err error) {
	p.stats.SinkErrors++
	p.logger.Printf("replacement: %s failed to record %s: %v",
		p.name, what, err)
}

// OnAccess records an access to a way and passes the features of the
// accessed block to the feature sinks.
func (p *Policy) OnAccess(
	set, way int,
	hit bool,
	kind AccessKind,
	block Block,
) {
	p.cycle++
	p.stats.Accesses++

	if hit {
		p.stats.Hits++
	}

	p.tracker.OnAccess(set, way, p.cycle, hit, kind)

	if len(p.sinks) == 0 {
		return
	}

	record := NewFeatureRecord(p.cycle, set, way, block, kind, hit)
	for _, sink := range p.sinks {
		err := sink.Record(record)
		if err != nil {
			p.sinkFailed("features", err)
		}
	}
}

// Classify returns the vote of the decision engine on a block. Without a
// decision engine, every block is kept.
func (p *Policy) Classify(block Block) Decision {
	if p.engine == nil {
		return Keep
	}

	return p.engine.Classify(block)
}

// UpdateOnEviction trains the decision engine with whether an evicted block
// had been reused.
func (p *Policy) UpdateOnEviction(block Block, wasReused bool) {
	p.stats.Evictions++

	if wasReused {
		p.stats.ReusedEvictions++
	}

	if p.engine != nil {
		p.engine.UpdateOnEviction(block, wasReused)
	}
}
