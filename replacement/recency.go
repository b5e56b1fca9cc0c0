package replacement

import (
	"fmt"
	"log"
)

// RecencyTracker remembers the logical cycle at which each way of each set
// was last used and evicts the least recently used way.
type RecencyTracker struct {
	numSets  int
	numWays  int
	lastUsed []uint64

	logger     *log.Logger
	clampCount uint64
}

// NewRecencyTracker creates a tracker for a cache with the given geometry.
func NewRecencyTracker(numSets, numWays int) *RecencyTracker {
	if numSets <= 0 || numWays <= 0 {
		panic(fmt.Sprintf(
			"invalid cache geometry: %d sets, %d ways", numSets, numWays))
	}

	return &RecencyTracker{
		numSets:  numSets,
		numWays:  numWays,
		lastUsed: make([]uint64, numSets*numWays),
		logger:   log.Default(),
	}
}

// WithLogger sets the logger that receives diagnostics.
func (t *RecencyTracker) WithLogger(logger *log.Logger) *RecencyTracker {
	t.logger = logger
	return t
}

// NumSets returns the number of sets tracked.
func (t *RecencyTracker) NumSets() int {
	return t.numSets
}

// NumWays returns the number of ways per set.
func (t *RecencyTracker) NumWays() int {
	return t.numWays
}

// ClampCount returns how many victim selections had to be clamped into the
// valid way range.
func (t *RecencyTracker) ClampCount() uint64 {
	return t.clampCount
}

// LastUsed returns the cycle at which a way was last filled or hit. It
// returns 0 for a way outside the table.
func (t *RecencyTracker) LastUsed(set, way int) uint64 {
	if !t.inRange(set, way) {
		return 0
	}

	return t.lastUsed[set*t.numWays+way]
}

// OnFill marks the way as used at the given cycle. A way outside the table is
// ignored with a diagnostic.
func (t *RecencyTracker) OnFill(set, way int, cycle uint64) {
	t.stamp("fill", set, way, cycle)
}

// OnAccess marks the way as used if the access is a hit. Write-back hits do
// not count as use.
func (t *RecencyTracker) OnAccess(
	set, way int,
	cycle uint64,
	hit bool,
	kind AccessKind,
) {
	if !hit || kind == AccessWrite {
		return
	}

	t.stamp("access", set, way, cycle)
}

func (t *RecencyTracker) stamp(event string, set, way int, cycle uint64) {
	if !t.inRange(set, way) {
		t.clampCount++
		t.logger.Printf(
			"replacement: ignoring %s of way (%d, %d), table has %d sets and %d ways",
			event, set, way, t.numSets, t.numWays)

		return
	}

	t.lastUsed[set*t.numWays+way] = cycle
}

// FindVictim returns the way to evict from a set. Only the first liveWays
// ways are candidates. An invalid way is always preferred. Otherwise, the
// least recently used way that was not prefetched is chosen, or the least
// recently used way of all if every way was prefetched.
func (t *RecencyTracker) FindVictim(set int, blocks []Block, liveWays int) int {
	if set < 0 || set >= t.numSets {
		t.clampCount++
		t.logger.Printf(
			"replacement: set %d out of range for %d sets, evicting way 0",
			set, t.numSets)

		return 0
	}

	ways := t.liveWays(set, blocks, liveWays)
	if ways == 0 {
		return 0
	}

	if way, ok := firstInvalid(blocks[:ways]); ok {
		return way
	}

	return t.clamp(set, t.lruWay(set, blocks[:ways], nil), ways)
}

// liveWays reduces liveWays to what both the table and the set contents can
// hold.
func (t *RecencyTracker) liveWays(set int, blocks []Block, liveWays int) int {
	ways := liveWays

	if ways > t.numWays {
		t.clampCount++
		t.logger.Printf(
			"replacement: set %d reports %d live ways, table holds %d",
			set, liveWays, t.numWays)

		ways = t.numWays
	}

	if ways > len(blocks) {
		t.clampCount++
		t.logger.Printf(
			"replacement: set %d reports %d live ways, got %d blocks",
			set, liveWays, len(blocks))

		ways = len(blocks)
	}

	if ways <= 0 {
		t.clampCount++
		t.logger.Printf(
			"replacement: set %d has no live ways, evicting way 0", set)

		return 0
	}

	return ways
}

// lruWay returns the least recently used way among the blocks accepted by the
// filter, skipping prefetched blocks unless all of them are prefetched. A nil
// filter accepts every block. It returns -1 if no block is accepted.
func (t *RecencyTracker) lruWay(
	set int,
	blocks []Block,
	filter func(way int) bool,
) int {
	victim := t.oldest(set, blocks, func(way int) bool {
		return !blocks[way].IsPrefetch && (filter == nil || filter(way))
	})

	if victim < 0 {
		victim = t.oldest(set, blocks, filter)
	}

	return victim
}

func (t *RecencyTracker) oldest(
	set int,
	blocks []Block,
	filter func(way int) bool,
) int {
	victim := -1
	oldest := uint64(0)

	for way := range blocks {
		if filter != nil && !filter(way) {
			continue
		}

		stamp := t.LastUsed(set, way)
		if victim < 0 || stamp < oldest {
			victim = way
			oldest = stamp
		}
	}

	return victim
}

// clamp makes sure the way returned to the cache model is within the set.
func (t *RecencyTracker) clamp(set, way, ways int) int {
	if way >= 0 && way < ways {
		return way
	}

	t.clampCount++
	t.logger.Printf(
		"replacement: selected invalid way %d for set %d, valid range [0, %d]",
		way, set, ways-1)

	return ways - 1
}

func (t *RecencyTracker) inRange(set, way int) bool {
	return set >= 0 && set < t.numSets && way >= 0 && way < t.numWays
}

func firstInvalid(blocks []Block) (int, bool) {
	for way, block := range blocks {
		if !block.IsValid {
			return way, true
		}
	}

	return 0, false
}
