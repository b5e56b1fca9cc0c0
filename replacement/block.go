// Package replacement decides which way of a cache set to evict.
//
// The package offers a recency tracker that implements least-recently-used
// replacement, two decision engines that learn which kinds of blocks are safe
// to evict, and a Policy that ties them together behind the interface that a
// cache model calls on every access, fill, and eviction.
package replacement

// StaleRecencyRank is the recency rank above which a never-hit block is
// considered to sit in a stale position of its set.
const StaleRecencyRank = 6

// A Block is the view of a cache line that the cache model hands to the
// replacement policy. The policy never modifies a Block.
type Block struct {
	Address            uint64
	Signature          uint64
	HitsSinceInsertion uint32
	AccessCount        uint32
	Recency            int
	IsValid            bool
	IsDirty            bool
	IsPrefetch         bool
	IsReused           bool
}

// AccessKind is the type of memory access that touches a cache line.
type AccessKind int

// The access kinds that a cache model reports.
const (
	AccessLoad AccessKind = iota
	AccessRFO
	AccessPrefetch
	AccessWrite
	AccessTranslation
)

func (k AccessKind) String() string {
	switch k {
	case AccessLoad:
		return "load"
	case AccessRFO:
		return "rfo"
	case AccessPrefetch:
		return "prefetch"
	case AccessWrite:
		return "write"
	case AccessTranslation:
		return "translation"
	default:
		return "unknown"
	}
}

// Decision is the vote of a decision engine on a block.
type Decision int

// A block is either kept or evicted.
const (
	Keep Decision = iota
	Evict
)

func (d Decision) String() string {
	if d == Keep {
		return "KEEP"
	}

	return "EVICT"
}
