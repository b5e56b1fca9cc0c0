package replacement

// FeatureSignatureMask truncates instruction-pointer signatures in feature
// records.
const FeatureSignatureMask = 0xFFF

// A FeatureRecord describes one access to a cache line. The records are the
// training data for offline models of the decision engines.
type FeatureRecord struct {
	Cycle      uint64
	Set        int
	Way        int
	Signature  uint64
	Recency    int
	Hits       uint32
	Prefetch   bool
	Dirty      bool
	Reused     bool
	AccessKind AccessKind
	Hit        bool
}

// NewFeatureRecord extracts the features of a block access.
func NewFeatureRecord(
	cycle uint64,
	set, way int,
	block Block,
	kind AccessKind,
	hit bool,
) FeatureRecord {
	return FeatureRecord{
		Cycle:      cycle,
		Set:        set,
		Way:        way,
		Signature:  block.Signature & FeatureSignatureMask,
		Recency:    block.Recency,
		Hits:       block.HitsSinceInsertion,
		Prefetch:   block.IsPrefetch,
		Dirty:      block.IsDirty,
		Reused:     block.IsReused,
		AccessKind: kind,
		Hit:        hit,
	}
}

// A FeatureSink receives feature records. A sink that fails to record does not
// affect replacement decisions.
type FeatureSink interface {
	Record(record FeatureRecord) error
}

// An EvictionRecord describes a fill and the block it replaced. VictimAddr is
// 0 when the way was empty.
type EvictionRecord struct {
	Cycle      uint64
	Set        int
	Way        int
	VictimAddr uint64
	NewAddr    uint64
}

// An EvictionSink receives an eviction record per fill. A sink that fails to
// record does not affect replacement decisions.
type EvictionSink interface {
	RecordEviction(record EvictionRecord) error
}
