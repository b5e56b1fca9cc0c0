package replacement

// An Engine sorts blocks into leaves and lets each leaf vote on whether its
// blocks should be kept. The votes are learned from eviction outcomes.
type Engine interface {
	// Leaf returns the leaf that the block falls into.
	Leaf(block Block) int

	// Classify returns the vote of the block's leaf. It does not change the
	// state of the engine.
	Classify(block Block) Decision

	// UpdateOnEviction trains the engine with the outcome of an eviction.
	UpdateOnEviction(block Block, wasReused bool)

	// NumLeaves returns the number of leaves of the engine.
	NumLeaves() int

	// Counters returns a copy of the leaf counters.
	Counters() []SatCounter
}

type leafTable struct {
	counters []SatCounter
}

func newLeafTable(numLeaves int) leafTable {
	t := leafTable{counters: make([]SatCounter, numLeaves)}
	for i := range t.counters {
		t.counters[i] = InitialLeafCounter
	}

	return t
}

func (t *leafTable) vote(leaf int) Decision {
	if t.counters[leaf].IsHigh() {
		return Keep
	}

	return Evict
}

// An eviction of a reused block means the leaf should have kept it.
func (t *leafTable) train(leaf int, wasReused bool) {
	if wasReused {
		t.counters[leaf].Dec()
	} else {
		t.counters[leaf].Inc()
	}
}

func (t *leafTable) NumLeaves() int {
	return len(t.counters)
}

func (t *leafTable) Counters() []SatCounter {
	c := make([]SatCounter, len(t.counters))
	copy(c, t.counters)

	return c
}

// coldLeaf sorts a block that has not been hit since insertion.
func coldLeaf(block Block) (leaf int, ok bool) {
	if block.HitsSinceInsertion != 0 {
		return 0, false
	}

	switch {
	case block.IsPrefetch:
		return 0, true
	case block.Recency > StaleRecencyRank:
		return 1, true
	default:
		return 2, true
	}
}

// BaselineEngine classifies blocks by hit count, prefetch origin, recency,
// and whether the block has been reused.
type BaselineEngine struct {
	leafTable
}

// BaselineNumLeaves is the number of leaves of a BaselineEngine.
const BaselineNumLeaves = 5

// NewBaselineEngine creates a BaselineEngine with all counters set to
// InitialLeafCounter.
func NewBaselineEngine() *BaselineEngine {
	return &BaselineEngine{leafTable: newLeafTable(BaselineNumLeaves)}
}

// Leaf implements Engine.
func (e *BaselineEngine) Leaf(block Block) int {
	if leaf, ok := coldLeaf(block); ok {
		return leaf
	}

	if block.IsReused {
		return 3
	}

	return 4
}

// Classify implements Engine.
func (e *BaselineEngine) Classify(block Block) Decision {
	return e.vote(e.Leaf(block))
}

// UpdateOnEviction implements Engine.
func (e *BaselineEngine) UpdateOnEviction(block Block, wasReused bool) {
	e.train(e.Leaf(block), wasReused)
}

// EnhancedEngine extends the baseline leaves with the prediction of a
// ReusePredictor and splits the remaining warm blocks by dirtiness.
type EnhancedEngine struct {
	leafTable
	predictor ReusePredictor
}

// EnhancedNumLeaves is the number of leaves of an EnhancedEngine.
const EnhancedNumLeaves = 6

// NewEnhancedEngine creates an EnhancedEngine that consults the given
// predictor. The engine does not own the predictor. A nil predictor never
// predicts reuse.
func NewEnhancedEngine(predictor ReusePredictor) *EnhancedEngine {
	if predictor == nil {
		predictor = noPrediction{}
	}

	return &EnhancedEngine{
		leafTable: newLeafTable(EnhancedNumLeaves),
		predictor: predictor,
	}
}

// Predictor returns the predictor that the engine consults.
func (e *EnhancedEngine) Predictor() ReusePredictor {
	return e.predictor
}

// Leaf implements Engine.
func (e *EnhancedEngine) Leaf(block Block) int {
	if leaf, ok := coldLeaf(block); ok {
		return leaf
	}

	switch {
	case e.predictor.Predict(block.Signature):
		return 3
	case block.IsDirty:
		return 4
	default:
		return 5
	}
}

// Classify implements Engine.
func (e *EnhancedEngine) Classify(block Block) Decision {
	return e.vote(e.Leaf(block))
}

// UpdateOnEviction implements Engine. The leaf is chosen before the predictor
// learns from the same outcome.
func (e *EnhancedEngine) UpdateOnEviction(block Block, wasReused bool) {
	e.train(e.Leaf(block), wasReused)
	e.predictor.Update(block.Signature, wasReused)
}
