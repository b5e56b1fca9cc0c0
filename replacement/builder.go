package replacement

import "log"

// Builder can build replacement policies.
type Builder struct {
	numSets         int
	numWays         int
	replaceStrategy string
	signatureBits   int
	predictor       ReusePredictor
	liveWays        func(set int) int
	sinks           []FeatureSink
	evictionSinks   []EvictionSink
	logger          *log.Logger
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numSets:         2048,
		numWays:         16,
		replaceStrategy: "enhanced",
		signatureBits:   DefaultSignatureBits,
	}
}

// WithNumSets sets the number of sets of the cache.
func (b Builder) WithNumSets(numSets int) Builder {
	b.numSets = numSets
	return b
}

// WithNumWays sets the way associativity of the cache.
func (b Builder) WithNumWays(numWays int) Builder {
	b.numWays = numWays
	return b
}

// WithReplaceStrategy sets the replacement strategy. Supported strategies are
// "lru", "baseline", and "enhanced".
func (b Builder) WithReplaceStrategy(strategy string) Builder {
	b.replaceStrategy = strategy
	return b
}

// WithSignatureBits sets the number of signature bits that index the reuse
// predictor of the enhanced strategy.
func (b Builder) WithSignatureBits(bits int) Builder {
	b.signatureBits = bits
	return b
}

// WithPredictor sets the reuse predictor of the enhanced strategy. Policies
// that share a predictor should share a SharedPredictor.
func (b Builder) WithPredictor(predictor ReusePredictor) Builder {
	b.predictor = predictor
	return b
}

// WithLiveWays sets the function that reports how many ways of a set may
// hold blocks. By default, all ways are live.
func (b Builder) WithLiveWays(liveWays func(set int) int) Builder {
	b.liveWays = liveWays
	return b
}

// WithFeatureSink adds a sink that receives a feature record per access.
func (b Builder) WithFeatureSink(sink FeatureSink) Builder {
	sinks := make([]FeatureSink, len(b.sinks), len(b.sinks)+1)
	copy(sinks, b.sinks)
	b.sinks = append(sinks, sink)

	return b
}

// WithEvictionSink adds a sink that receives an eviction record per fill.
func (b Builder) WithEvictionSink(sink EvictionSink) Builder {
	sinks := make([]EvictionSink, len(b.evictionSinks), len(b.evictionSinks)+1)
	copy(sinks, b.evictionSinks)
	b.evictionSinks = append(sinks, sink)

	return b
}

// WithLogger sets the logger that receives diagnostics.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a new policy.
func (b Builder) Build(name string) *Policy {
	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}

	p := &Policy{
		name:     name,
		tracker:  NewRecencyTracker(b.numSets, b.numWays).WithLogger(logger),
		engine:   b.createEngine(),
		liveWays: b.liveWays,
		sinks:    b.sinks,
		evSinks:  b.evictionSinks,
		logger:   logger,
	}

	return p
}

func (b Builder) createEngine() Engine {
	switch b.replaceStrategy {
	case "lru":
		return nil
	case "baseline":
		return NewBaselineEngine()
	case "enhanced":
		predictor := b.predictor
		if predictor == nil {
			predictor = NewSignatureTable(b.signatureBits)
		}

		return NewEnhancedEngine(predictor)
	default:
		panic("unknown replace strategy: " + b.replaceStrategy)
	}
}
