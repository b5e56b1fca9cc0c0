package replacement

import (
	"fmt"
	"sync"
)

// DefaultSignatureBits is the signature width used when none is configured.
const DefaultSignatureBits = 12

// MaxSignatureBits is the widest signature a SignatureTable can index by.
const MaxSignatureBits = 24

// A ReusePredictor predicts whether a block brought in by a given instruction
// will be reused before it is evicted.
type ReusePredictor interface {
	Predict(signature uint64) bool
	Update(signature uint64, wasReused bool)
}

type noPrediction struct{}

func (noPrediction) Predict(uint64) bool { return false }

func (noPrediction) Update(uint64, bool) {}

// SignatureTable is a ReusePredictor backed by a table of saturating counters
// indexed by the low bits of the instruction-pointer signature. Signatures
// that share their low bits share a counter.
type SignatureTable struct {
	indexBits int
	mask      uint64
	counters  []SatCounter
}

// NewSignatureTable creates a SignatureTable with 2^indexBits counters.
func NewSignatureTable(indexBits int) *SignatureTable {
	if indexBits < 1 || indexBits > MaxSignatureBits {
		panic(fmt.Sprintf(
			"signature bits must be in [1, %d], got %d",
			MaxSignatureBits, indexBits))
	}

	t := &SignatureTable{
		indexBits: indexBits,
		mask:      1<<uint(indexBits) - 1,
		counters:  make([]SatCounter, 1<<uint(indexBits)),
	}

	for i := range t.counters {
		t.counters[i] = InitialSignatureCounter
	}

	return t
}

// IndexBits returns the number of signature bits used to index the table.
func (t *SignatureTable) IndexBits() int {
	return t.indexBits
}

// Index returns the table entry that a signature maps to.
func (t *SignatureTable) Index(signature uint64) int {
	return int(signature & t.mask)
}

// Counter returns the counter that a signature maps to.
func (t *SignatureTable) Counter(signature uint64) SatCounter {
	return t.counters[t.Index(signature)]
}

// Predict returns true if blocks with the signature are likely to be reused.
func (t *SignatureTable) Predict(signature uint64) bool {
	return t.counters[t.Index(signature)].IsHigh()
}

// Update trains the counter of the signature with an observed outcome.
func (t *SignatureTable) Update(signature uint64, wasReused bool) {
	c := &t.counters[t.Index(signature)]
	if wasReused {
		c.Inc()
	} else {
		c.Dec()
	}
}

// SharedPredictor serializes access to a predictor that several policies
// train at the same time.
type SharedPredictor struct {
	lock      sync.Mutex
	predictor ReusePredictor
}

// NewSharedPredictor wraps a predictor so that it can be shared.
func NewSharedPredictor(p ReusePredictor) *SharedPredictor {
	if p == nil {
		p = noPrediction{}
	}

	return &SharedPredictor{predictor: p}
}

// Predict implements ReusePredictor.
func (s *SharedPredictor) Predict(signature uint64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.predictor.Predict(signature)
}

// Update implements ReusePredictor.
func (s *SharedPredictor) Update(signature uint64, wasReused bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.predictor.Update(signature, wasReused)
}
