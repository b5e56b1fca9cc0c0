package replacement

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("BaselineEngine", func() {
	var engine *BaselineEngine

	BeforeEach(func() {
		engine = NewBaselineEngine()
	})

	It("should start with all leaves voting keep", func() {
		Expect(engine.NumLeaves()).To(Equal(BaselineNumLeaves))
		for _, c := range engine.Counters() {
			Expect(c).To(Equal(InitialLeafCounter))
		}
	})

	DescribeTable("leaf selection",
		func(block Block, leaf int) {
			Expect(engine.Leaf(block)).To(Equal(leaf))
		},
		Entry("cold prefetch", Block{IsPrefetch: true, Recency: 10}, 0),
		Entry("cold stale", Block{Recency: 7}, 1),
		Entry("cold at the stale boundary", Block{Recency: 6}, 2),
		Entry("cold recent", Block{Recency: 1}, 2),
		Entry("warm reused", Block{HitsSinceInsertion: 2, IsReused: true}, 3),
		Entry("warm reused prefetch",
			Block{HitsSinceInsertion: 1, IsReused: true, IsPrefetch: true}, 3),
		Entry("warm not reused", Block{HitsSinceInsertion: 1, Recency: 9}, 4),
	)

	It("should keep cold recent blocks until reuse lowers their leaf", func() {
		blocks := make([]Block, 8)
		for i := range blocks {
			blocks[i] = Block{IsValid: true, Recency: i % 7}
			Expect(engine.Leaf(blocks[i])).To(Equal(2))
			Expect(engine.Classify(blocks[i])).To(Equal(Keep))
		}

		engine.UpdateOnEviction(blocks[0], false)
		for _, b := range blocks {
			Expect(engine.Classify(b)).To(Equal(Keep))
		}

		engine.UpdateOnEviction(blocks[0], true)
		engine.UpdateOnEviction(blocks[0], true)
		for _, b := range blocks {
			Expect(engine.Classify(b)).To(Equal(Evict))
		}
	})

	It("should move the counter down on reuse and up otherwise", func() {
		block := Block{HitsSinceInsertion: 1}

		engine.UpdateOnEviction(block, true)
		Expect(engine.Counters()[4]).To(Equal(SatCounter(1)))

		engine.UpdateOnEviction(block, false)
		engine.UpdateOnEviction(block, false)
		Expect(engine.Counters()[4]).To(Equal(SatCounter(3)))
	})

	It("should saturate leaf counters", func() {
		block := Block{IsPrefetch: true}

		for i := 0; i < 10; i++ {
			engine.UpdateOnEviction(block, true)
		}
		Expect(engine.Counters()[0]).To(Equal(SatCounter(0)))

		for i := 0; i < 10; i++ {
			engine.UpdateOnEviction(block, false)
		}
		Expect(engine.Counters()[0]).To(Equal(CounterMax))
	})

	It("should classify without changing state", func() {
		block := Block{HitsSinceInsertion: 3, IsReused: true}
		before := engine.Counters()

		first := engine.Classify(block)
		second := engine.Classify(block)

		Expect(first).To(Equal(second))
		Expect(engine.Counters()).To(Equal(before))
	})

	It("should return a copy of the counters", func() {
		counters := engine.Counters()
		counters[0] = 0

		Expect(engine.Counters()[0]).To(Equal(InitialLeafCounter))
	})
})

var _ = Describe("EnhancedEngine", func() {
	var (
		mockCtrl  *gomock.Controller
		predictor *MockReusePredictor
		engine    *EnhancedEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		predictor = NewMockReusePredictor(mockCtrl)
		engine = NewEnhancedEngine(predictor)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should have six leaves", func() {
		Expect(engine.NumLeaves()).To(Equal(EnhancedNumLeaves))
	})

	It("should not consult the predictor for cold blocks", func() {
		Expect(engine.Leaf(Block{IsPrefetch: true})).To(Equal(0))
		Expect(engine.Leaf(Block{Recency: 8})).To(Equal(1))
		Expect(engine.Leaf(Block{Recency: 3})).To(Equal(2))
	})

	It("should put warm blocks predicted to be reused in leaf 3", func() {
		predictor.EXPECT().Predict(uint64(0x3C)).Return(true)

		Expect(engine.Leaf(Block{
			HitsSinceInsertion: 1,
			IsDirty:            true,
			Signature:          0x3C,
		})).To(Equal(3))
	})

	It("should put dirty warm blocks in leaf 4", func() {
		predictor.EXPECT().Predict(uint64(0x3C)).Return(false)

		Expect(engine.Leaf(Block{
			HitsSinceInsertion: 1,
			IsDirty:            true,
			Signature:          0x3C,
		})).To(Equal(4))
	})

	It("should put clean warm blocks in leaf 5", func() {
		predictor.EXPECT().Predict(uint64(0x3C)).Return(false)

		Expect(engine.Leaf(Block{
			HitsSinceInsertion: 1,
			Signature:          0x3C,
		})).To(Equal(5))
	})

	It("should train the leaf and forward the outcome to the predictor", func() {
		block := Block{HitsSinceInsertion: 2, Signature: 0x77}

		gomock.InOrder(
			predictor.EXPECT().Predict(uint64(0x77)).Return(false),
			predictor.EXPECT().Update(uint64(0x77), true),
		)

		engine.UpdateOnEviction(block, true)

		Expect(engine.Counters()[5]).To(Equal(SatCounter(1)))
	})

	It("should forward cold outcomes to the predictor too", func() {
		predictor.EXPECT().Update(uint64(0x12), false)

		engine.UpdateOnEviction(Block{Signature: 0x12}, false)

		Expect(engine.Counters()[2]).To(Equal(SatCounter(3)))
	})
})

var _ = Describe("EnhancedEngine with a signature table", func() {
	It("should assign a warm clean block with a reused signature to leaf 3", func() {
		table := NewSignatureTable(DefaultSignatureBits)
		for i := 0; i < 3; i++ {
			table.Update(0x3C, true)
		}

		engine := NewEnhancedEngine(table)
		block := Block{HitsSinceInsertion: 4, Signature: 0x3C}

		Expect(table.Predict(0x3C)).To(BeTrue())
		Expect(engine.Leaf(block)).To(Equal(3))
	})

	It("should treat a missing predictor as no reuse", func() {
		engine := NewEnhancedEngine(nil)

		Expect(engine.Leaf(Block{HitsSinceInsertion: 1})).To(Equal(5))
		Expect(engine.Leaf(Block{HitsSinceInsertion: 1, IsDirty: true})).
			To(Equal(4))

		engine.UpdateOnEviction(Block{HitsSinceInsertion: 1}, true)
		Expect(engine.Counters()[5]).To(Equal(SatCounter(1)))
	})

	It("should learn leaves and signatures from the same outcomes", func() {
		table := NewSignatureTable(8)
		engine := NewEnhancedEngine(table)
		block := Block{HitsSinceInsertion: 1, Signature: 0x42}

		engine.UpdateOnEviction(block, true)

		Expect(engine.Counters()[5]).To(Equal(SatCounter(1)))
		Expect(table.Predict(0x42)).To(BeTrue())
		Expect(engine.Leaf(block)).To(Equal(3))
	})
})
