package replacement

import (
	"errors"
	"io"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var quietLogger = log.New(io.Discard, "", 0)

var _ = Describe("Policy", func() {
	var (
		mockCtrl *gomock.Controller
		sink     *MockFeatureSink
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sink = NewMockFeatureSink(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	fillAll := func(p *Policy, set int, blocks []Block) {
		for way := range blocks {
			p.OnFill(set, way, uint64(way)*64, 0)
		}
	}

	Context("with the lru strategy", func() {
		var policy *Policy

		BeforeEach(func() {
			policy = MakeBuilder().
				WithNumSets(4).
				WithNumWays(4).
				WithReplaceStrategy("lru").
				WithLogger(quietLogger).
				Build("LLC")
		})

		It("should not have an engine", func() {
			Expect(policy.Engine()).To(BeNil())
			Expect(policy.Classify(Block{})).To(Equal(Keep))
		})

		It("should evict the least recently filled way", func() {
			blocks := validBlocks(4)
			fillAll(policy, 2, blocks)
			policy.OnAccess(2, 0, true, AccessLoad, blocks[0])

			Expect(policy.FindVictim(2, blocks)).To(Equal(1))
			Expect(policy.Stats().LRUVictims).To(Equal(uint64(1)))
		})

		It("should advance the logical clock on fills and accesses", func() {
			policy.OnFill(0, 0, 0x40, 0)
			policy.OnAccess(0, 0, true, AccessLoad, Block{})

			Expect(policy.Cycle()).To(Equal(uint64(2)))
			Expect(policy.Tracker().LastUsed(0, 0)).To(Equal(uint64(2)))
		})

		It("should count evictions without an engine", func() {
			policy.UpdateOnEviction(Block{}, true)
			policy.UpdateOnEviction(Block{}, false)

			Expect(policy.Stats().Evictions).To(Equal(uint64(2)))
			Expect(policy.Stats().ReusedEvictions).To(Equal(uint64(1)))
		})
	})

	Context("with the baseline strategy", func() {
		var policy *Policy

		BeforeEach(func() {
			policy = MakeBuilder().
				WithNumSets(4).
				WithNumWays(4).
				WithReplaceStrategy("baseline").
				WithLogger(quietLogger).
				Build("LLC")
		})

		It("should prefer invalid ways over engine votes", func() {
			blocks := validBlocks(4)
			blocks[3].IsValid = false
			for i := 0; i < 3; i++ {
				policy.UpdateOnEviction(Block{}, true)
			}

			Expect(policy.FindVictim(0, blocks)).To(Equal(3))
			Expect(policy.Stats().InvalidVictims).To(Equal(uint64(1)))
		})

		It("should fall back to lru when every leaf votes keep", func() {
			blocks := validBlocks(4)
			fillAll(policy, 0, blocks)

			Expect(policy.FindVictim(0, blocks)).To(Equal(0))
			Expect(policy.Stats().LRUVictims).To(Equal(uint64(1)))
		})

		It("should evict the oldest block that the engine votes to evict", func() {
			blocks := validBlocks(4)
			fillAll(policy, 1, blocks)
			blocks[2].HitsSinceInsertion = 1
			blocks[3].HitsSinceInsertion = 1

			policy.UpdateOnEviction(Block{HitsSinceInsertion: 1}, true)

			Expect(policy.Classify(blocks[0])).To(Equal(Keep))
			Expect(policy.Classify(blocks[2])).To(Equal(Evict))
			Expect(policy.FindVictim(1, blocks)).To(Equal(2))
			Expect(policy.Stats().EngineVictims).To(Equal(uint64(1)))
		})

		It("should prefer non-prefetched blocks among evict votes", func() {
			blocks := validBlocks(4)
			fillAll(policy, 1, blocks)
			for way := range blocks {
				blocks[way].HitsSinceInsertion = 1
			}
			blocks[0].IsPrefetch = true

			policy.UpdateOnEviction(Block{HitsSinceInsertion: 1}, true)

			Expect(policy.FindVictim(1, blocks)).To(Equal(1))
		})

		It("should evict prefetched blocks if only they vote to evict", func() {
			blocks := validBlocks(4)
			fillAll(policy, 1, blocks)
			blocks[3].IsPrefetch = true

			policy.UpdateOnEviction(Block{IsPrefetch: true}, true)

			Expect(policy.FindVictim(1, blocks)).To(Equal(3))
			Expect(policy.Stats().EngineVictims).To(Equal(uint64(1)))
		})
	})

	Context("with live ways", func() {
		It("should only evict live ways", func() {
			policy := MakeBuilder().
				WithNumSets(2).
				WithNumWays(8).
				WithReplaceStrategy("enhanced").
				WithLiveWays(func(set int) int { return 2 + set }).
				WithLogger(quietLogger).
				Build("LLC")

			blocks := validBlocks(8)
			for way := 7; way >= 0; way-- {
				policy.OnFill(1, way, 0, 0)
			}

			Expect(policy.LiveWays(1)).To(Equal(3))
			Expect(policy.FindVictim(1, blocks)).To(Equal(2))
		})

		It("should clamp inconsistent live ways", func() {
			policy := MakeBuilder().
				WithNumSets(2).
				WithNumWays(4).
				WithLiveWays(func(int) int { return 16 }).
				WithLogger(quietLogger).
				Build("LLC")

			victim := policy.FindVictim(0, validBlocks(4))

			Expect(victim).To(BeNumerically("<", 4))
			Expect(policy.Stats().Clamps).To(Equal(uint64(1)))
		})
	})

	Context("with a feature sink", func() {
		var policy *Policy

		BeforeEach(func() {
			policy = MakeBuilder().
				WithNumSets(4).
				WithNumWays(4).
				WithReplaceStrategy("baseline").
				WithFeatureSink(sink).
				WithLogger(quietLogger).
				Build("LLC")
		})

		It("should record the features of each access", func() {
			block := Block{
				IsValid:            true,
				IsDirty:            true,
				IsReused:           true,
				HitsSinceInsertion: 3,
				Recency:            2,
				Signature:          0xABCDE,
			}

			sink.EXPECT().Record(FeatureRecord{
				Cycle:      1,
				Set:        3,
				Way:        1,
				Signature:  0xCDE,
				Recency:    2,
				Hits:       3,
				Dirty:      true,
				Reused:     true,
				AccessKind: AccessRFO,
				Hit:        true,
			}).Return(nil)

			policy.OnAccess(3, 1, true, AccessRFO, block)

			Expect(policy.Stats().Hits).To(Equal(uint64(1)))
			Expect(policy.Stats().SinkErrors).To(BeZero())
		})

		It("should not let sink failures change decisions", func() {
			blocks := validBlocks(4)
			sink.EXPECT().Record(gomock.Any()).
				Return(errors.New("disk full")).
				Times(4)

			for way := range blocks {
				policy.OnFill(0, way, 0, 0)
			}
			for way := 3; way >= 0; way-- {
				policy.OnAccess(0, way, way != 2, AccessLoad, blocks[way])
			}

			Expect(policy.FindVictim(0, blocks)).To(Equal(2))
			Expect(policy.Stats().SinkErrors).To(Equal(uint64(4)))
			Expect(policy.Engine().Counters()).
				To(Equal(NewBaselineEngine().Counters()))
		})
	})

	Context("with an eviction sink", func() {
		var (
			evictions *MockEvictionSink
			policy    *Policy
		)

		BeforeEach(func() {
			evictions = NewMockEvictionSink(mockCtrl)
			policy = MakeBuilder().
				WithNumSets(4).
				WithNumWays(2).
				WithReplaceStrategy("lru").
				WithEvictionSink(evictions).
				WithLogger(quietLogger).
				Build("LLC")
		})

		It("should record the victim and the new block of each fill", func() {
			gomock.InOrder(
				evictions.EXPECT().RecordEviction(EvictionRecord{
					Cycle:   1,
					Set:     2,
					Way:     0,
					NewAddr: 0x80,
				}).Return(nil),
				evictions.EXPECT().RecordEviction(EvictionRecord{
					Cycle:      2,
					Set:        2,
					Way:        0,
					VictimAddr: 0x80,
					NewAddr:    0x180,
				}).Return(nil),
			)

			policy.OnFill(2, 0, 0x80, 0)
			policy.OnFill(2, 0, 0x180, 0x80)

			Expect(policy.Stats().Fills).To(Equal(uint64(2)))
			Expect(policy.Stats().SinkErrors).To(BeZero())
		})

		It("should not let eviction sink failures change decisions", func() {
			evictions.EXPECT().RecordEviction(gomock.Any()).
				Return(errors.New("disk full")).
				Times(2)

			blocks := validBlocks(2)
			policy.OnFill(0, 1, 0x40, 0)
			policy.OnFill(0, 0, 0x140, 0)

			Expect(policy.FindVictim(0, blocks)).To(Equal(1))
			Expect(policy.Tracker().LastUsed(0, 0)).To(Equal(uint64(2)))
			Expect(policy.Stats().SinkErrors).To(Equal(uint64(2)))
		})
	})

	Context("sharing a predictor", func() {
		It("should let policies learn from each other", func() {
			shared := NewSharedPredictor(NewSignatureTable(8))
			b := MakeBuilder().
				WithNumSets(1).
				WithNumWays(2).
				WithPredictor(shared).
				WithLogger(quietLogger)
			core0 := b.Build("Core0.L2")
			core1 := b.Build("Core1.L2")

			block := Block{HitsSinceInsertion: 1, Signature: 0x9}
			core0.UpdateOnEviction(block, true)

			Expect(core1.Engine().Leaf(block)).To(Equal(3))
			Expect(core1.Engine().Counters()).
				To(Equal(NewEnhancedEngine(nil).Counters()))
		})
	})
})

var _ = Describe("Builder", func() {
	It("should panic on an unknown strategy", func() {
		Expect(func() {
			MakeBuilder().WithReplaceStrategy("random").Build("LLC")
		}).To(Panic())
	})

	It("should build an enhanced policy by default", func() {
		p := MakeBuilder().WithLogger(quietLogger).Build("LLC")

		engine, ok := p.Engine().(*EnhancedEngine)
		Expect(ok).To(BeTrue())
		Expect(p.Name()).To(Equal("LLC"))
		Expect(p.Tracker().NumSets()).To(Equal(2048))
		Expect(p.Tracker().NumWays()).To(Equal(16))
		Expect(p.LiveWays(0)).To(Equal(16))

		table, ok := engine.Predictor().(*SignatureTable)
		Expect(ok).To(BeTrue())
		Expect(table.IndexBits()).To(Equal(DefaultSignatureBits))
	})

	It("should not share sinks between derived builders", func() {
		base := MakeBuilder().WithFeatureSink(nil).WithEvictionSink(nil)
		a := base.WithFeatureSink(nil).WithEvictionSink(nil)
		b := base.WithFeatureSink(nil)

		Expect(a.sinks).To(HaveLen(2))
		Expect(b.sinks).To(HaveLen(2))
		Expect(a.evictionSinks).To(HaveLen(2))
		Expect(b.evictionSinks).To(HaveLen(1))
	})
})
