package cachesim

// A Block is the state that the cache keeps for a cache line.
type Block struct {
	Tag                uint64
	IP                 uint64
	SetID              int
	WayID              int
	IsValid            bool
	IsDirty            bool
	IsPrefetch         bool
	IsReused           bool
	HitsSinceInsertion uint32
	AccessCount        uint32
}

// A Set is a list of blocks where a certain piece memory can be stored at.
type Set struct {
	Blocks []Block
}

type tagArray struct {
	NumSets   int
	NumWays   int
	BlockSize int
	Sets      []Set
}

func newTagArray(numSets, numWays, blockSize int) *tagArray {
	t := &tagArray{
		NumSets:   numSets,
		NumWays:   numWays,
		BlockSize: blockSize,
	}

	t.Reset()

	return t
}

// TotalSize returns the maximum number of bytes can be stored in the cache.
func (t *tagArray) TotalSize() uint64 {
	return uint64(t.NumSets) * uint64(t.NumWays) * uint64(t.BlockSize)
}

// BlockAddr returns the address of the cache line that holds addr.
func (t *tagArray) BlockAddr(addr uint64) uint64 {
	return addr / uint64(t.BlockSize) * uint64(t.BlockSize)
}

// GetSet returns the set that an address maps to.
func (t *tagArray) GetSet(addr uint64) (set *Set, setID int) {
	setID = int(addr / uint64(t.BlockSize) % uint64(t.NumSets))
	set = &t.Sets[setID]

	return set, setID
}

// Lookup finds the valid block that holds addr.
func (t *tagArray) Lookup(addr uint64) (*Block, bool) {
	blockAddr := t.BlockAddr(addr)
	set, _ := t.GetSet(addr)

	for i := range set.Blocks {
		block := &set.Blocks[i]
		if block.IsValid && block.Tag == blockAddr {
			return block, true
		}
	}

	return nil, false
}

// Reset marks all the blocks invalid.
func (t *tagArray) Reset() {
	t.Sets = make([]Set, t.NumSets)
	for i := range t.Sets {
		t.Sets[i].Blocks = make([]Block, t.NumWays)
		for j := range t.Sets[i].Blocks {
			t.Sets[i].Blocks[j] = Block{SetID: i, WayID: j}
		}
	}
}
