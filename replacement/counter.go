package replacement

const (
	// CounterMax is the largest value a SatCounter can hold.
	CounterMax SatCounter = 3

	// KeepThreshold is the counter value at and above which a counter votes
	// to keep a block or to predict reuse.
	KeepThreshold SatCounter = 2

	// InitialLeafCounter is the value that leaf counters start with.
	InitialLeafCounter SatCounter = 2

	// InitialSignatureCounter is the value that signature counters start
	// with. Unseen signatures weakly predict no reuse.
	InitialSignatureCounter SatCounter = 1
)

// A SatCounter is a 2-bit saturating counter.
type SatCounter uint8

// Inc increments the counter, saturating at CounterMax.
func (c *SatCounter) Inc() {
	if *c < CounterMax {
		*c++
	}
}

// Dec decrements the counter, saturating at zero.
func (c *SatCounter) Dec() {
	if *c > 0 {
		*c--
	}
}

// IsHigh returns true if the counter is at or above KeepThreshold.
func (c SatCounter) IsHigh() bool {
	return c >= KeepThreshold
}
