// Package machine carries machine-level constants: cache line size and
// fixed padding types used to keep hot structures from sharing cache lines.
package machine

const (
	// CacheLine is the assumed cache line size in bytes.
	CacheLine = 64

	// MaxThreadBits sizes MaxThreads as a power of two so handle ids can be
	// masked into a slot index cheaply.
	MaxThreadBits = 7
	MaxThreads    = 1 << MaxThreadBits

	MaxSlice = 1<<50 - 1
)

type ( // ensure MaxThreads is actually 128.
	_ [MaxThreads - 128]byte
	_ [128 - MaxThreads]byte
)

type (
	Pad64 [64]uint8
	Pad56 [56]uint8
	Pad52 [52]uint8
	Pad48 [48]uint8
	Pad44 [44]uint8
	Pad40 [40]uint8
	Pad36 [36]uint8
	Pad32 [32]uint8
	Pad24 [24]uint8
	Pad20 [20]uint8
	Pad16 [16]uint8
	Pad8  [8]uint8
)
