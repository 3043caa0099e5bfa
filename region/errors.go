package region

import "errors"

var (
	// ErrRegionMagic is returned by Open when the backing file does not
	// carry this package's magic number. Recovery must fail outright.
	ErrRegionMagic = errors.New("region magic mismatch")

	// ErrRegionVersion is returned by Open when the header's format
	// version is one this build does not know how to read.
	ErrRegionVersion = errors.New("region version mismatch")

	// ErrAllocExhausted is returned by Alloc when no size class has room
	// left. The caller reports allocation failure; no partial state is
	// left behind.
	ErrAllocExhausted = errors.New("region: allocator exhausted")
)
