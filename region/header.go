package region

import (
	"bytes"
	"fmt"
	"unsafe"
)

const headerMagic = "PBLKSTOR"
const headerVersion = uint32(1)

// header is the region's bit-exact 64-byte on-disk preamble (spec §6):
// magic, format version, the last-known epoch, the allocator root offset
// and reserved padding. The field list, not the prose "64-byte header"
// label, is authoritative — see DESIGN.md for how the reserved span was
// sized to make the two agree.
type header struct {
	magic    [8]byte
	version  uint32
	epoch    uint64
	root     uint64
	reserved [32]byte
}

const headerSize = unsafe.Sizeof(header{})

type ( // header must be exactly 64 bytes, per spec §6.
	_ [headerSize - 64]byte
	_ [64 - headerSize]byte
)

func (h *header) init() {
	copy(h.magic[:], headerMagic)
	h.version = headerVersion
	h.epoch = 0
	h.root = 0
}

func (h *header) validate() error {
	if !bytes.Equal(h.magic[:], []byte(headerMagic)) {
		return fmt.Errorf("region: %w", ErrRegionMagic)
	}
	if h.version != headerVersion {
		return fmt.Errorf("region: %w", ErrRegionVersion)
	}
	return nil
}
