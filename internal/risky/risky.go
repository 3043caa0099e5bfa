// package risky provides unsafe helpers.
package risky

import (
	"unsafe"
)

// Index returns the address to the element in the slice at the slot, given each
// element is size bytes.
func Index(slice unsafe.Pointer, size, slot uintptr) *unsafe.Pointer {
	// relies on the data pointer being first in a slice
	data := *(*unsafe.Pointer)(slice)
	ptr := unsafe.Pointer(uintptr(data) + size*slot)
	return (*unsafe.Pointer)(ptr)
}

// Add returns the address offset bytes past ptr.
func Add(ptr unsafe.Pointer, offset uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(ptr) + offset)
}

// Slice returns a []byte of the given length backed by the memory at ptr.
// The caller is responsible for ptr staying valid for the slice's lifetime.
func Slice(ptr unsafe.Pointer, length int) []byte {
	return unsafe.Slice((*byte)(ptr), length)
}
