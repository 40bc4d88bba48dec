package pack

import "unsafe"

// rawBytes reinterprets a slice of plain-data values as its backing bytes. V must not
// contain pointers.
func rawBytes[V any](items []V) []byte {
	if len(items) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&items[0])), len(items)*int(unsafe.Sizeof(items[0])))
}

// mappedBytes views a persistent mapping as a byte slice of the given length.
func mappedBytes(mapped unsafe.Pointer, length int) []byte {
	return unsafe.Slice((*byte)(mapped), length)
}
