package process

import (
	"encoding/binary"
	"fmt"
)

// PointerSize is the width of a pointer in the target process.
const PointerSize = 8

// ReadPointer reads a little-endian pointer at addr
func ReadPointer(view MemoryView, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	data, err := view.ReadMemory(addr, PointerSize)
	if err != nil {
		return 0, err
	}
	return ProcessMemoryAddress(binary.LittleEndian.Uint64(data)), nil
}

// ReadPath follows a pointer path. It starts at base, adds the first offset,
// reads a pointer, adds the next offset, reads a pointer, etc. The last
// offset is added to the final pointer without dereferencing it.
// If offsets is empty, base is returned unchanged.
func ReadPath(view MemoryView, base ProcessMemoryAddress, offsets ...int64) (ProcessMemoryAddress, error) {
	currentAddr := base

	for i := 0; i < len(offsets)-1; i++ {
		ptrAddr := currentAddr.Add(offsets[i])

		ptrVal, err := ReadPointer(view, ptrAddr)
		if err != nil {
			return 0, fmt.Errorf("failed to read pointer at offset %d (addr 0x%x): %w", i, uint64(ptrAddr), err)
		}

		if ptrVal == 0 {
			return 0, fmt.Errorf("pointer at offset %d (addr 0x%x) is null: %w", i, uint64(ptrAddr), ErrInvalidPointer)
		}

		currentAddr = ptrVal
	}

	if len(offsets) > 0 {
		currentAddr = currentAddr.Add(offsets[len(offsets)-1])
	}

	return currentAddr, nil
}

// Displacement decodes a signed little-endian integer of width 1, 2, 4 or 8 bytes
func Displacement(data []byte) (int64, error) {
	switch len(data) {
	case 1:
		return int64(int8(data[0])), nil
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(data))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(data))), nil
	case 8:
		return int64(binary.LittleEndian.Uint64(data)), nil
	}
	return 0, fmt.Errorf("unsupported displacement width %d", len(data))
}
