package compute

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
)

type cpuBuffer struct {
	desc      BufferDescriptor
	words     []uint32
	dev       *CPUDevice
	destroyed atomic.Bool
}

func (b *cpuBuffer) Label() string      { return b.desc.Label }
func (b *cpuBuffer) Size() uint64       { return b.desc.Size }
func (b *cpuBuffer) Usage() BufferUsage { return b.desc.Usage }

// Destroy releases the buffer. Calling it more than once is a no-op.
func (b *cpuBuffer) Destroy() {
	if b.destroyed.CompareAndSwap(false, true) {
		b.dev.live.Add(-1)
	}
}

func (b *cpuBuffer) bytes() []byte {
	out := make([]byte, len(b.words)*4)
	for i := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], atomic.LoadUint32(&b.words[i]))
	}
	return out
}

func (b *cpuBuffer) write(offset uint64, data []byte) error {
	if offset%4 != 0 || len(data)%4 != 0 {
		return fmt.Errorf("write to %q must be 4-byte aligned", b.desc.Label)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("write of %d bytes at %d overflows %q (%d bytes)", len(data), offset, b.desc.Label, b.desc.Size)
	}
	base := int(offset / 4)
	for i := 0; i < len(data)/4; i++ {
		b.words[base+i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nil
}

// EncodeFloat64s packs values as little-endian float64s.
func EncodeFloat64s(values []float64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// EncodeUint32s packs values as little-endian uint32s.
func EncodeUint32s(values ...uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// DecodeUint32s unpacks little-endian uint32s. Trailing bytes are ignored.
func DecodeUint32s(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}
