package addr

import "encoding/binary"

// LowBitsV4 returns the low `bits` bits of a's 32-bit representation,
// right-aligned. bits must be in [0,32].
func LowBitsV4(a [4]byte, bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	v := binary.BigEndian.Uint32(a[:])
	return extractBitsUint32(v, 32-bits, bits)
}

// LowBitsV6 returns the low `bits` bits of a's 128-bit representation,
// right-aligned. bits must be in [0,32] — the EAM/pool6 invariant that the
// translatable suffix never exceeds 32 bits makes a uint32 sufficient.
func LowBitsV6(a [16]byte, bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return getBits(a, 128-bits, bits)
}

// WithLowBitsV4 returns p's address with its low `bits` bits replaced by
// the low `bits` bits of value.
func WithLowBitsV4(p Prefix4, bits int, value uint32) [4]byte {
	b := p.Addr.As4()
	if bits <= 0 {
		return b
	}
	v := binary.BigEndian.Uint32(b[:])
	v = insertBitsUint32(v, 32-bits, bits, value)
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// WithLowBitsV6 returns p's address with its low `bits` bits replaced by
// the low `bits` bits of value.
func WithLowBitsV6(p Prefix6, bits int, value uint32) [16]byte {
	b := p.Addr.As16()
	if bits <= 0 {
		return b
	}
	setBits(&b, 128-bits, bits, value)
	return b
}
