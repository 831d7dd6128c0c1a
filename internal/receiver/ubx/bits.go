// SPDX-License-Identifier: MIT

package ubx

// getBitU extracts len bits starting at bit position pos (MSB first) as an
// unsigned value.
func getBitU(buff []byte, pos, length int) uint32 {
	var v uint32
	for i := pos; i < pos+length; i++ {
		v = v<<1 | uint32(buff[i/8]>>(7-i%8))&1
	}
	return v
}

// getBitS extracts len bits starting at bit position pos as a two's
// complement signed value.
func getBitS(buff []byte, pos, length int) int32 {
	v := getBitU(buff, pos, length)
	if length <= 0 || length >= 32 || v&(1<<(length-1)) == 0 {
		return int32(v)
	}
	return int32(v | (^uint32(0) << length))
}

// setBitU stores the low len bits of v starting at bit position pos.
func setBitU(buff []byte, pos, length int, v uint32) {
	mask := uint32(1) << (length - 1)
	for i := pos; i < pos+length; i++ {
		if v&mask != 0 {
			buff[i/8] |= 1 << (7 - i%8)
		} else {
			buff[i/8] &^= 1 << (7 - i%8)
		}
		mask >>= 1
	}
}
