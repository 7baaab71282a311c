package woq

// UnpackNBitsRow splits one MatMulNBits blob back into groupSize codes.
func UnpackNBitsRow(blob []byte, bits, groupSize int) []uint8 {
	out := make([]uint8, groupSize)
	if bits > 4 {
		copy(out, blob)
		return out
	}
	for k := 0; k < groupSize; k += 2 {
		b := blob[k/2]
		out[k] = b & 0x0F
		out[k+1] = b >> 4
	}
	return out
}

// UnpackZeroPoints reverses the nibble packing of MatMulNBits zero points.
func UnpackZeroPoints(packed []byte, n, bits int) []uint8 {
	out := make([]uint8, n)
	if bits > 4 {
		copy(out, packed)
		return out
	}
	for idx := range n {
		b := packed[idx/2]
		if idx&1 == 1 {
			out[idx] = b >> 4
		} else {
			out[idx] = b & 0x0F
		}
	}
	return out
}

// UnpackLegacyRow returns the codes of one MatMulFpQ4 blob, skipping the scale
// and optional zero-point header.
func UnpackLegacyRow(blob []byte, bits, groupSize int, hasZP bool) []uint8 {
	offset := 4
	if hasZP {
		offset = 5
	}
	half := groupSize / 2
	mask := uint8(1)<<bits - 1
	out := make([]uint8, groupSize)
	for j := range half {
		b := blob[offset+j]
		out[j] = b & mask
		out[j+half] = b >> bits
	}
	return out
}
