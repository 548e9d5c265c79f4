package audio

// G.711 μ-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulaw compresses samples to 8-bit G.711 μ-law.
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

// DecodeMulaw expands G.711 μ-law bytes to samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawToLinear(b)
	}
	return out
}

func linearToMulaw(sample int16) byte {
	v := int32(sample)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

func mulawToLinear(b byte) int16 {
	b = ^b
	exponent := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)

	v := ((mantissa << 3) + mulawBias) << exponent
	v -= mulawBias
	if b&0x80 != 0 {
		v = -v
	}
	return int16(v)
}
