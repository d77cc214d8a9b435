package media

// G.711 companding for 8 kHz telephony audio.

const (
	muBias = 0x84
	muClip = 32635

	// Encoded silence for each law.
	muLawSilence byte = 0xFF
	aLawSilence  byte = 0xD5
)

func muLawEncode(s int16) byte {
	sample := int(s)
	sign := 0
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > muClip {
		sample = muClip
	}
	sample += muBias

	exponent := 7
	for mask := 0x4000; sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

func muLawDecode(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int(mantissa) << 3) + muBias) << exponent
	sample -= muBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func aLawDecode(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	switch seg := int(a&0x70) >> 4; seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}
