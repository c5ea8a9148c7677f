package delta

// rollingHash computes a position-independent Adler-32-style pair (a, b)
// over the trailing `window` bytes of data (or the whole chunk, if it is
// shorter than the window). It is cheap on purpose: its only job is to
// rule out obviously-different chunks before we pay for a SHA-256.
func rollingHash(data []byte, window int) uint32 {
	start := 0
	if len(data) > window {
		start = len(data) - window
	}
	segment := data[start:]

	const mod = 65521
	var a, b uint32 = 1, 0
	for _, by := range segment {
		a = (a + uint32(by)) % mod
		b = (b + a) % mod
	}
	return (b << 16) | a
}
