// Package cksum implements the classic Unix cksum(1) CRC algorithm (POSIX
// "crc" utility), which is a distinct bit layout from both hash/crc32.IEEE
// and the zlib/PNG variant: the polynomial is 0x04C11DB7 applied without
// input or output bit reflection, with the byte length of the input
// appended to the stream (least-significant byte first, only as many bytes
// as the length needs) before the final complement. No library in
// this module's dependency set implements this exact variant, so it is
// hand-rolled against a fixed, well-known table — see DESIGN.md for why no
// third-party package could serve this need.
package cksum

var table = buildTable()

func buildTable() [256]uint32 {
	const poly = 0x04C11DB7
	var t [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

func update(crc uint32, b byte) uint32 {
	return (crc << 8) ^ table[byte(crc>>24)^b]
}

// Sum computes the cksum(1)-compatible CRC of data and returns the checksum
// alongside the input length (cksum(1) prints both). The length is folded
// into the checksum per the algorithm before finally complementing the
// result, matching the reference POSIX utility bit-for-bit.
func Sum(data []byte) (sum uint32, length uint32) {
	var crc uint32
	for _, b := range data {
		crc = update(crc, b)
	}

	n := len(data)
	for n != 0 {
		crc = update(crc, byte(n&0xff))
		n >>= 8
	}

	return ^crc, uint32(len(data))
}
