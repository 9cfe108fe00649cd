package sdcard

// crc7Poly is x^7 + x^3 + 1.
const crc7Poly = 0x09

// CRC7 returns the 7-bit CRC of data as used in command frames, in the low
// seven bits of the result.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			crc <<= 1
			if (b^crc)&0x80 != 0 {
				crc ^= crc7Poly
			}
			b <<= 1
		}
	}
	return crc & 0x7F
}
