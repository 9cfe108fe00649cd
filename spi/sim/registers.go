package sim

// crcTable holds the CRC7 (x^7 + x^3 + 1) remainder of every byte value,
// aligned to the top seven bits.
var crcTable = func() (t [256]byte) {
	for i := range t {
		r := byte(i)
		for j := 0; j < 8; j++ {
			if r&0x80 != 0 {
				r = r<<1 ^ 0x09<<1
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// crc7 returns the CRC7 of data shifted into the top seven bits, with the
// end bit clear.
func crc7(data []byte) byte {
	var r byte
	for _, b := range data {
		r = crcTable[r^b]
	}
	return r
}

// setBits stores v into the field [msb:lsb] of a big-endian register image,
// where bit 0 is the least significant bit of the last byte.
func setBits(raw []byte, msb, lsb int, v uint32) {
	for p := lsb; p <= msb; p++ {
		i := len(raw) - 1 - p/8
		mask := byte(1) << (p % 8)
		if v&1 != 0 {
			raw[i] |= mask
		} else {
			raw[i] &^= mask
		}
		v >>= 1
	}
}

// sealRegister stores the CRC7 and end bit in the last byte.
func sealRegister(raw []byte) {
	raw[len(raw)-1] = crc7(raw[:len(raw)-1]) | 0x01
}

// legacyCapacity encodes a block count in the version 1 CSD fields,
// rounding down to the nearest representable size.
func legacyCapacity(blocks uint64) (cSize, cSizeMult, readBlLen uint32) {
	shift := uint32(2)
	for shift < 2+7+2 && blocks>>shift > 4096 {
		shift++
	}
	n := blocks >> shift
	if n == 0 {
		n = 1
	}
	mult := shift - 2
	if mult > 7 {
		mult = 7
	}
	return uint32(n - 1), mult, 9 + (shift - 2 - mult)
}

// buildCSD builds the CSD register image for the card kind and capacity.
func buildCSD(kind Kind, blocks uint64, writeProtect bool) [16]byte {
	var raw [16]byte
	setBits(raw[:], 119, 112, 0x0E) // TAAC 1.0 ms
	setBits(raw[:], 103, 96, 0x32)  // TRAN_SPEED 25 MHz
	setBits(raw[:], 95, 84, 0x5B5)  // CCC
	setBits(raw[:], 28, 26, 2)      // R2W_FACTOR
	setBits(raw[:], 25, 22, 9)      // WRITE_BL_LEN 512
	if writeProtect {
		setBits(raw[:], 12, 12, 1)
	}

	switch kind {
	case KindSDv2HC:
		cSize := blocks >> 10
		if cSize > 0 {
			cSize--
		}
		setBits(raw[:], 127, 126, 1)
		setBits(raw[:], 83, 80, 9)
		setBits(raw[:], 69, 48, uint32(cSize))
		setBits(raw[:], 46, 46, 1)    // ERASE_BLK_EN
		setBits(raw[:], 45, 39, 0x7F) // SECTOR_SIZE 64 KiB
	default:
		cSize, mult, readBlLen := legacyCapacity(blocks)
		setBits(raw[:], 83, 80, readBlLen)
		setBits(raw[:], 73, 62, cSize)
		setBits(raw[:], 61, 50, 0xFFF) // VDD currents
		setBits(raw[:], 49, 47, mult)
		if kind == KindMMC {
			setBits(raw[:], 127, 126, 2) // MMC spec 3.1+
			setBits(raw[:], 46, 42, 15)  // ERASE_GRP_SIZE
			setBits(raw[:], 41, 37, 1)   // ERASE_GRP_MULT
		} else {
			setBits(raw[:], 46, 46, 1)  // ERASE_BLK_EN
			setBits(raw[:], 45, 39, 31) // SECTOR_SIZE 32 blocks
		}
	}
	sealRegister(raw[:])
	return raw
}

// CID identity of every simulated card.
const (
	cidManufacturer = 0x5A
	cidOEM          = "SF"
	cidProduct      = "SIMSD"
	cidRevision     = 0x10
	cidSerial       = 0x0BADCAFE
	cidYear         = 2024
	cidMMCYear      = 2010
	cidMonth        = 6
)

// buildCID builds the CID register image. MultiMediaCards use the MMC
// layout, whose four-bit year counts from 1997.
func buildCID(kind Kind) [16]byte {
	var raw [16]byte
	raw[0] = cidManufacturer
	copy(raw[1:3], cidOEM)
	if kind == KindMMC {
		copy(raw[3:9], cidProduct)
		raw[9] = cidRevision
		setBits(raw[:], 47, 16, cidSerial)
		setBits(raw[:], 15, 12, cidMonth)
		setBits(raw[:], 11, 8, cidMMCYear-1997)
	} else {
		copy(raw[3:8], cidProduct)
		raw[8] = cidRevision
		setBits(raw[:], 55, 24, cidSerial)
		setBits(raw[:], 19, 12, cidYear-2000)
		setBits(raw[:], 11, 8, cidMonth)
	}
	sealRegister(raw[:])
	return raw
}

// buildStatus builds the 512-bit SD status image.
func buildStatus(cfg *config) [64]byte {
	var raw [64]byte
	setBits(raw[:], 447, 440, uint32(cfg.speedClass))
	setBits(raw[:], 431, 428, uint32(cfg.auSize))
	setBits(raw[:], 423, 408, 1) // ERASE_SIZE
	setBits(raw[:], 407, 402, 1) // ERASE_TIMEOUT
	return raw
}
