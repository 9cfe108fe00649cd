package sdcard

import (
	"fmt"
	"strings"
	"time"

	"github.com/ardnew/softsd/pkg"
)

// bits extracts the field [msb:lsb] from a big-endian register image, where
// bit 0 is the least significant bit of the last byte.
func bits(raw []byte, msb, lsb int) uint32 {
	var v uint32
	for p := msb; p >= lsb; p-- {
		b := raw[len(raw)-1-p/8]
		v = v<<1 | uint32(b>>(p%8))&1
	}
	return v
}

// flag extracts a single-bit field.
func flag(raw []byte, bit int) bool {
	return bits(raw, bit, bit) != 0
}

// OCR is the Operation Conditions Register.
type OCR uint32

// OCR bits.
const (
	OCRPowerUp      OCR = 1 << 31 // initialization complete
	OCRHighCapacity OCR = 1 << 30 // CCS: block-addressed card
	ocrVoltageShift     = 15
	ocrVoltageMask  OCR = 0x1FF << ocrVoltageShift // 2.7-3.6 V in 100 mV steps
)

// PowerUp reports whether the card has finished its power-up routine.
func (o OCR) PowerUp() bool {
	return o&OCRPowerUp != 0
}

// HighCapacity reports the card capacity status (SDHC/SDXC).
func (o OCR) HighCapacity() bool {
	return o&OCRHighCapacity != 0
}

// VoltageRange returns the supported supply window in millivolts, or zeros
// if no window bit is set.
func (o OCR) VoltageRange() (minMV, maxMV int) {
	window := uint32(o&ocrVoltageMask) >> ocrVoltageShift
	if window == 0 {
		return 0, 0
	}
	lo, hi := -1, 0
	for i := 0; i < 9; i++ {
		if window&(1<<i) != 0 {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return 2700 + lo*100, 2800 + hi*100
}

// CSD is the decoded Card-Specific Data register.
//
// Fields that moved between layouts are decoded for both: CSize holds the
// 12-bit version 1 field or the 22-bit version 2 field depending on
// Structure, and the MMC erase group fields overlap the SD sector fields.
type CSD struct {
	Structure        uint8
	TAAC             uint8
	NSAC             uint8
	TranSpeed        uint8
	CCC              uint16
	ReadBlLen        uint8
	ReadBlPartial    bool
	WriteBlkMisalign bool
	ReadBlkMisalign  bool
	DSRImp           bool
	CSize            uint32
	CSizeMult        uint8
	EraseBlkEn       bool
	SectorSize       uint8
	EraseGrpSize     uint8
	EraseGrpMult     uint8
	WPGrpSize        uint8
	WPGrpEnable      bool
	R2WFactor        uint8
	WriteBlLen       uint8
	WriteBlPartial   bool
	FileFormatGrp    bool
	Copy             bool
	PermWriteProtect bool
	TmpWriteProtect  bool
	FileFormat       uint8
	CRC              uint8
}

// CSD structure versions.
const (
	CSDVersion1 = 0 // standard capacity
	CSDVersion2 = 1 // high and extended capacity
)

// ParseCSD decodes a 16-byte CSD register image.
func ParseCSD(raw []byte) (CSD, error) {
	if len(raw) < registerSize {
		return CSD{}, fmt.Errorf("CSD: %w", pkg.ErrBufferTooSmall)
	}
	raw = raw[:registerSize]
	csd := CSD{
		Structure:        uint8(bits(raw, 127, 126)),
		TAAC:             uint8(bits(raw, 119, 112)),
		NSAC:             uint8(bits(raw, 111, 104)),
		TranSpeed:        uint8(bits(raw, 103, 96)),
		CCC:              uint16(bits(raw, 95, 84)),
		ReadBlLen:        uint8(bits(raw, 83, 80)),
		ReadBlPartial:    flag(raw, 79),
		WriteBlkMisalign: flag(raw, 78),
		ReadBlkMisalign:  flag(raw, 77),
		DSRImp:           flag(raw, 76),
		EraseBlkEn:       flag(raw, 46),
		SectorSize:       uint8(bits(raw, 45, 39)),
		EraseGrpSize:     uint8(bits(raw, 46, 42)),
		EraseGrpMult:     uint8(bits(raw, 41, 37)),
		WPGrpSize:        uint8(bits(raw, 38, 32)),
		WPGrpEnable:      flag(raw, 31),
		R2WFactor:        uint8(bits(raw, 28, 26)),
		WriteBlLen:       uint8(bits(raw, 25, 22)),
		WriteBlPartial:   flag(raw, 21),
		FileFormatGrp:    flag(raw, 15),
		Copy:             flag(raw, 14),
		PermWriteProtect: flag(raw, 13),
		TmpWriteProtect:  flag(raw, 12),
		FileFormat:       uint8(bits(raw, 11, 10)),
		CRC:              uint8(bits(raw, 7, 1)),
	}
	if csd.Structure == CSDVersion2 {
		csd.CSize = bits(raw, 69, 48)
	} else {
		csd.CSize = bits(raw, 73, 62)
		csd.CSizeMult = uint8(bits(raw, 49, 47))
	}
	return csd, nil
}

// Sectors returns the card capacity in 512-byte blocks. MultiMediaCards
// always use the version 1 layout regardless of their structure field.
func (c *CSD) Sectors(t CardType) (uint64, error) {
	switch {
	case t == TypeMMC || c.Structure == CSDVersion1:
		if c.ReadBlLen < 9 {
			return 0, fmt.Errorf("CSD READ_BL_LEN %d: %w", c.ReadBlLen, pkg.ErrNotSupported)
		}
		n := uint64(c.CSize) + 1
		return n << (c.CSizeMult + 2) << (c.ReadBlLen - 9), nil
	case c.Structure == CSDVersion2:
		return (uint64(c.CSize) + 1) << 10, nil
	default:
		return 0, fmt.Errorf("CSD structure %d: %w", c.Structure, pkg.ErrNotSupported)
	}
}

// EraseSectors returns the erase unit in 512-byte blocks as encoded in the
// CSD. SD version 2 cards report their allocation unit in the SD status
// instead.
func (c *CSD) EraseSectors(t CardType) (uint32, error) {
	if c.WriteBlLen < 9 {
		return 0, fmt.Errorf("CSD WRITE_BL_LEN %d: %w", c.WriteBlLen, pkg.ErrNotSupported)
	}
	shift := c.WriteBlLen - 9
	if t == TypeMMC {
		return (uint32(c.EraseGrpSize) + 1) * (uint32(c.EraseGrpMult) + 1) << shift, nil
	}
	return (uint32(c.SectorSize) + 1) << shift, nil
}

// WriteProtected reports whether either write-protect flag is set.
func (c *CSD) WriteProtected() bool {
	return c.PermWriteProtect || c.TmpWriteProtect
}

// CID is the decoded Card Identification register.
type CID struct {
	ManufacturerID uint8
	OEMID          string
	ProductName    string
	Revision       uint8
	SerialNumber   uint32
	Year           int
	Month          time.Month
	CRC            uint8
}

// ParseCID decodes a 16-byte SD CID register image.
func ParseCID(raw []byte) (CID, error) {
	if len(raw) < registerSize {
		return CID{}, fmt.Errorf("CID: %w", pkg.ErrBufferTooSmall)
	}
	raw = raw[:registerSize]
	return CID{
		ManufacturerID: raw[0],
		OEMID:          printable(raw[1:3]),
		ProductName:    printable(raw[3:8]),
		Revision:       raw[8],
		SerialNumber:   bits(raw, 55, 24),
		Year:           2000 + int(bits(raw, 19, 12)),
		Month:          time.Month(bits(raw, 11, 8)),
		CRC:            uint8(bits(raw, 7, 1)),
	}, nil
}

// ParseMMCCID decodes a 16-byte MultiMediaCard CID register image. MMC
// product names are six characters and dates count years from 1997.
func ParseMMCCID(raw []byte) (CID, error) {
	if len(raw) < registerSize {
		return CID{}, fmt.Errorf("CID: %w", pkg.ErrBufferTooSmall)
	}
	raw = raw[:registerSize]
	return CID{
		ManufacturerID: raw[0],
		OEMID:          printable(raw[1:3]),
		ProductName:    printable(raw[3:9]),
		Revision:       raw[9],
		SerialNumber:   bits(raw, 47, 16),
		Year:           1997 + int(bits(raw, 11, 8)),
		Month:          time.Month(bits(raw, 15, 12)),
		CRC:            uint8(bits(raw, 7, 1)),
	}, nil
}

// RevisionString returns the product revision as "major.minor".
func (c *CID) RevisionString() string {
	return fmt.Sprintf("%d.%d", c.Revision>>4, c.Revision&0x0F)
}

// printable trims trailing NUL and space bytes and replaces other
// non-printable bytes with '?'.
func printable(b []byte) string {
	var sb strings.Builder
	for _, v := range b {
		if v >= 0x20 && v < 0x7F {
			sb.WriteByte(v)
		} else if v != 0 {
			sb.WriteByte('?')
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// SpeedClass is the SD speed class grade.
type SpeedClass uint8

// Speed classes as encoded in the SD status.
const (
	SpeedClass0  SpeedClass = 0x00
	SpeedClass2  SpeedClass = 0x01
	SpeedClass4  SpeedClass = 0x02
	SpeedClass6  SpeedClass = 0x03
	SpeedClass10 SpeedClass = 0x04
)

// MBps returns the guaranteed minimum write speed in MB/s.
func (s SpeedClass) MBps() int {
	switch s {
	case SpeedClass2:
		return 2
	case SpeedClass4:
		return 4
	case SpeedClass6:
		return 6
	case SpeedClass10:
		return 10
	default:
		return 0
	}
}

// String returns the class name, e.g. "Class 10".
func (s SpeedClass) String() string {
	return fmt.Sprintf("Class %d", s.MBps())
}

// SDStatus is the decoded 512-bit SD status returned by ACMD13.
type SDStatus struct {
	BusWidth          uint8
	SecuredMode       bool
	CardType          uint16
	ProtectedAreaSize uint32
	SpeedClass        SpeedClass
	PerformanceMove   uint8
	AUSize            uint8
	EraseSize         uint16
	EraseTimeout      uint8
	EraseOffset       uint8
}

// ParseSDStatus decodes a 64-byte SD status image.
func ParseSDStatus(raw []byte) (SDStatus, error) {
	if len(raw) < sdStatusSize {
		return SDStatus{}, fmt.Errorf("SD status: %w", pkg.ErrBufferTooSmall)
	}
	raw = raw[:sdStatusSize]
	return SDStatus{
		BusWidth:          uint8(bits(raw, 511, 510)),
		SecuredMode:       flag(raw, 509),
		CardType:          uint16(bits(raw, 495, 480)),
		ProtectedAreaSize: bits(raw, 479, 448),
		SpeedClass:        SpeedClass(bits(raw, 447, 440)),
		PerformanceMove:   uint8(bits(raw, 439, 432)),
		AUSize:            uint8(bits(raw, 431, 428)),
		EraseSize:         uint16(bits(raw, 423, 408)),
		EraseTimeout:      uint8(bits(raw, 407, 402)),
		EraseOffset:       uint8(bits(raw, 401, 400)),
	}, nil
}

// auSectors maps the AU_SIZE codes above 0xA, which stop doubling, to
// 512-byte blocks (12, 16, 24, 32 and 64 MiB).
var auSectors = [...]uint32{
	0xB: 24576,
	0xC: 32768,
	0xD: 49152,
	0xE: 65536,
	0xF: 131072,
}

// AUSectors returns the allocation unit size in 512-byte blocks, or zero if
// the card does not define one.
func (s *SDStatus) AUSectors() uint32 {
	switch {
	case s.AUSize == 0:
		return 0
	case s.AUSize <= 0xA:
		return 16 << s.AUSize
	case int(s.AUSize) < len(auSectors):
		return auSectors[s.AUSize]
	default:
		return 0
	}
}

// readRegister reads a register delivered as a data block after cmd.
// R2 responses (ACMD13) carry one extra status byte after R1.
func (c *Card) readRegister(cmd Command, dst []byte) error {
	if err := checkR1(cmd, c.command(cmd, 0)); err != nil {
		return err
	}
	if cmd == AcmdSDStatus {
		var r2 [1]byte
		c.readTrailer(r2[:])
		if r2[0] != 0 {
			pkg.LogDebug(pkg.ComponentRegister, "R2 status", "command", cmd, "status", r2[0])
		}
	}
	return c.readData(0, dst)
}

// readOCR issues CMD58 and reads the R3 trailer. The card stays selected.
func (c *Card) readOCR() (OCR, error) {
	if r := c.command(CmdReadOCR, 0); r > R1Idle {
		return 0, &CommandError{Command: CmdReadOCR, Response: r}
	}
	raw := c.scratch[:ocrSize]
	c.readTrailer(raw)
	return OCR(bits(raw, 31, 0)), nil
}

// register reads a register with the card released afterwards.
func (c *Card) register(cmd Command, size int) ([]byte, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	defer c.release()
	raw := c.scratch[:size]
	if err := c.readRegister(cmd, raw); err != nil {
		pkg.LogWarn(pkg.ComponentRegister, "register read failed", "command", cmd, "error", err)
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return raw, nil
}

// CSD reads and decodes the Card-Specific Data register (CMD9).
func (c *Card) CSD() (CSD, error) {
	raw, err := c.register(CmdSendCSD, registerSize)
	if err != nil {
		return CSD{}, err
	}
	return ParseCSD(raw)
}

// CID reads and decodes the Card Identification register (CMD10).
func (c *Card) CID() (CID, error) {
	raw, err := c.register(CmdSendCID, registerSize)
	if err != nil {
		return CID{}, err
	}
	if c.cardType == TypeMMC {
		return ParseMMCCID(raw)
	}
	return ParseCID(raw)
}

// OCR reads the Operation Conditions Register (CMD58).
func (c *Card) OCR() (OCR, error) {
	if err := c.requireReady(); err != nil {
		return 0, err
	}
	defer c.release()
	return c.readOCR()
}

// Status reads and decodes the SD status (ACMD13). MultiMediaCards report
// [pkg.ErrNotSupported].
func (c *Card) Status() (SDStatus, error) {
	if c.state == StateReady && !c.cardType.IsSD() {
		return SDStatus{}, fmt.Errorf("SD status on %s: %w", c.cardType, pkg.ErrNotSupported)
	}
	raw, err := c.register(AcmdSDStatus, sdStatusSize)
	if err != nil {
		return SDStatus{}, err
	}
	return ParseSDStatus(raw)
}

// Sectors returns the card capacity in 512-byte blocks.
func (c *Card) Sectors() (uint64, error) {
	csd, err := c.CSD()
	if err != nil {
		return 0, err
	}
	return csd.Sectors(c.cardType)
}

// EraseBlockSize returns the erase unit in 512-byte blocks. Version 2 SD
// cards report the allocation unit from the SD status; older cards encode
// the erase sector (or MMC erase group) in the CSD.
func (c *Card) EraseBlockSize() (uint32, error) {
	if c.cardType == TypeSDv2SC || c.cardType == TypeSDv2HC {
		status, err := c.Status()
		if err != nil {
			return 0, err
		}
		if n := status.AUSectors(); n != 0 {
			return n, nil
		}
	}
	csd, err := c.CSD()
	if err != nil {
		return 0, err
	}
	return csd.EraseSectors(c.cardType)
}
