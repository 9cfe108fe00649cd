package sdcard

import (
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi/sim"
)

func TestBits(t *testing.T) {
	raw := []byte{0xA5, 0x0F, 0xF0, 0x81}

	tests := []struct {
		name     string
		msb, lsb int
		want     uint32
	}{
		{"whole register", 31, 0, 0xA50FF081},
		{"top byte", 31, 24, 0xA5},
		{"last bit", 0, 0, 1},
		{"straddles bytes", 19, 12, 0xFF},
		{"nibble", 27, 24, 0x5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bits(raw, tt.msb, tt.lsb); got != tt.want {
				t.Errorf("bits(%d, %d) = %#x, want %#x", tt.msb, tt.lsb, got, tt.want)
			}
		})
	}
}

func TestParseCSDVersion2(t *testing.T) {
	// SanDisk 16 GB SDHC.
	raw := []byte{
		0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0x00,
		0x76, 0xB2, 0x7F, 0x80, 0x0A, 0x40, 0x40, 0x01,
	}
	csd, err := ParseCSD(raw)
	if err != nil {
		t.Fatalf("ParseCSD() error = %v", err)
	}
	if csd.Structure != CSDVersion2 {
		t.Errorf("Structure = %d, want %d", csd.Structure, CSDVersion2)
	}
	if csd.CSize != 0x76B2 {
		t.Errorf("CSize = %#x, want 0x76B2", csd.CSize)
	}
	sectors, err := csd.Sectors(TypeSDv2HC)
	if err != nil {
		t.Fatalf("Sectors() error = %v", err)
	}
	if want := uint64(0x76B2+1) << 10; sectors != want {
		t.Errorf("Sectors() = %d, want %d", sectors, want)
	}
	if csd.ReadBlLen != 9 || csd.WriteBlLen != 9 {
		t.Errorf("block lengths = %d/%d, want 9/9", csd.ReadBlLen, csd.WriteBlLen)
	}
}

func TestParseCSDShort(t *testing.T) {
	if _, err := ParseCSD(make([]byte, 15)); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseCSD() error = %v, want ErrBufferTooSmall", err)
	}
	if _, err := ParseCID(nil); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseCID() error = %v, want ErrBufferTooSmall", err)
	}
	if _, err := ParseSDStatus(make([]byte, 63)); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseSDStatus() error = %v, want ErrBufferTooSmall", err)
	}
}

func TestCSDSectorsVersion1(t *testing.T) {
	tests := []struct {
		name string
		csd  CSD
		want uint64
	}{
		{"64 MiB", CSD{CSize: 1935, CSizeMult: 5, ReadBlLen: 9}, 1936 << 7},
		{"2 GiB READ_BL_LEN 10", CSD{CSize: 4095, CSizeMult: 7, ReadBlLen: 10}, 4096 << 9 << 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.csd.Sectors(TypeSDv1)
			if err != nil {
				t.Fatalf("Sectors() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Sectors() = %d, want %d", got, tt.want)
			}
		})
	}

	bad := CSD{ReadBlLen: 8}
	if _, err := bad.Sectors(TypeSDv1); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Sectors() with READ_BL_LEN 8 error = %v", err)
	}
	unknown := CSD{Structure: 3}
	if _, err := unknown.Sectors(TypeSDv2HC); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Sectors() with structure 3 error = %v", err)
	}
}

func TestCSDEraseSectors(t *testing.T) {
	tests := []struct {
		name string
		csd  CSD
		t    CardType
		want uint32
	}{
		{"SDv1 sector", CSD{SectorSize: 31, WriteBlLen: 9}, TypeSDv1, 32},
		{"SDv1 1 KiB blocks", CSD{SectorSize: 15, WriteBlLen: 10}, TypeSDv1, 32},
		{"MMC group", CSD{EraseGrpSize: 15, EraseGrpMult: 1, WriteBlLen: 9}, TypeMMC, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.csd.EraseSectors(tt.t)
			if err != nil {
				t.Fatalf("EraseSectors() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EraseSectors() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOCR(t *testing.T) {
	ocr := OCR(0xC0FF8000)
	if !ocr.PowerUp() || !ocr.HighCapacity() {
		t.Errorf("OCR %#x: PowerUp %v, HighCapacity %v", uint32(ocr), ocr.PowerUp(), ocr.HighCapacity())
	}
	if lo, hi := ocr.VoltageRange(); lo != 2700 || hi != 3600 {
		t.Errorf("VoltageRange() = %d-%d, want 2700-3600", lo, hi)
	}
	if lo, hi := OCR(0).VoltageRange(); lo != 0 || hi != 0 {
		t.Errorf("empty VoltageRange() = %d-%d", lo, hi)
	}
	if OCR(0x80FF8000).HighCapacity() {
		t.Error("HighCapacity() = true without CCS")
	}
}

func TestSpeedClass(t *testing.T) {
	tests := []struct {
		s    SpeedClass
		want string
	}{
		{SpeedClass0, "Class 0"},
		{SpeedClass2, "Class 2"},
		{SpeedClass10, "Class 10"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestCardSectors(t *testing.T) {
	tests := []struct {
		name   string
		kind   sim.Kind
		blocks uint64
	}{
		{"SDHC 16 GiB", sim.KindSDv2HC, 16 << 30 / BlockSize},
		{"SDHC 4 GiB", sim.KindSDv2HC, 4 << 30 / BlockSize},
		{"SDv2 1 GiB", sim.KindSDv2SC, 1 << 30 / BlockSize},
		{"SDv1 32 MiB", sim.KindSDv1, testBlocks},
		{"MMC 32 MiB", sim.KindMMC, testBlocks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, _, _ := readyCard(t, tt.kind, tt.blocks)

			first, err := card.Sectors()
			if err != nil {
				t.Fatalf("Sectors() error = %v", err)
			}
			if first != tt.blocks {
				t.Errorf("Sectors() = %d, want %d", first, tt.blocks)
			}

			second, err := card.Sectors()
			if err != nil || second != first {
				t.Errorf("second Sectors() = %d, %v; want %d", second, err, first)
			}
		})
	}
}

func TestCardEraseBlockSize(t *testing.T) {
	tests := []struct {
		name    string
		kind    sim.Kind
		simOpts []sim.Option
		want    uint32
	}{
		{"SDHC AU 4 MiB", sim.KindSDv2HC, nil, 8192},
		{"SDHC AU 512 KiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(6)}, 1024},
		{"SDHC AU 8 MiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(0xA)}, 16384},
		{"SDXC AU 12 MiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(0xB)}, 24576},
		{"SDXC AU 16 MiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(0xC)}, 32768},
		{"SDXC AU 24 MiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(0xD)}, 49152},
		{"SDXC AU 32 MiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(0xE)}, 65536},
		{"SDXC AU 64 MiB", sim.KindSDv2HC, []sim.Option{sim.WithAUSize(0xF)}, 131072},
		{"SDv2 AU", sim.KindSDv2SC, nil, 8192},
		{"SDv2 without AU", sim.KindSDv2SC, []sim.Option{sim.WithAUSize(0)}, 32},
		{"SDv1 CSD sector", sim.KindSDv1, nil, 32},
		{"MMC erase group", sim.KindMMC, nil, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, _, _ := readyCard(t, tt.kind, testBlocks, tt.simOpts...)
			got, err := card.EraseBlockSize()
			if err != nil {
				t.Fatalf("EraseBlockSize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EraseBlockSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCardCID(t *testing.T) {
	card, _, _ := readyCard(t, sim.KindSDv2HC, testBlocks)
	cid, err := card.CID()
	if err != nil {
		t.Fatalf("CID() error = %v", err)
	}

	if cid.ManufacturerID != 0x5A {
		t.Errorf("ManufacturerID = %#x", cid.ManufacturerID)
	}
	if cid.OEMID != "SF" || cid.ProductName != "SIMSD" {
		t.Errorf("OEMID/ProductName = %q/%q", cid.OEMID, cid.ProductName)
	}
	if cid.RevisionString() != "1.0" {
		t.Errorf("RevisionString() = %q", cid.RevisionString())
	}
	if cid.SerialNumber != 0x0BADCAFE {
		t.Errorf("SerialNumber = %#x", cid.SerialNumber)
	}
	if cid.Year != 2024 || cid.Month != time.June {
		t.Errorf("date = %d-%v", cid.Year, cid.Month)
	}

	raw, err := card.register(CmdSendCID, registerSize)
	if err != nil {
		t.Fatalf("register(CMD10) error = %v", err)
	}
	if cid.CRC != CRC7(raw[:registerSize-1]) {
		t.Errorf("CRC = %#x does not match register contents", cid.CRC)
	}
}

func TestCardCIDMMC(t *testing.T) {
	card, _, _ := readyCard(t, sim.KindMMC, testBlocks)
	cid, err := card.CID()
	if err != nil {
		t.Fatalf("CID() error = %v", err)
	}

	if cid.ManufacturerID != 0x5A || cid.OEMID != "SF" {
		t.Errorf("ManufacturerID/OEMID = %#x/%q", cid.ManufacturerID, cid.OEMID)
	}
	if cid.ProductName != "SIMSD" {
		t.Errorf("ProductName = %q", cid.ProductName)
	}
	if cid.RevisionString() != "1.0" {
		t.Errorf("RevisionString() = %q", cid.RevisionString())
	}
	if cid.SerialNumber != 0x0BADCAFE {
		t.Errorf("SerialNumber = %#x", cid.SerialNumber)
	}
	if cid.Year != 2010 || cid.Month != time.June {
		t.Errorf("date = %d-%v", cid.Year, cid.Month)
	}
}

func TestParseMMCCID(t *testing.T) {
	// Revision 4.2, serial 0x12345678, made December 2002.
	raw := []byte{
		0x15, 0x01, 0x00, 'M', 'M', 'C', '1', '6', 'G',
		0x42, 0x12, 0x34, 0x56, 0x78, 0xC5, 0x01,
	}
	cid, err := ParseMMCCID(raw)
	if err != nil {
		t.Fatalf("ParseMMCCID() error = %v", err)
	}
	if cid.ProductName != "MMC16G" || cid.RevisionString() != "4.2" {
		t.Errorf("ProductName/Revision = %q/%q", cid.ProductName, cid.RevisionString())
	}
	if cid.SerialNumber != 0x12345678 {
		t.Errorf("SerialNumber = %#x", cid.SerialNumber)
	}
	if cid.Year != 2002 || cid.Month != time.December {
		t.Errorf("date = %d-%v", cid.Year, cid.Month)
	}
	if _, err := ParseMMCCID(raw[:8]); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseMMCCID(short) error = %v, want ErrBufferTooSmall", err)
	}
}

func TestCardCSD(t *testing.T) {
	card, _, _ := readyCard(t, sim.KindSDv2HC, testBlocks, sim.WithWriteProtect())
	csd, err := card.CSD()
	if err != nil {
		t.Fatalf("CSD() error = %v", err)
	}
	if csd.Structure != CSDVersion2 {
		t.Errorf("Structure = %d", csd.Structure)
	}
	if !csd.WriteProtected() || !csd.TmpWriteProtect || csd.PermWriteProtect {
		t.Errorf("write protect flags = perm %v tmp %v", csd.PermWriteProtect, csd.TmpWriteProtect)
	}
}

func TestCardOCR(t *testing.T) {
	tests := []struct {
		name     string
		kind     sim.Kind
		wantCCS  bool
		wantMinV int
	}{
		{"SDHC", sim.KindSDv2HC, true, 2700},
		{"SDv2", sim.KindSDv2SC, false, 2700},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, _, _ := readyCard(t, tt.kind, testBlocks)
			ocr, err := card.OCR()
			if err != nil {
				t.Fatalf("OCR() error = %v", err)
			}
			if !ocr.PowerUp() {
				t.Error("PowerUp() = false on a ready card")
			}
			if ocr.HighCapacity() != tt.wantCCS {
				t.Errorf("HighCapacity() = %v, want %v", ocr.HighCapacity(), tt.wantCCS)
			}
			if lo, _ := ocr.VoltageRange(); lo != tt.wantMinV {
				t.Errorf("VoltageRange() min = %d, want %d", lo, tt.wantMinV)
			}
		})
	}
}

func TestCardStatus(t *testing.T) {
	card, _, _ := readyCard(t, sim.KindSDv2HC, testBlocks, sim.WithSpeedClass(3))
	status, err := card.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.SpeedClass != SpeedClass6 || status.SpeedClass.MBps() != 6 {
		t.Errorf("SpeedClass = %v", status.SpeedClass)
	}
	if status.AUSize != 9 || status.AUSectors() != 8192 {
		t.Errorf("AUSize = %d, AUSectors() = %d", status.AUSize, status.AUSectors())
	}

	mmc, _, _ := readyCard(t, sim.KindMMC, testBlocks)
	if _, err := mmc.Status(); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Status() on MMC error = %v, want ErrNotSupported", err)
	}
}
