package diskio

import (
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/sdcard"
)

// SectorSize is the sector size reported to the filesystem.
const SectorSize = sdcard.BlockSize

// Status is a set of drive status flags.
type Status uint8

// Drive status flags.
const (
	StatusNoInit  Status = 1 << 0 // drive not initialized
	StatusNoDisk  Status = 1 << 1 // no medium in the drive
	StatusProtect Status = 1 << 2 // medium is write protected
)

// String returns the set flags, e.g. "noinit|nodisk", or "ok" if none are set.
func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	var parts []string
	if s&StatusNoInit != 0 {
		parts = append(parts, "noinit")
	}
	if s&StatusNoDisk != 0 {
		parts = append(parts, "nodisk")
	}
	if s&StatusProtect != 0 {
		parts = append(parts, "protect")
	}
	return strings.Join(parts, "|")
}

// Result is the outcome of a disk function.
type Result int

// Result values.
const (
	ResultOK             Result = iota // Function succeeded
	ResultError                        // Hard error during read/write
	ResultWriteProtected               // Medium is write protected
	ResultNotReady                     // Drive not initialized
	ResultParameterError               // Invalid parameter
)

// String returns a string representation of the result.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultError:
		return "error"
	case ResultWriteProtected:
		return "write protected"
	case ResultNotReady:
		return "not ready"
	case ResultParameterError:
		return "parameter error"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the result.
func (r Result) Error() error {
	switch r {
	case ResultOK:
		return nil
	case ResultWriteProtected:
		return pkg.ErrWriteProtected
	case ResultNotReady:
		return pkg.ErrNotReady
	case ResultParameterError:
		return pkg.ErrInvalidParameter
	default:
		return pkg.ErrIO
	}
}

// resultOf converts a driver error to a result.
func resultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, pkg.ErrNotReady):
		return ResultNotReady
	case errors.Is(err, pkg.ErrWriteProtected):
		return ResultWriteProtected
	case errors.Is(err, pkg.ErrBufferTooSmall),
		errors.Is(err, pkg.ErrOutOfRange),
		errors.Is(err, pkg.ErrInvalidParameter),
		errors.Is(err, pkg.ErrNotSupported),
		errors.Is(err, pkg.ErrAddress),
		errors.Is(err, pkg.ErrParameter):
		return ResultParameterError
	default:
		return ResultError
	}
}

// IoctlCommand selects a miscellaneous disk function.
type IoctlCommand uint8

// Ioctl commands.
const (
	// CtrlSync waits for pending writes to complete. arg is ignored.
	CtrlSync IoctlCommand = iota

	// GetSectorCount stores the number of sectors in a *uint32 or *uint64.
	GetSectorCount

	// GetSectorSize stores the sector size in a *uint16.
	GetSectorSize

	// GetBlockSize stores the erase block size in sectors in a *uint32.
	// It reports 1 when the card does not say. Bus errors are returned.
	GetBlockSize

	// CtrlTrim erases the inclusive sector range in a *[2]uint32.
	CtrlTrim
)

// String returns the command name.
func (c IoctlCommand) String() string {
	switch c {
	case CtrlSync:
		return "CTRL_SYNC"
	case GetSectorCount:
		return "GET_SECTOR_COUNT"
	case GetSectorSize:
		return "GET_SECTOR_SIZE"
	case GetBlockSize:
		return "GET_BLOCK_SIZE"
	case CtrlTrim:
		return "CTRL_TRIM"
	default:
		return "UNKNOWN"
	}
}

// Disk exposes a card through the sector-level interface a FAT filesystem
// expects. It is safe for concurrent use; calls are serialized.
type Disk struct {
	card   *sdcard.Card
	status Status
	mutex  sync.Mutex
}

// New creates a disk backed by card. The disk reports [StatusNoInit] until
// [Disk.Initialize] succeeds.
func New(card *sdcard.Card) *Disk {
	return &Disk{
		card:   card,
		status: StatusNoInit,
	}
}

// Card returns the underlying card driver.
func (d *Disk) Card() *sdcard.Card {
	return d.card
}

// Initialize initializes the card and returns the resulting status.
func (d *Disk) Initialize() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.card.Detected() {
		d.status = StatusNoInit | StatusNoDisk
		return d.status
	}
	d.status &^= StatusNoDisk

	if err := d.card.Init(); err != nil {
		pkg.LogWarn(pkg.ComponentDisk, "initialize failed", "error", err)
		d.status |= StatusNoInit
		return d.status
	}
	d.status &^= StatusNoInit | StatusProtect

	csd, err := d.card.CSD()
	if err != nil {
		pkg.LogWarn(pkg.ComponentDisk, "read CSD failed", "error", err)
	} else if csd.WriteProtected() {
		d.status |= StatusProtect
	}

	pkg.LogInfo(pkg.ComponentDisk, "disk initialized",
		"type", d.card.Type(), "status", d.status)
	return d.status
}

// Status returns the drive status. A removed card sets [StatusNoDisk] and
// [StatusNoInit]; the card must be initialized again once reinserted.
func (d *Disk) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.checkStatus()
}

func (d *Disk) checkStatus() Status {
	if !d.card.Detected() {
		if d.status&StatusNoDisk == 0 {
			pkg.LogInfo(pkg.ComponentDisk, "card removed")
		}
		d.status |= StatusNoInit | StatusNoDisk
		d.card.Invalidate()
	}
	return d.status
}

// Read reads count sectors starting at sector into buf.
func (d *Disk) Read(buf []byte, sector uint32, count uint) Result {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if r := d.checkTransfer(buf, count); r != ResultOK {
		return r
	}

	var err error
	if count == 1 {
		err = d.card.ReadBlock(sector, buf)
	} else {
		err = d.card.ReadBlocks(sector, uint32(count), buf)
	}
	return d.result("read", sector, count, err)
}

// Write writes count sectors from buf starting at sector.
func (d *Disk) Write(buf []byte, sector uint32, count uint) Result {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if r := d.checkTransfer(buf, count); r != ResultOK {
		return r
	}
	if d.status&StatusProtect != 0 {
		return ResultWriteProtected
	}

	var err error
	if count == 1 {
		err = d.card.WriteBlock(sector, buf)
	} else {
		err = d.card.WriteBlocks(sector, uint32(count), buf)
	}
	return d.result("write", sector, count, err)
}

// checkTransfer validates a transfer request against the drive state.
func (d *Disk) checkTransfer(buf []byte, count uint) Result {
	if count == 0 || count > math.MaxUint32 || uint64(len(buf)) < uint64(count)*SectorSize {
		return ResultParameterError
	}
	if d.checkStatus()&StatusNoInit != 0 {
		return ResultNotReady
	}
	return ResultOK
}

// result logs a failed transfer and converts err.
func (d *Disk) result(op string, sector uint32, count uint, err error) Result {
	r := resultOf(err)
	if r != ResultOK {
		pkg.LogWarn(pkg.ComponentDisk, op+" failed",
			"sector", sector, "count", count, "result", r, "error", err)
	}
	return r
}

// Ioctl performs a miscellaneous disk function. The type of arg depends on
// cmd; a mismatched type is a parameter error.
func (d *Disk) Ioctl(cmd IoctlCommand, arg any) Result {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if cmd == GetSectorSize {
		size, ok := arg.(*uint16)
		if !ok || size == nil {
			return ResultParameterError
		}
		*size = SectorSize
		return ResultOK
	}

	if d.checkStatus()&StatusNoInit != 0 {
		return ResultNotReady
	}

	switch cmd {
	case CtrlSync:
		return resultOf(d.card.Sync())

	case GetSectorCount:
		sectors, err := d.card.Sectors()
		if err != nil {
			return resultOf(err)
		}
		switch p := arg.(type) {
		case *uint64:
			if p == nil {
				return ResultParameterError
			}
			*p = sectors
		case *uint32:
			if p == nil || sectors > math.MaxUint32 {
				return ResultParameterError
			}
			*p = uint32(sectors)
		default:
			return ResultParameterError
		}
		return ResultOK

	case GetBlockSize:
		p, ok := arg.(*uint32)
		if !ok || p == nil {
			return ResultParameterError
		}
		n, err := d.card.EraseBlockSize()
		switch {
		case errors.Is(err, pkg.ErrNotSupported), err == nil && n == 0:
			pkg.LogDebug(pkg.ComponentDisk, "erase block size unknown", "error", err)
			n = 1
		case err != nil:
			pkg.LogWarn(pkg.ComponentDisk, "erase block size failed", "error", err)
			return resultOf(err)
		}
		*p = n
		return ResultOK

	case CtrlTrim:
		r, ok := arg.(*[2]uint32)
		if !ok || r == nil {
			return ResultParameterError
		}
		if d.status&StatusProtect != 0 {
			return ResultWriteProtected
		}
		return resultOf(d.card.Erase(r[0], r[1]))

	default:
		return ResultParameterError
	}
}
