// Package diskio adapts an SD card driver to the sector interface of a FAT
// filesystem.
//
// The functions mirror the low-level disk I/O layer that FatFs-style
// filesystems call: [Disk.Initialize], [Disk.Status], [Disk.Read],
// [Disk.Write] and [Disk.Ioctl]. Results are reported as [Result] codes
// rather than errors so the layer can be bound directly to such a
// filesystem; [Result.Error] converts a code back to a sentinel error from
// the pkg package.
//
// Single-sector requests use the card's single-block commands and longer
// requests use the multi-block commands.
//
// # Usage
//
//	disk := diskio.New(sdcard.New(bus))
//	if st := disk.Initialize(); st&diskio.StatusNoInit != 0 {
//	    // no usable card
//	}
//
//	buf := make([]byte, 4*diskio.SectorSize)
//	if r := disk.Read(buf, 0, 4); r != diskio.ResultOK {
//	    return r.Error()
//	}
package diskio
