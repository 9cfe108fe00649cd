// Package sdcard implements an SD, SDHC/SDXC and MMC block driver for cards
// attached to an SPI bus.
//
// The driver consumes a [spi.Bus] supplied by the host and exposes 512-byte
// logical blocks. It holds no global state; every bus access goes through the
// Card it was constructed with.
//
// # Architecture
//
// The driver consists of four components:
//
//  1. Command Framer - six-byte command frames with CRC7 and R1 polling
//  2. Initialization - CMD0/CMD8/ACMD41/CMD1/CMD58 bring-up and type detection
//  3. Block I/O - single and multi-block transfers with data tokens and busy waits
//  4. Metadata - CSD, CID, OCR and SD status decoding, capacity and erase size
//
// # Card Types
//
// Initialization branches on the card's answer to CMD8:
//
//   - Illegal command: legacy card. ACMD41 without HCS selects SD version 1;
//     if ACMD41 is illegal too the card is an MMC and CMD1 is used.
//   - Valid echo: version 2 card. ACMD41 with HCS, then CMD58 reads the
//     capacity bit to tell SDHC/SDXC (block addressing) from standard
//     capacity (byte addressing).
//
// # Polling
//
// There are no interrupts. Every wait (command response, start token, busy
// line, operating condition) is a loop bounded by a ceiling from [Config].
// After a timeout the card's internal state is unknown and it must be
// re-initialized before further use.
//
// # Usage Example
//
//	card := sdcard.New(bus)
//	if err := card.Init(); err != nil {
//	    return err
//	}
//
//	buf := make([]byte, sdcard.BlockSize)
//	if err := card.ReadBlock(0, buf); err != nil {
//	    return err
//	}
//
//	sectors, err := card.Sectors()
package sdcard
