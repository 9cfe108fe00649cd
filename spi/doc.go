// Package spi defines the bus capability consumed by the SD card driver.
//
// The driver never touches port or pin registers. The host supplies a [Bus]
// at construction that shifts one byte in each direction and drives the
// card's chip-select line. Everything protocol-related (framing, polling,
// token handling) lives in the driver, leaving the bus to handle only the
// physical transfer.
//
// # Interface Overview
//
//   - [Bus]: full-duplex byte exchange plus chip select (required)
//   - [Clocker]: clock rate control, used to run initialization slowly (optional)
//   - [Detector]: card-detect switch, used to report media removal (optional)
//
// Optional capabilities are discovered with a type assertion, so a bus that
// can only transfer bytes is still a complete implementation.
//
// # Implementing a Bus
//
// A TinyGo implementation over machine.SPI is a few lines:
//
//	type pinBus struct {
//	    spi machine.SPI
//	    cs  machine.Pin
//	}
//
//	func (b *pinBus) Select()   { b.cs.Low() }
//	func (b *pinBus) Deselect() { b.cs.High() }
//	func (b *pinBus) Transfer(v byte) byte {
//	    r, _ := b.spi.Transfer(v)
//	    return r
//	}
//
// The spi/sim package provides a simulated card for host-side testing.
package spi
