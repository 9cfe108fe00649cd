// Package sim implements a simulated SD card that plugs into the driver as an
// [spi.Bus].
//
// This package is primarily intended for testing. The simulated card runs
// the SPI-mode protocol byte by byte: it collects command frames, answers
// with R1/R2/R3/R7 responses after a configurable delay, streams data
// packets framed by start tokens, accepts written blocks with data response
// tokens followed by busy bytes, and honours the CMD12 stuff byte and the
// multi-block write stop token. Block contents live in a [Media].
//
// # Card Kinds
//
//   - [KindSDv2HC]: SDHC/SDXC, CMD8 echo, CCS set, block addressing
//   - [KindSDv2SC]: version 2 standard capacity, byte addressing
//   - [KindSDv1]: legacy SD, rejects CMD8
//   - [KindMMC]: MultiMediaCard, rejects CMD8 and CMD55, initializes with CMD1
//
// # Faults
//
// Options inject the failures a driver must survive: a card that never
// answers, a slow card, a voltage mismatch, write protection, a block that
// reads back an error token and a card that never leaves busy.
//
// # Usage
//
//	media := sim.NewMemoryMedia(2048) // 1 MiB
//	card := sim.New(sim.KindSDv2HC, media, sim.WithOpCondPolls(3))
//
//	drv := sdcard.New(card)
//	if err := drv.Init(); err != nil {
//	    // ...
//	}
//
// Every command the card receives is recorded and available from
// [Card.History], so tests can assert which branch of the initialization
// sequence the driver took.
package sim
