package spi

// Bus clock rates used during card bring-up (SD Physical Layer Specification).
const (
	// InitFrequency is the highest clock rate allowed before initialization completes.
	InitFrequency uint32 = 400_000

	// DefaultFrequency is the default-speed transfer clock rate.
	DefaultFrequency uint32 = 25_000_000
)

// Idle is the filler byte clocked out while the host is receiving.
const Idle byte = 0xFF

// Bus is a synchronous SPI master connected to a single card.
//
// Implementations are not required to be safe for concurrent use; the
// driver issues exactly one operation at a time.
type Bus interface {
	// Select drives the card's chip-select line low.
	Select()

	// Deselect drives the card's chip-select line high.
	Deselect()

	// Transfer shifts b out while shifting one byte in, and returns the
	// received byte. It blocks until the shift completes.
	Transfer(b byte) byte
}

// Clocker is implemented by buses that can change their clock rate.
type Clocker interface {
	// SetFrequency sets the SPI clock rate in hertz. Implementations may
	// round down to the nearest supported rate.
	SetFrequency(hz uint32) error
}

// Detector is implemented by buses wired to a card-detect switch.
type Detector interface {
	// CardDetected reports whether a card is seated in the socket.
	CardDetected() bool
}

// Fill clocks n idle bytes through bus and discards what it receives.
func Fill(bus Bus, n int) {
	for i := 0; i < n; i++ {
		bus.Transfer(Idle)
	}
}
