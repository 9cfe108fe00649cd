package sdcard

import (
	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi"
)

// State is a step of the card initialization sequence.
type State uint8

// Initialization states. NoCard, UnsupportedVoltage, Timeout and Failed are
// terminal failure states of a single Init call.
const (
	StatePowerOn State = iota
	StateReset
	StateInterfaceCheck
	StateOpCondWait
	StateReadOCR
	StateReady
	StateNoCard
	StateUnsupportedVoltage
	StateTimeout
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePowerOn:
		return "PowerOn"
	case StateReset:
		return "Reset"
	case StateInterfaceCheck:
		return "InterfaceCheck"
	case StateOpCondWait:
		return "OpCondWait"
	case StateReadOCR:
		return "ReadOCR"
	case StateReady:
		return "Ready"
	case StateNoCard:
		return "NoCard"
	case StateUnsupportedVoltage:
		return "UnsupportedVoltage"
	case StateTimeout:
		return "Timeout"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Card drives one SD or MMC card in SPI mode.
//
// A Card is not safe for concurrent use. Exactly one operation may be in
// flight on the bus; callers sharing a card must serialize access.
type Card struct {
	bus spi.Bus
	cfg Config

	state    State
	cardType CardType

	// selected is true while chip select is held low for a command sequence.
	selected bool

	// scratch holds register payloads and R3/R7 trailers.
	scratch [sdStatusSize]byte
}

// New creates a driver for the card attached to bus. The card must be
// initialized with [Card.Init] before use.
func New(bus spi.Bus, opts ...Option) *Card {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Card{
		bus: bus,
		cfg: cfg,
	}
}

// Config returns the active configuration.
func (c *Card) Config() Config {
	return c.cfg
}

// State returns the state reached by the most recent Init call.
func (c *Card) State() State {
	return c.state
}

// Type returns the detected card type, or TypeUnknown before a successful Init.
func (c *Card) Type() CardType {
	return c.cardType
}

// Ready reports whether Init completed successfully.
func (c *Card) Ready() bool {
	return c.state == StateReady
}

// BlockAddressing reports whether data commands take block numbers.
func (c *Card) BlockAddressing() bool {
	return c.cardType.BlockAddressed()
}

// Detected reports whether a card is seated. Buses without a card-detect
// switch always report true.
func (c *Card) Detected() bool {
	if d, ok := c.bus.(spi.Detector); ok {
		return d.CardDetected()
	}
	return true
}

// Invalidate forgets the initialized card, e.g. after the card was removed.
// Subsequent operations fail with [pkg.ErrNotReady] until Init succeeds.
func (c *Card) Invalidate() {
	c.state = StatePowerOn
	c.cardType = TypeUnknown
}

// selectCard asserts chip select after a dummy byte that flushes the card's
// input logic. It does nothing while already selected.
func (c *Card) selectCard() {
	if c.selected {
		return
	}
	c.bus.Transfer(spi.Idle)
	c.bus.Select()
	c.selected = true
}

// release deasserts chip select and clocks the trailing idle bytes the card
// needs to finish internal processing.
func (c *Card) release() {
	c.bus.Deselect()
	c.selected = false
	spi.Fill(c.bus, releaseClocks)
}

// setFrequency changes the bus clock if the bus supports it.
func (c *Card) setFrequency(hz uint32) {
	clk, ok := c.bus.(spi.Clocker)
	if !ok || hz == 0 {
		return
	}
	if err := clk.SetFrequency(hz); err != nil {
		pkg.LogWarn(pkg.ComponentBus, "set frequency failed", "hz", hz, "error", err)
	}
}

// requireReady returns [pkg.ErrNotReady] unless Init has completed.
func (c *Card) requireReady() error {
	if c.state != StateReady {
		return pkg.ErrNotReady
	}
	return nil
}
