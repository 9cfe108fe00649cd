package sdcard

import (
	"time"

	"github.com/ardnew/softsd/spi"
)

// Config holds the driver's retry ceilings and bus settings.
type Config struct {
	// CommandRetries is the number of bytes polled for an R1 response.
	CommandRetries int

	// ResetRetries is the number of CMD0 attempts before giving up on the card.
	ResetRetries int

	// OpCondRetries is the number of ACMD41/CMD1 polls allowed while the card
	// leaves idle state. Together with PollInterval it must cover at least
	// one second.
	OpCondRetries int

	// PollInterval is the pause between operating-condition polls.
	PollInterval time.Duration

	// TokenRetries is the number of byte-times to wait for a start token.
	TokenRetries int

	// BusyRetries is the number of byte-times to wait for the card to
	// release the busy signal after a write or erase.
	BusyRetries int

	// InitFrequency is the bus clock used until initialization completes.
	InitFrequency uint32

	// Frequency is the bus clock used once the card is ready.
	Frequency uint32

	// PreErase sends ACMD23 before multi-block writes to SD cards.
	PreErase bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		CommandRetries: 10,
		ResetRetries:   10,
		OpCondRetries:  1000,
		PollInterval:   time.Millisecond,
		TokenRetries:   0xFFFF,
		BusyRetries:    1 << 18,
		InitFrequency:  spi.InitFrequency,
		Frequency:      spi.DefaultFrequency,
		PreErase:       true,
	}
}

// Option is a functional option for configuring a Card.
type Option func(*Config)

// WithCommandRetries sets the number of bytes polled for a command response.
func WithCommandRetries(n int) Option {
	return func(c *Config) {
		c.CommandRetries = n
	}
}

// WithResetRetries sets the number of CMD0 attempts during initialization.
func WithResetRetries(n int) Option {
	return func(c *Config) {
		c.ResetRetries = n
	}
}

// WithOpCondRetries sets the operating-condition polling ceiling and the
// pause between polls.
//
// Example:
//
//	card := sdcard.New(bus, sdcard.WithOpCondRetries(500, 2*time.Millisecond))
func WithOpCondRetries(n int, interval time.Duration) Option {
	return func(c *Config) {
		c.OpCondRetries = n
		c.PollInterval = interval
	}
}

// WithTokenRetries sets the number of byte-times to wait for a data token.
func WithTokenRetries(n int) Option {
	return func(c *Config) {
		c.TokenRetries = n
	}
}

// WithBusyRetries sets the number of byte-times to wait for a busy card.
func WithBusyRetries(n int) Option {
	return func(c *Config) {
		c.BusyRetries = n
	}
}

// WithFrequency sets the initialization and transfer clock rates. It has no
// effect unless the bus implements [spi.Clocker].
func WithFrequency(init, transfer uint32) Option {
	return func(c *Config) {
		c.InitFrequency = init
		c.Frequency = transfer
	}
}

// WithPreErase enables or disables ACMD23 before multi-block writes.
func WithPreErase(enabled bool) Option {
	return func(c *Config) {
		c.PreErase = enabled
	}
}
