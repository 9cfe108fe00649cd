package sim

// config holds the simulated card's timing and fault settings.
type config struct {
	opCondPolls     int
	responseDelay   int
	tokenDelay      int
	busyBytes       int
	silent          bool
	voltageMismatch bool
	writeProtect    bool
	faulty          map[uint64]byte
	auSize          uint8
	speedClass      uint8
}

// defaultConfig returns the default card behaviour: a card that answers one
// byte after each command and stays busy for a few bytes after each write.
func defaultConfig() config {
	return config{
		opCondPolls:   3,
		responseDelay: 1,
		tokenDelay:    2,
		busyBytes:     4,
		auSize:        9, // 4 MiB
		speedClass:    4, // Class 10
	}
}

// Option is a functional option for configuring a simulated card.
type Option func(*config)

// WithOpCondPolls sets how many ACMD41/CMD1 polls answer "idle" before the
// card reports ready.
func WithOpCondPolls(n int) Option {
	return func(c *config) {
		c.opCondPolls = n
	}
}

// WithResponseDelay sets the number of idle bytes before each response (NCR).
func WithResponseDelay(n int) Option {
	return func(c *config) {
		c.responseDelay = n
	}
}

// WithTokenDelay sets the number of idle bytes before each start token.
func WithTokenDelay(n int) Option {
	return func(c *config) {
		c.tokenDelay = n
	}
}

// WithBusyBytes sets how many busy bytes follow a write, erase or stop. A
// negative value keeps the card busy forever.
func WithBusyBytes(n int) Option {
	return func(c *config) {
		c.busyBytes = n
	}
}

// WithSilent makes the card never drive the data line, as if the socket
// were empty.
func WithSilent() Option {
	return func(c *config) {
		c.silent = true
	}
}

// WithVoltageMismatch makes a version 2 card reject the CMD8 voltage window.
func WithVoltageMismatch() Option {
	return func(c *config) {
		c.voltageMismatch = true
	}
}

// WithWriteProtect sets the CSD temporary write-protect flag and rejects
// every written block.
func WithWriteProtect() Option {
	return func(c *config) {
		c.writeProtect = true
	}
}

// WithFaultyBlock makes reads of block lba return the given data error token
// instead of data.
func WithFaultyBlock(lba uint64, token byte) Option {
	return func(c *config) {
		if c.faulty == nil {
			c.faulty = make(map[uint64]byte)
		}
		c.faulty[lba] = token
	}
}

// WithAUSize sets the SD status AU_SIZE code. Codes 1 to 0xA select
// 16 KiB << (n-1); 0xB to 0xF select 12, 16, 24, 32 and 64 MiB.
func WithAUSize(n uint8) Option {
	return func(c *config) {
		c.auSize = n
	}
}

// WithSpeedClass sets the SD status SPEED_CLASS code (0-4 for class 0, 2, 4, 6, 10).
func WithSpeedClass(code uint8) Option {
	return func(c *config) {
		c.speedClass = code
	}
}
