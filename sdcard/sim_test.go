package sdcard

import (
	"testing"

	"github.com/ardnew/softsd/spi/sim"
)

// testBlocks is the capacity of simulated cards unless a test needs more.
const testBlocks = 1 << 16 // 32 MiB

// newSimCard returns a driver attached to a simulated card of the given kind.
// The driver polls without sleeping.
func newSimCard(t *testing.T, kind sim.Kind, blocks uint64, simOpts []sim.Option, opts ...Option) (*Card, *sim.Card, *sim.MemoryMedia) {
	t.Helper()
	media := sim.NewMemoryMedia(blocks)
	simCard := sim.New(kind, media, simOpts...)
	opts = append([]Option{WithOpCondRetries(100, 0)}, opts...)
	return New(simCard, opts...), simCard, media
}

// readyCard returns an initialized driver attached to a simulated card.
func readyCard(t *testing.T, kind sim.Kind, blocks uint64, simOpts ...sim.Option) (*Card, *sim.Card, *sim.MemoryMedia) {
	t.Helper()
	card, simCard, media := newSimCard(t, kind, blocks, simOpts)
	if err := card.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return card, simCard, media
}

// count returns how many times cmd appears in history.
func count(history []uint8, cmd Command) int {
	n := 0
	for _, c := range history {
		if Command(c) == cmd {
			n++
		}
	}
	return n
}

// pattern fills a buffer of n blocks with bytes derived from seed.
func pattern(seed byte, blocks int) []byte {
	buf := make([]byte, blocks*BlockSize)
	for i := range buf {
		buf[i] = seed ^ byte(i) ^ byte(i>>8)*7
	}
	return buf
}
