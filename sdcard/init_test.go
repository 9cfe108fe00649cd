package sdcard

import (
	"errors"
	"testing"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi"
	"github.com/ardnew/softsd/spi/sim"
)

func TestInitCardTypes(t *testing.T) {
	tests := []struct {
		name         string
		kind         sim.Kind
		wantType     CardType
		wantBlockLen bool // CMD16 issued
		wantOCR      bool // CMD58 issued
	}{
		{"SDHC", sim.KindSDv2HC, TypeSDv2HC, false, true},
		{"SDv2 standard capacity", sim.KindSDv2SC, TypeSDv2SC, true, true},
		{"SDv1", sim.KindSDv1, TypeSDv1, true, false},
		{"MMC", sim.KindMMC, TypeMMC, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, simCard, _ := readyCard(t, tt.kind, testBlocks)

			if card.Type() != tt.wantType {
				t.Errorf("Type() = %v, want %v", card.Type(), tt.wantType)
			}
			if card.State() != StateReady || !card.Ready() {
				t.Errorf("State() = %v, want %v", card.State(), StateReady)
			}
			if card.BlockAddressing() != (tt.wantType == TypeSDv2HC) {
				t.Errorf("BlockAddressing() = %v", card.BlockAddressing())
			}

			history := simCard.History()
			if history[0] != uint8(CmdGoIdleState) {
				t.Errorf("first command = %d, want CMD0", history[0])
			}
			if got := count(history, CmdSetBlockLen) > 0; got != tt.wantBlockLen {
				t.Errorf("CMD16 sent = %v, want %v", got, tt.wantBlockLen)
			}
			if got := count(history, CmdReadOCR) > 0; got != tt.wantOCR {
				t.Errorf("CMD58 sent = %v, want %v", got, tt.wantOCR)
			}
			if simCard.Idle() {
				t.Error("simulated card still idle after Init")
			}
		})
	}
}

func TestInitSDHCPollsACMD41(t *testing.T) {
	card, simCard, _ := newSimCard(t, sim.KindSDv2HC, testBlocks,
		[]sim.Option{sim.WithOpCondPolls(2)})

	if err := card.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	history := simCard.History()
	if got := count(history, AcmdSDSendOpCond); got != 3 {
		t.Errorf("ACMD41 sent %d times, want 3", got)
	}
	if got := count(history, CmdAppCmd); got != 3 {
		t.Errorf("CMD55 sent %d times, want 3", got)
	}
	if count(history, CmdSendOpCond) != 0 {
		t.Error("CMD1 sent to an SD card")
	}
}

func TestInitMMCUsesCMD1(t *testing.T) {
	_, simCard, _ := readyCard(t, sim.KindMMC, testBlocks)

	history := simCard.History()
	if count(history, AcmdSDSendOpCond) != 0 {
		t.Error("ACMD41 reached an MMC")
	}
	if count(history, CmdSendOpCond) == 0 {
		t.Error("CMD1 never sent")
	}
}

func TestInitSDv1ReadyOnFirstPoll(t *testing.T) {
	card, simCard, _ := newSimCard(t, sim.KindSDv1, testBlocks,
		[]sim.Option{sim.WithOpCondPolls(0)})

	if err := card.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if card.Type() != TypeSDv1 {
		t.Errorf("Type() = %v, want %v", card.Type(), TypeSDv1)
	}
	if got := count(simCard.History(), AcmdSDSendOpCond); got != 1 {
		t.Errorf("ACMD41 sent %d times, want 1", got)
	}
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name      string
		kind      sim.Kind
		simOpts   []sim.Option
		opts      []Option
		wantState State
		wantErr   error
	}{
		{
			name:      "no card",
			kind:      sim.KindSDv2HC,
			simOpts:   []sim.Option{sim.WithSilent()},
			wantState: StateNoCard,
			wantErr:   pkg.ErrNoCard,
		},
		{
			name:      "voltage mismatch",
			kind:      sim.KindSDv2HC,
			simOpts:   []sim.Option{sim.WithVoltageMismatch()},
			wantState: StateUnsupportedVoltage,
			wantErr:   pkg.ErrUnsupportedVoltage,
		},
		{
			name:      "op cond timeout",
			kind:      sim.KindSDv2HC,
			simOpts:   []sim.Option{sim.WithOpCondPolls(1000)},
			opts:      []Option{WithOpCondRetries(5, 0)},
			wantState: StateTimeout,
			wantErr:   pkg.ErrTimeout,
		},
		{
			name:      "MMC op cond timeout",
			kind:      sim.KindMMC,
			simOpts:   []sim.Option{sim.WithOpCondPolls(1000)},
			opts:      []Option{WithOpCondRetries(5, 0)},
			wantState: StateTimeout,
			wantErr:   pkg.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, _, _ := newSimCard(t, tt.kind, testBlocks, tt.simOpts, tt.opts...)

			err := card.Init()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Init() error = %v, want %v", err, tt.wantErr)
			}
			if card.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", card.State(), tt.wantState)
			}
			if card.Ready() || card.Type() != TypeUnknown {
				t.Errorf("card usable after failed Init: type %v", card.Type())
			}
		})
	}
}

func TestInitNoCardIsNoResponse(t *testing.T) {
	card, _, _ := newSimCard(t, sim.KindSDv1, testBlocks, []sim.Option{sim.WithSilent()})
	if err := card.Init(); !errors.Is(err, pkg.ErrNoResponse) {
		t.Errorf("Init() error = %v, want ErrNoResponse", err)
	}
}

// countingBus counts transfers on the wrapped bus.
type countingBus struct {
	spi.Bus
	transfers int
}

func (b *countingBus) Transfer(in byte) byte {
	b.transfers++
	return b.Bus.Transfer(in)
}

func TestInitNoCardIsBounded(t *testing.T) {
	bus := &countingBus{Bus: sim.New(sim.KindSDv2HC, sim.NewMemoryMedia(testBlocks), sim.WithSilent())}
	card := New(bus, WithResetRetries(4), WithCommandRetries(8))

	if err := card.Init(); !errors.Is(err, pkg.ErrNoCard) {
		t.Fatalf("Init() error = %v", err)
	}
	// Power-up clocks, one dummy byte before chip select, the frame and
	// polls of every attempt, then the release clocks.
	want := powerUpClocks + 1 + 4*(frameSize+8) + releaseClocks
	if bus.transfers != want {
		t.Errorf("transfers = %d, want %d", bus.transfers, want)
	}
}

func TestInitSetsFrequency(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want uint32
	}{
		{"default", nil, spi.DefaultFrequency},
		{"custom", []Option{WithFrequency(200_000, 8_000_000)}, 8_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, simCard, _ := newSimCard(t, sim.KindSDv2HC, testBlocks, nil, tt.opts...)
			if err := card.Init(); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if got := simCard.Frequency(); got != tt.want {
				t.Errorf("Frequency() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInitFailureKeepsInitFrequency(t *testing.T) {
	card, simCard, _ := newSimCard(t, sim.KindSDv2HC, testBlocks,
		[]sim.Option{sim.WithVoltageMismatch()})
	_ = card.Init()
	if got := simCard.Frequency(); got != spi.InitFrequency {
		t.Errorf("Frequency() = %d, want %d", got, spi.InitFrequency)
	}
}

func TestReinitAfterRemoval(t *testing.T) {
	card, simCard, _ := readyCard(t, sim.KindSDv2HC, testBlocks)
	buf := make([]byte, BlockSize)

	simCard.SetInserted(false)
	if card.Detected() {
		t.Error("Detected() = true after removal")
	}
	simCard.SetInserted(true)

	// The reinserted card is idle and rejects data commands until the
	// driver runs Init again.
	if err := card.ReadBlock(0, buf); err == nil {
		t.Error("ReadBlock() on reinserted card succeeded without Init")
	}
	if err := card.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := card.ReadBlock(0, buf); err != nil {
		t.Errorf("ReadBlock() after Init error = %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	card, _, _ := readyCard(t, sim.KindSDv1, testBlocks)
	card.Invalidate()

	buf := make([]byte, BlockSize)
	if err := card.ReadBlock(0, buf); !errors.Is(err, pkg.ErrNotReady) {
		t.Errorf("ReadBlock() error = %v, want ErrNotReady", err)
	}
	if card.Type() != TypeUnknown {
		t.Errorf("Type() = %v, want %v", card.Type(), TypeUnknown)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StatePowerOn, "PowerOn"},
		{StateOpCondWait, "OpCondWait"},
		{StateReady, "Ready"},
		{StateUnsupportedVoltage, "UnsupportedVoltage"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
