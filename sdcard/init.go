package sdcard

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi"
)

// Init runs the SPI-mode bring-up sequence and detects the card type.
//
// The sequence is PowerOn, Reset (CMD0), InterfaceCheck (CMD8), OpCondWait
// (ACMD41 or CMD1) and, for version 2 cards, ReadOCR (CMD58). Any failure is
// final for this call and leaves the card in a terminal state; calling Init
// again restarts from PowerOn.
func (c *Card) Init() error {
	c.Invalidate()
	defer c.release()

	c.powerOn()

	if err := c.reset(); err != nil {
		return c.fail(StateNoCard, err)
	}

	v2, err := c.interfaceCheck()
	if err != nil {
		return c.fail(StateUnsupportedVoltage, err)
	}

	cardType, err := c.opCondWait(v2)
	if err != nil {
		return c.fail(StateTimeout, err)
	}

	if v2 {
		c.enter(StateReadOCR)
		cardType, err = c.readCapacity()
		if err != nil {
			return c.fail(StateFailed, err)
		}
	}

	if !cardType.BlockAddressed() {
		if r := c.command(CmdSetBlockLen, BlockSize); r != R1Ready {
			return c.fail(StateFailed, &CommandError{Command: CmdSetBlockLen, Response: r})
		}
	}

	c.cardType = cardType
	c.enter(StateReady)
	c.setFrequency(c.cfg.Frequency)

	pkg.LogInfo(pkg.ComponentCard, "card ready",
		"type", cardType,
		"blockAddressing", cardType.BlockAddressed())

	return nil
}

// enter records a state transition.
func (c *Card) enter(s State) {
	pkg.LogDebug(pkg.ComponentInit, "state", "from", c.state, "to", s)
	c.state = s
}

// fail moves to a terminal state and returns err.
func (c *Card) fail(s State, err error) error {
	c.enter(s)
	c.cardType = TypeUnknown
	pkg.LogWarn(pkg.ComponentInit, "initialization failed", "state", s, "error", err)
	return err
}

// powerOn clocks the card with chip select high so it enters native mode
// ready to accept CMD0.
func (c *Card) powerOn() {
	c.enter(StatePowerOn)
	c.setFrequency(c.cfg.InitFrequency)
	c.bus.Deselect()
	c.selected = false
	spi.Fill(c.bus, powerUpClocks)
}

// reset sends CMD0 until the card reports exactly idle state.
func (c *Card) reset() error {
	c.enter(StateReset)
	r := R1NoResponse
	for i := 0; i < c.cfg.ResetRetries; i++ {
		if r = c.command(CmdGoIdleState, 0); r == R1Idle {
			return nil
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", pkg.ErrNoCard, r, c.cfg.ResetRetries)
}

// interfaceCheck sends CMD8 and reports whether the card is version 2.
// Legacy cards reject CMD8 as illegal.
func (c *Card) interfaceCheck() (bool, error) {
	c.enter(StateInterfaceCheck)
	r := c.command(CmdSendIfCond, ifCondArgument)
	if r.IllegalCommand() {
		return false, nil
	}
	if r != R1Idle {
		return false, fmt.Errorf("%w: %w", pkg.ErrUnsupportedVoltage,
			&CommandError{Command: CmdSendIfCond, Response: r})
	}

	echo := c.scratch[:4]
	c.readTrailer(echo)
	if echo[2]&0x0F != ifCondVoltage>>8 || echo[3] != ifCondPattern {
		return false, fmt.Errorf("%w: CMD8 echo %#08x",
			pkg.ErrUnsupportedVoltage, binary.BigEndian.Uint32(echo))
	}
	return true, nil
}

// opCondWait polls the operating-condition command until the card leaves idle
// state. Version 2 cards are told the host supports high capacity. Legacy
// cards that reject ACMD41 are MultiMediaCards and use CMD1 instead.
func (c *Card) opCondWait(v2 bool) (CardType, error) {
	c.enter(StateOpCondWait)

	cmd, arg, cardType := AcmdSDSendOpCond, uint32(0), TypeSDv1
	if v2 {
		arg, cardType = acmd41HCS, TypeSDv2SC
	} else if r := c.command(cmd, arg); r.IllegalCommand() || !r.Valid() {
		cmd, cardType = CmdSendOpCond, TypeMMC
	} else if r == R1Ready {
		return cardType, nil
	}

	for i := 0; i < c.cfg.OpCondRetries; i++ {
		if r := c.command(cmd, arg); r == R1Ready {
			pkg.LogDebug(pkg.ComponentInit, "operating condition reached",
				"command", cmd, "polls", i+1, "type", cardType)
			return cardType, nil
		}
		if c.cfg.PollInterval > 0 {
			time.Sleep(c.cfg.PollInterval)
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %s still idle after %d polls",
		pkg.ErrTimeout, cmd, c.cfg.OpCondRetries)
}

// readCapacity reads the OCR of a version 2 card and reports whether it is
// standard or high capacity.
func (c *Card) readCapacity() (CardType, error) {
	ocr, err := c.readOCR()
	if err != nil {
		return TypeUnknown, err
	}
	if ocr.HighCapacity() {
		return TypeSDv2HC, nil
	}
	return TypeSDv2SC, nil
}
