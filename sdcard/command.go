package sdcard

import (
	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi"
)

// frame encodes cmd and arg into a six-byte command frame.
func frame(buf *[frameSize]byte, cmd Command, arg uint32) {
	buf[0] = frameStart | cmd.Index()
	buf[1] = byte(arg >> 24)
	buf[2] = byte(arg >> 16)
	buf[3] = byte(arg >> 8)
	buf[4] = byte(arg)
	buf[5] = CRC7(buf[:5])<<1 | frameStop
}

// command sends cmd with arg and returns the R1 response. ACMDs are prefixed
// with CMD55; if CMD55 itself fails its response is returned instead.
//
// The card is left selected; the caller releases it when the sequence is done.
func (c *Card) command(cmd Command, arg uint32) R1 {
	if cmd.IsApp() {
		if r := c.send(CmdAppCmd, 0); r > R1Idle {
			return r
		}
	}
	return c.send(cmd, arg)
}

// send transmits one frame and polls for the response.
func (c *Card) send(cmd Command, arg uint32) R1 {
	c.selectCard()

	var buf [frameSize]byte
	frame(&buf, cmd, arg)
	for _, b := range buf {
		c.bus.Transfer(b)
	}

	// The byte following CMD12 is a stuff byte and carries no response.
	if cmd == CmdStopTransmission {
		c.bus.Transfer(spi.Idle)
	}

	for i := 0; i < c.cfg.CommandRetries; i++ {
		if r := R1(c.bus.Transfer(spi.Idle)); r.Valid() {
			return r
		}
	}
	pkg.LogDebug(pkg.ComponentCommand, "no response", "command", cmd, "arg", arg)
	return R1NoResponse
}

// readTrailer reads the n bytes that follow R1 in R2, R3 and R7 responses.
func (c *Card) readTrailer(dst []byte) {
	for i := range dst {
		dst[i] = c.bus.Transfer(spi.Idle)
	}
}
