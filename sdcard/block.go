package sdcard

import (
	"fmt"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi"
)

// address translates a logical block number into a command argument.
// Byte-addressed cards cannot reach blocks at or beyond 4 GiB.
func (c *Card) address(block uint32) (uint32, error) {
	if c.cardType.BlockAddressed() {
		return block, nil
	}
	if block > byteAddressMax {
		return 0, fmt.Errorf("block %d: %w: byte addressing limited to %d blocks",
			block, pkg.ErrOutOfRange, byteAddressMax+1)
	}
	return block * BlockSize, nil
}

// checkBuffer validates the block count and buffer length of a transfer.
func checkBuffer(buf []byte, block, count uint32) error {
	if uint64(len(buf)) < uint64(count)*BlockSize {
		return fmt.Errorf("%d blocks need %d bytes, have %d: %w",
			count, uint64(count)*BlockSize, len(buf), pkg.ErrBufferTooSmall)
	}
	if uint64(block)+uint64(count) > 1<<32 {
		return fmt.Errorf("blocks %d+%d: %w", block, count, pkg.ErrOutOfRange)
	}
	return nil
}

// ReadBlock reads one 512-byte block into dst using CMD17.
func (c *Card) ReadBlock(block uint32, dst []byte) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if err := checkBuffer(dst, block, 1); err != nil {
		return err
	}
	arg, err := c.address(block)
	if err != nil {
		return err
	}
	defer c.release()

	if r := c.command(CmdReadSingleBlock, arg); r != R1Ready {
		return c.blockError(block, &CommandError{Command: CmdReadSingleBlock, Response: r})
	}
	if err := c.readData(block, dst[:BlockSize]); err != nil {
		return c.blockError(block, err)
	}
	return nil
}

// ReadBlocks reads count consecutive blocks into dst using CMD18, ending the
// transfer with CMD12. dst must hold count*512 bytes.
func (c *Card) ReadBlocks(block, count uint32, dst []byte) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if err := checkBuffer(dst, block, count); err != nil {
		return err
	}
	if _, err := c.address(block + count - 1); err != nil {
		return err
	}
	arg, _ := c.address(block)
	defer c.release()

	if r := c.command(CmdReadMultipleBlock, arg); r != R1Ready {
		return c.blockError(block, &CommandError{Command: CmdReadMultipleBlock, Response: r})
	}

	var readErr error
	for i := uint32(0); i < count; i++ {
		off := i * BlockSize
		if readErr = c.readData(block+i, dst[off:off+BlockSize]); readErr != nil {
			readErr = c.blockError(block+i, readErr)
			break
		}
	}

	// Stop the stream even after a failed block so the card returns to
	// transfer state.
	if r := c.command(CmdStopTransmission, 0); r != R1Ready && readErr == nil {
		readErr = c.blockError(block+count-1, &CommandError{Command: CmdStopTransmission, Response: r})
	}
	if readErr == nil {
		readErr = c.waitNotBusy()
	}
	return readErr
}

// WriteBlock writes one 512-byte block from src using CMD24.
func (c *Card) WriteBlock(block uint32, src []byte) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if err := checkBuffer(src, block, 1); err != nil {
		return err
	}
	arg, err := c.address(block)
	if err != nil {
		return err
	}
	defer c.release()

	if r := c.command(CmdWriteBlock, arg); r != R1Ready {
		return c.blockError(block, &CommandError{Command: CmdWriteBlock, Response: r})
	}
	if err := c.writeData(block, TokenStartBlock, src[:BlockSize]); err != nil {
		return c.blockError(block, err)
	}
	return nil
}

// WriteBlocks writes count consecutive blocks from src using CMD25. SD cards
// are first told the block count with ACMD23 so they can pre-erase.
func (c *Card) WriteBlocks(block, count uint32, src []byte) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if err := checkBuffer(src, block, count); err != nil {
		return err
	}
	if _, err := c.address(block + count - 1); err != nil {
		return err
	}
	arg, _ := c.address(block)
	defer c.release()

	if c.cfg.PreErase && c.cardType.IsSD() {
		if r := c.command(AcmdSetWrBlkEraseCount, preEraseCount(count)); r != R1Ready {
			return c.blockError(block, &CommandError{Command: AcmdSetWrBlkEraseCount, Response: r})
		}
	}

	if r := c.command(CmdWriteMultipleBlock, arg); r != R1Ready {
		return c.blockError(block, &CommandError{Command: CmdWriteMultipleBlock, Response: r})
	}

	var writeErr error
	for i := uint32(0); i < count; i++ {
		off := i * BlockSize
		if writeErr = c.writeData(block+i, TokenStartMultiWrite, src[off:off+BlockSize]); writeErr != nil {
			writeErr = c.blockError(block+i, writeErr)
			break
		}
	}

	// The stop token is sent after a rejected block too, ending the write
	// sequence before the card is released.
	c.bus.Transfer(TokenStopMultiWrite)
	c.bus.Transfer(spi.Idle)
	if err := c.waitNotBusy(); err != nil && writeErr == nil {
		writeErr = c.blockError(block+count-1, err)
	}
	return writeErr
}

// preEraseCount caps a write length to the 23-bit ACMD23 block count.
func preEraseCount(count uint32) uint32 {
	return min(count, preEraseMax)
}

// readData waits for the start token and reads len(dst) payload bytes
// followed by the two CRC bytes, which are discarded.
func (c *Card) readData(block uint32, dst []byte) error {
	if err := c.waitToken(block); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = c.bus.Transfer(spi.Idle)
	}
	spi.Fill(c.bus, blockCRCSize)
	return nil
}

// waitToken polls for the start token. An error token ends the wait early.
func (c *Card) waitToken(block uint32) error {
	for i := 0; i < c.cfg.TokenRetries; i++ {
		b := c.bus.Transfer(spi.Idle)
		switch {
		case b == TokenStartBlock:
			return nil
		case isErrorToken(b):
			return &DataTokenError{Block: block, Token: b}
		}
	}
	return pkg.ErrTokenTimeout
}

// writeData sends one data packet and waits for the card to program it.
func (c *Card) writeData(block uint32, token byte, src []byte) error {
	c.bus.Transfer(token)
	for _, b := range src {
		c.bus.Transfer(b)
	}
	spi.Fill(c.bus, blockCRCSize)

	resp := c.bus.Transfer(spi.Idle)
	if resp&dataResponseMask != DataResponseAccepted {
		return &DataError{Block: block, Response: resp}
	}
	return c.waitNotBusy()
}

// waitNotBusy polls until the card stops holding the data line low.
func (c *Card) waitNotBusy() error {
	for i := 0; i < c.cfg.BusyRetries; i++ {
		if c.bus.Transfer(spi.Idle) != 0x00 {
			return nil
		}
	}
	return pkg.ErrBusyTimeout
}

// blockError logs a failed block operation and annotates err with the block.
func (c *Card) blockError(block uint32, err error) error {
	pkg.LogWarn(pkg.ComponentBlock, "block operation failed",
		"block", block, "type", c.cardType, "error", err)
	return fmt.Errorf("block %d: %w", block, err)
}

// Sync waits until the card has finished programming any accepted data.
func (c *Card) Sync() error {
	if err := c.requireReady(); err != nil {
		return err
	}
	c.selectCard()
	defer c.release()
	return c.waitNotBusy()
}

// Erase erases the inclusive block range [first, last] with CMD32, CMD33 and
// CMD38. Erase groups are a property of SD cards; MultiMediaCards report
// [pkg.ErrNotSupported].
func (c *Card) Erase(first, last uint32) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if !c.cardType.IsSD() {
		return fmt.Errorf("erase on %s: %w", c.cardType, pkg.ErrNotSupported)
	}
	if last < first {
		return fmt.Errorf("erase %d..%d: %w", first, last, pkg.ErrInvalidParameter)
	}
	start, err := c.address(first)
	if err != nil {
		return err
	}
	end, err := c.address(last)
	if err != nil {
		return err
	}
	defer c.release()

	for _, step := range []struct {
		cmd Command
		arg uint32
	}{
		{CmdEraseWrBlkStart, start},
		{CmdEraseWrBlkEnd, end},
		{CmdErase, 0},
	} {
		if r := c.command(step.cmd, step.arg); r != R1Ready {
			return c.blockError(first, &CommandError{Command: step.cmd, Response: r})
		}
	}
	if err := c.waitNotBusy(); err != nil {
		return c.blockError(first, err)
	}

	pkg.LogDebug(pkg.ComponentBlock, "erased", "first", first, "last", last)
	return nil
}
