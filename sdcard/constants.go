package sdcard

import "strconv"

// BlockSize is the logical block size exposed by the driver.
const BlockSize = 512

// Command is an SD command index. Application-specific commands carry the
// [AppFlag] bit and are prefixed with CMD55 when sent.
type Command uint8

// AppFlag tags a command index as an ACMD.
const AppFlag Command = 0x80

// SD commands used in SPI mode.
const (
	CmdGoIdleState        Command = 0  // CMD0: software reset
	CmdSendOpCond         Command = 1  // CMD1: MMC initialization
	CmdSendIfCond         Command = 8  // CMD8: interface condition (R7)
	CmdSendCSD            Command = 9  // CMD9: read CSD register
	CmdSendCID            Command = 10 // CMD10: read CID register
	CmdStopTransmission   Command = 12 // CMD12: stop multi-block read
	CmdSendStatus         Command = 13 // CMD13: card status (R2)
	CmdSetBlockLen        Command = 16 // CMD16: set block length
	CmdReadSingleBlock    Command = 17 // CMD17: read one block
	CmdReadMultipleBlock  Command = 18 // CMD18: read until stopped
	CmdWriteBlock         Command = 24 // CMD24: write one block
	CmdWriteMultipleBlock Command = 25 // CMD25: write until stop token
	CmdEraseWrBlkStart    Command = 32 // CMD32: first block to erase
	CmdEraseWrBlkEnd      Command = 33 // CMD33: last block to erase
	CmdErase              Command = 38 // CMD38: erase selected range
	CmdAppCmd             Command = 55 // CMD55: next command is an ACMD
	CmdReadOCR            Command = 58 // CMD58: read OCR (R3)
)

// Application-specific commands.
const (
	AcmdSDStatus           = AppFlag | 13 // ACMD13: SD status (R2)
	AcmdSetWrBlkEraseCount = AppFlag | 23 // ACMD23: pre-erase count
	AcmdSDSendOpCond       = AppFlag | 41 // ACMD41: SD initialization
)

// Index returns the 6-bit command index without the ACMD tag.
func (c Command) Index() uint8 {
	return uint8(c) & 0x3F
}

// IsApp reports whether c is an application-specific command.
func (c Command) IsApp() bool {
	return c&AppFlag != 0
}

// String returns the conventional name of the command, e.g. "CMD17" or "ACMD41".
func (c Command) String() string {
	if c.IsApp() {
		return "ACMD" + strconv.Itoa(int(c.Index()))
	}
	return "CMD" + strconv.Itoa(int(c.Index()))
}

// Command frame layout.
const (
	frameSize  = 6
	frameStart = 0x40 // start bit 0, transmission bit 1
	frameStop  = 0x01 // end bit
)

// Data tokens.
const (
	TokenStartBlock      byte = 0xFE // CMD17/18/24 and register reads
	TokenStartMultiWrite byte = 0xFC // each block of CMD25
	TokenStopMultiWrite  byte = 0xFD // ends CMD25
)

// Data response token (low five bits of the byte following a written block).
const (
	dataResponseMask     byte = 0x1F
	DataResponseAccepted byte = 0x05
	DataResponseCRCError byte = 0x0B
	DataResponseWriteErr byte = 0x0D
)

// Arguments used during initialization.
const (
	ifCondVoltage  = 0x100 // 2.7-3.6 V
	ifCondPattern  = 0xAA
	ifCondArgument = ifCondVoltage | ifCondPattern
	acmd41HCS      = 1 << 30 // host supports high capacity
	byteAddressMax = 0x7FFFFF
	preEraseMax    = 1<<23 - 1
	powerUpClocks  = 10 // 80 clocks with CS high, at least 74 required
	releaseClocks  = 10 // trailing clocks after deselect
	sdStatusSize   = 64
	registerSize   = 16
	ocrSize        = 4
	blockCRCSize   = 2
)

// CardType identifies the card generation detected during initialization.
type CardType uint8

// Card types.
const (
	TypeUnknown CardType = iota // Not initialized
	TypeMMC                     // MultiMediaCard
	TypeSDv1                    // SD version 1.x, standard capacity
	TypeSDv2SC                  // SD version 2.0+, standard capacity
	TypeSDv2HC                  // SD version 2.0+, high or extended capacity
)

// String returns a human-readable card type name.
func (t CardType) String() string {
	switch t {
	case TypeMMC:
		return "MMC"
	case TypeSDv1:
		return "SDv1"
	case TypeSDv2SC:
		return "SDv2"
	case TypeSDv2HC:
		return "SDHC"
	default:
		return "Unknown"
	}
}

// IsSD reports whether the card speaks the SD (not MMC) command set.
func (t CardType) IsSD() bool {
	return t == TypeSDv1 || t == TypeSDv2SC || t == TypeSDv2HC
}

// BlockAddressed reports whether data commands take block numbers rather than
// byte offsets.
func (t CardType) BlockAddressed() bool {
	return t == TypeSDv2HC
}
