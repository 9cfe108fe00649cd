package pkg

import (
	"errors"
	"fmt"
)

// Command response errors, decoded from the R1 status bits.
var (
	// ErrNoResponse indicates the card never answered a command or data request.
	ErrNoResponse = errors.New("no response from card")

	// ErrIllegalCommand indicates the card rejected the command index.
	ErrIllegalCommand = errors.New("illegal command")

	// ErrCRC indicates the card rejected the command frame CRC.
	ErrCRC = errors.New("CRC error")

	// ErrErase indicates an erase reset or erase sequence error.
	ErrErase = errors.New("erase error")

	// ErrAddress indicates a misaligned or invalid address argument.
	ErrAddress = errors.New("address error")

	// ErrParameter indicates the command argument was out of range.
	ErrParameter = errors.New("parameter error")

	// ErrIdle indicates the card reported idle state where ready was expected.
	ErrIdle = errors.New("card in idle state")
)

// Transfer errors.
var (
	// ErrTimeout indicates a busy or operating-condition wait exceeded its ceiling.
	ErrTimeout = errors.New("timeout")

	// ErrDataRejected indicates the data response token did not accept a block.
	ErrDataRejected = errors.New("data rejected")

	// ErrDataToken indicates the card sent an error token instead of data.
	ErrDataToken = errors.New("data error token")

	// ErrTokenTimeout indicates no start token arrived within the polling ceiling.
	ErrTokenTimeout = fmt.Errorf("data token timeout: %w", ErrNoResponse)

	// ErrBusyTimeout indicates the card never released its busy state.
	ErrBusyTimeout = fmt.Errorf("busy timeout: %w", ErrTimeout)

	// ErrIO indicates a transfer failed for a reason not covered above.
	ErrIO = errors.New("I/O error")
)

// Card state errors.
var (
	// ErrNotReady indicates the card has not been initialized.
	ErrNotReady = errors.New("card not initialized")

	// ErrNoCard indicates no card answered the reset command.
	ErrNoCard = fmt.Errorf("no card: %w", ErrNoResponse)

	// ErrUnsupportedVoltage indicates the card rejected the host voltage window.
	ErrUnsupportedVoltage = errors.New("unsupported voltage")

	// ErrWriteProtected indicates the card is write protected.
	ErrWriteProtected = errors.New("write protected")
)

// Argument errors.
var (
	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrOutOfRange indicates a block number cannot be addressed by the card.
	ErrOutOfRange = errors.New("block out of range")

	// ErrNotSupported indicates an unsupported operation or register layout.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)
