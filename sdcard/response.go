package sdcard

import (
	"fmt"
	"strings"

	"github.com/ardnew/softsd/pkg"
)

// R1 is the one-byte status returned by every command.
type R1 uint8

// R1 status bits.
const (
	R1Ready              R1 = 0x00
	R1Idle               R1 = 1 << 0
	R1EraseReset         R1 = 1 << 1
	R1IllegalCommand     R1 = 1 << 2
	R1CRCError           R1 = 1 << 3
	R1EraseSequenceError R1 = 1 << 4
	R1AddressError       R1 = 1 << 5
	R1ParameterError     R1 = 1 << 6

	// R1NoResponse is reported when no byte with the top bit clear arrived
	// within the polling ceiling.
	R1NoResponse R1 = 0xFF
)

// Valid reports whether r is a real response (top bit clear).
func (r R1) Valid() bool {
	return r&0x80 == 0
}

// Idle reports whether the card is in idle state.
func (r R1) Idle() bool {
	return r.Valid() && r&R1Idle != 0
}

// IllegalCommand reports whether the card rejected the command index.
func (r R1) IllegalCommand() bool {
	return r.Valid() && r&R1IllegalCommand != 0
}

// Err returns the error encoded in r, or nil if r is R1Ready.
// The most specific condition wins when several bits are set.
func (r R1) Err() error {
	switch {
	case r == R1Ready:
		return nil
	case !r.Valid():
		return pkg.ErrNoResponse
	case r&R1IllegalCommand != 0:
		return pkg.ErrIllegalCommand
	case r&R1CRCError != 0:
		return pkg.ErrCRC
	case r&(R1EraseReset|R1EraseSequenceError) != 0:
		return pkg.ErrErase
	case r&R1AddressError != 0:
		return pkg.ErrAddress
	case r&R1ParameterError != 0:
		return pkg.ErrParameter
	default:
		return pkg.ErrIdle
	}
}

// String returns the set status bits, e.g. "idle|illegal-command".
func (r R1) String() string {
	if r == R1Ready {
		return "ready"
	}
	if !r.Valid() {
		return "no-response"
	}
	names := [...]string{
		"idle", "erase-reset", "illegal-command", "crc-error",
		"erase-sequence-error", "address-error", "parameter-error",
	}
	var parts []string
	for i, name := range names {
		if r&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// CommandError reports a command that did not return the expected response.
type CommandError struct {
	Command  Command
	Response R1
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Response)
}

// Unwrap returns the sentinel decoded from the response.
func (e *CommandError) Unwrap() error {
	if err := e.Response.Err(); err != nil {
		return err
	}
	return pkg.ErrIdle
}

// checkR1 returns a *CommandError unless r equals R1Ready.
func checkR1(cmd Command, r R1) error {
	if r == R1Ready {
		return nil
	}
	return &CommandError{Command: cmd, Response: r}
}

// DataError reports a write whose data response token was not "accepted".
type DataError struct {
	Block    uint32
	Response byte
}

// Error implements error.
func (e *DataError) Error() string {
	var reason string
	switch e.Response & dataResponseMask {
	case DataResponseCRCError:
		reason = "CRC error"
	case DataResponseWriteErr:
		reason = "write error"
	default:
		reason = fmt.Sprintf("response %#02x", e.Response)
	}
	return fmt.Sprintf("block %d: data rejected: %s", e.Block, reason)
}

// Unwrap returns [pkg.ErrDataRejected].
func (e *DataError) Unwrap() error {
	return pkg.ErrDataRejected
}

// Data error token bits.
const (
	tokenError       byte = 1 << 0
	tokenCCError     byte = 1 << 1
	tokenECCFailed   byte = 1 << 2
	tokenOutOfRange  byte = 1 << 3
	errorTokenMask   byte = 0xE0
	errorTokenDetail byte = 0x0F
)

// isErrorToken reports whether b is a data error token (000xxxxx with a
// nonzero low nibble).
func isErrorToken(b byte) bool {
	return b&errorTokenMask == 0 && b&errorTokenDetail != 0
}

// DataTokenError reports an error token received in place of a start token.
type DataTokenError struct {
	Block uint32
	Token byte
}

// Error implements error.
func (e *DataTokenError) Error() string {
	var parts []string
	if e.Token&tokenError != 0 {
		parts = append(parts, "error")
	}
	if e.Token&tokenCCError != 0 {
		parts = append(parts, "cc-error")
	}
	if e.Token&tokenECCFailed != 0 {
		parts = append(parts, "ecc-failed")
	}
	if e.Token&tokenOutOfRange != 0 {
		parts = append(parts, "out-of-range")
	}
	return fmt.Sprintf("block %d: data error token %#02x (%s)",
		e.Block, e.Token, strings.Join(parts, "|"))
}

// Unwrap returns [pkg.ErrDataToken].
func (e *DataTokenError) Unwrap() error {
	return pkg.ErrDataToken
}
