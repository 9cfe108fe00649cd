package sim

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/spi"
)

// Kind selects the card generation to simulate.
type Kind uint8

// Simulated card kinds.
const (
	KindSDv2HC Kind = iota // SDHC/SDXC
	KindSDv2SC             // SD version 2, standard capacity
	KindSDv1               // SD version 1
	KindMMC                // MultiMediaCard
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSDv2HC:
		return "SDHC"
	case KindSDv2SC:
		return "SDv2"
	case KindSDv1:
		return "SDv1"
	case KindMMC:
		return "MMC"
	default:
		return "unknown"
	}
}

// AppFlag marks application-specific commands in [Card.History].
const AppFlag = 0x80

// Protocol bytes.
const (
	idle         = 0xFF
	busy         = 0x00
	stuffByte    = 0x3F // arbitrary byte after CMD12, top bit clear
	tokenStart   = 0xFE
	tokenMulti   = 0xFC
	tokenStop    = 0xFD
	dataAccepted = 0xE5
	dataWriteErr = 0xED
	errOutRange  = 0x08
	hcsBit       = 1 << 30
)

// R1 bits.
const (
	r1Idle      = 0x01
	r1Illegal   = 0x04
	r1CRC       = 0x08
	r1Address   = 0x20
	r1Parameter = 0x40
)

// OCR bits.
const (
	ocrPowerUp = 1 << 31
	ocrCCS     = 1 << 30
	ocrVoltage = 0x00FF8000 // 2.7-3.6 V
)

// Data phase states.
type phase uint8

const (
	phaseNone phase = iota
	phaseWriteToken
	phaseWriteData
	phaseMultiToken
	phaseMultiData
	phaseReadMulti
)

// Card is a simulated SD card implementing [spi.Bus], [spi.Clocker] and
// [spi.Detector].
type Card struct {
	kind  Kind
	media Media
	cfg   config

	csd    [16]byte
	cid    [16]byte
	status [64]byte

	// Bus state
	inserted  bool
	selected  bool
	frequency uint32

	// Card state
	idle        bool
	appCmd      bool
	opCondPolls int
	phase       phase
	block       uint64
	eraseStart  uint64
	eraseEnd    uint64
	preErase    uint32

	// Command collection
	cmd     [6]byte
	cmdLen  int
	collect bool

	// Output queue and busy countdown (negative: busy forever)
	out     []byte
	busy    int
	data    [BlockSize + 2]byte
	dataLen int

	history []uint8
	mutex   sync.Mutex
}

var (
	_ spi.Bus      = (*Card)(nil)
	_ spi.Clocker  = (*Card)(nil)
	_ spi.Detector = (*Card)(nil)
)

// New creates a simulated card of the given kind backed by media.
func New(kind Kind, media Media, opts ...Option) *Card {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Card{
		kind:     kind,
		media:    media,
		cfg:      cfg,
		inserted: true,
		idle:     true,
	}
	c.csd = buildCSD(kind, media.BlockCount(), cfg.writeProtect)
	c.cid = buildCID(kind)
	c.status = buildStatus(&c.cfg)
	return c
}

// Kind returns the simulated card kind.
func (c *Card) Kind() Kind {
	return c.kind
}

// Select asserts chip select.
func (c *Card) Select() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.selected = true
}

// Deselect releases chip select. The card stops driving the data line and
// abandons any partially received command.
func (c *Card) Deselect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.selected = false
	c.collect = false
	c.out = c.out[:0]
	if c.phase == phaseReadMulti {
		c.phase = phaseNone
	}
}

// Transfer exchanges one byte with the card.
func (c *Card) Transfer(in byte) byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.inserted || !c.selected || c.cfg.silent {
		return idle
	}
	out := c.shiftOut()
	c.shiftIn(in)
	return out
}

// SetFrequency records the requested bus clock.
func (c *Card) SetFrequency(hz uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.frequency = hz
	return nil
}

// Frequency returns the most recently requested bus clock.
func (c *Card) Frequency() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.frequency
}

// CardDetected reports whether the card is inserted.
func (c *Card) CardDetected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.inserted
}

// SetInserted inserts or removes the card. A reinserted card powers up in
// idle state and must be initialized again.
func (c *Card) SetInserted(inserted bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if inserted && !c.inserted {
		c.powerUp()
	}
	c.inserted = inserted
}

// SetSilent makes the card stop (or resume) driving the bus while staying
// inserted, as a card with a broken connection would.
func (c *Card) SetSilent(silent bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cfg.silent = silent
}

// Idle reports whether the card is in idle state.
func (c *Card) Idle() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.idle
}

// History returns the commands received since the card was created or the
// history was cleared. Application-specific commands carry [AppFlag].
func (c *Card) History() []uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]uint8(nil), c.history...)
}

// ClearHistory discards the recorded commands.
func (c *Card) ClearHistory() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.history = c.history[:0]
}

// PreErase returns the block count of the last ACMD23.
func (c *Card) PreErase() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.preErase
}

func (c *Card) powerUp() {
	c.idle = true
	c.appCmd = false
	c.opCondPolls = 0
	c.phase = phaseNone
	c.collect = false
	c.out = c.out[:0]
	c.busy = 0
}

// shiftOut returns the next byte the card drives onto the data line.
func (c *Card) shiftOut() byte {
	if len(c.out) == 0 && c.phase == phaseReadMulti {
		c.queueBlock(c.block)
		c.block++
	}
	if len(c.out) > 0 {
		b := c.out[0]
		c.out = c.out[1:]
		return b
	}
	if c.busy != 0 {
		if c.busy > 0 {
			c.busy--
		}
		return busy
	}
	return idle
}

// shiftIn consumes one byte sent by the host.
func (c *Card) shiftIn(in byte) {
	switch c.phase {
	case phaseWriteData, phaseMultiData:
		c.data[c.dataLen] = in
		c.dataLen++
		if c.dataLen == len(c.data) {
			c.commitBlock()
		}
		return
	case phaseMultiToken:
		switch in {
		case tokenMulti:
			c.phase = phaseMultiData
			c.dataLen = 0
		case tokenStop:
			c.phase = phaseNone
			c.out = append(c.out, idle)
			c.busy = c.cfg.busyBytes
		}
		return
	case phaseWriteToken:
		if in == tokenStart {
			c.phase = phaseWriteData
			c.dataLen = 0
			return
		}
	}

	if c.collect {
		c.cmd[c.cmdLen] = in
		c.cmdLen++
		if c.cmdLen == len(c.cmd) {
			c.collect = false
			c.execute()
		}
		return
	}
	if in&0xC0 == 0x40 {
		c.collect = true
		c.cmd[0] = in
		c.cmdLen = 1
	}
}

// respond queues a response after the configured NCR delay.
func (c *Card) respond(b ...byte) {
	for i := 0; i < c.cfg.responseDelay; i++ {
		c.out = append(c.out, idle)
	}
	c.out = append(c.out, b...)
}

// r1 returns the base R1 status.
func (c *Card) r1() byte {
	if c.idle {
		return r1Idle
	}
	return 0
}

// execute runs a complete command frame.
func (c *Card) execute() {
	index := c.cmd[0] & 0x3F
	arg := binary.BigEndian.Uint32(c.cmd[1:5])
	app := c.appCmd
	c.appCmd = false

	rec := index
	if app {
		rec |= AppFlag
	}
	c.history = append(c.history, rec)

	// CRC is checked on the commands that are sent before CRC can be
	// turned off.
	if (index == 0 || index == 8) && crc7(c.cmd[:5])|0x01 != c.cmd[5] {
		pkg.LogDebug(pkg.ComponentSim, "bad CRC", "command", index)
		c.respond(c.r1() | r1CRC)
		return
	}

	if index == 12 {
		c.phase = phaseNone
		c.out = c.out[:0]
		c.out = append(c.out, stuffByte)
		c.respond(0)
		c.busy = c.cfg.busyBytes
		return
	}

	switch index {
	case 0, 1, 8, 41, 55, 58:
	default:
		if c.idle {
			c.respond(r1Idle | r1Illegal)
			return
		}
	}

	switch index {
	case 0:
		c.powerUp()
		c.respond(r1Idle)

	case 1:
		if c.kind != KindMMC {
			c.respond(c.r1() | r1Illegal)
			return
		}
		c.opCond()

	case 8:
		if c.kind == KindSDv1 || c.kind == KindMMC {
			c.respond(c.r1() | r1Illegal)
			return
		}
		voltage := byte(arg>>8) & 0x0F
		if c.cfg.voltageMismatch {
			voltage = 0
		}
		c.respond(c.r1(), 0, 0, voltage, byte(arg))

	case 9:
		c.respond(0)
		c.queueData(c.csd[:])

	case 10:
		c.respond(0)
		c.queueData(c.cid[:])

	case 13:
		c.respond(0, 0)
		if app {
			c.queueData(c.status[:])
		}

	case 16:
		if c.kind != KindSDv2HC && arg != BlockSize {
			c.respond(r1Parameter)
			return
		}
		c.respond(0)

	case 17, 18:
		lba, r := c.address(arg)
		if r != 0 {
			c.respond(r)
			return
		}
		c.respond(0)
		if index == 17 {
			c.queueBlock(lba)
			return
		}
		c.phase = phaseReadMulti
		c.block = lba

	case 23:
		if !app {
			c.respond(r1Illegal)
			return
		}
		c.preErase = arg & 0x7FFFFF
		c.respond(0)

	case 24, 25:
		lba, r := c.address(arg)
		if r != 0 {
			c.respond(r)
			return
		}
		c.respond(0)
		c.block = lba
		if index == 24 {
			c.phase = phaseWriteToken
		} else {
			c.phase = phaseMultiToken
		}

	case 32, 33:
		lba, r := c.address(arg)
		if r != 0 {
			c.respond(r)
			return
		}
		if index == 32 {
			c.eraseStart = lba
		} else {
			c.eraseEnd = lba
		}
		c.respond(0)

	case 38:
		c.erase()

	case 41:
		if !app || c.kind == KindMMC {
			c.respond(c.r1() | r1Illegal)
			return
		}
		if c.kind == KindSDv2HC && arg&hcsBit == 0 {
			// High capacity cards never leave idle for a host without HCS.
			c.respond(r1Idle)
			return
		}
		c.opCond()

	case 55:
		if c.kind == KindMMC {
			c.respond(c.r1() | r1Illegal)
			return
		}
		c.appCmd = true
		c.respond(c.r1())

	case 58:
		ocr := uint32(ocrVoltage)
		if !c.idle {
			ocr |= ocrPowerUp
			if c.kind == KindSDv2HC {
				ocr |= ocrCCS
			}
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ocr)
		c.respond(c.r1(), b[0], b[1], b[2], b[3])

	default:
		c.respond(r1Illegal)
	}
}

// opCond answers an ACMD41/CMD1 poll.
func (c *Card) opCond() {
	if c.opCondPolls < c.cfg.opCondPolls {
		c.opCondPolls++
		c.respond(r1Idle)
		return
	}
	if c.idle {
		pkg.LogDebug(pkg.ComponentSim, "card ready", "kind", c.kind, "polls", c.opCondPolls+1)
	}
	c.idle = false
	c.respond(0)
}

// address converts a command argument to a block number. It returns a
// nonzero R1 for misaligned or out-of-range arguments.
func (c *Card) address(arg uint32) (uint64, byte) {
	lba := uint64(arg)
	if c.kind != KindSDv2HC {
		if arg%BlockSize != 0 {
			return 0, r1Address
		}
		lba /= BlockSize
	}
	if lba >= c.media.BlockCount() {
		return 0, r1Parameter
	}
	return lba, 0
}

// queueData queues a data packet: token delay, start token, payload, CRC16.
func (c *Card) queueData(payload []byte) {
	for i := 0; i < c.cfg.tokenDelay; i++ {
		c.out = append(c.out, idle)
	}
	crc := crc16(payload)
	c.out = append(c.out, tokenStart)
	c.out = append(c.out, payload...)
	c.out = append(c.out, byte(crc>>8), byte(crc))
}

// queueBlock queues block lba, or an error token if it cannot be read.
func (c *Card) queueBlock(lba uint64) {
	if token, ok := c.cfg.faulty[lba]; ok {
		c.out = append(c.out, token)
		return
	}
	if lba >= c.media.BlockCount() {
		c.out = append(c.out, errOutRange)
		return
	}
	var buf [BlockSize]byte
	if err := c.media.ReadBlock(lba, buf[:]); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "media read failed", "block", lba, "error", err)
		c.out = append(c.out, 0x01)
		return
	}
	c.queueData(buf[:])
}

// commitBlock stores a received data packet and queues the data response.
func (c *Card) commitBlock() {
	resp := byte(dataAccepted)
	switch {
	case c.cfg.writeProtect:
		resp = dataWriteErr
	case c.block >= c.media.BlockCount():
		resp = dataWriteErr
	default:
		if err := c.media.WriteBlock(c.block, c.data[:BlockSize]); err != nil {
			pkg.LogWarn(pkg.ComponentSim, "media write failed", "block", c.block, "error", err)
			resp = dataWriteErr
		}
	}
	c.out = append(c.out, resp)
	c.busy = c.cfg.busyBytes

	if c.phase == phaseMultiData {
		c.phase = phaseMultiToken
		c.block++
	} else {
		c.phase = phaseNone
	}
}

// erase fills the selected erase range with 0xFF.
func (c *Card) erase() {
	if c.eraseEnd < c.eraseStart {
		c.respond(r1Parameter)
		return
	}
	c.respond(0)
	if c.cfg.writeProtect {
		return
	}
	var buf [BlockSize]byte
	for i := range buf {
		buf[i] = 0xFF
	}
	for lba := c.eraseStart; lba <= c.eraseEnd; lba++ {
		if err := c.media.WriteBlock(lba, buf[:]); err != nil {
			pkg.LogWarn(pkg.ComponentSim, "media erase failed", "block", lba, "error", err)
			break
		}
	}
	c.busy = c.cfg.busyBytes
}

// crc16 returns the CRC-16/XMODEM of data as carried after data packets.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
