package onewire

import (
	"fmt"
	"sync"
)

// 1-Wire command bytes (spec.md §6).
const (
	cmdReadROM       = 0x33
	cmdMatchROM      = 0x55
	cmdSkipROM       = 0xCC
	cmdSearchROM     = 0xF0
	cmdAlarmSearch   = 0xEC
	cmdConvertT      = 0x44
	cmdWriteScratch  = 0x4E
	cmdReadScratch   = 0xBE
	cmdCopyScratch   = 0x48
	cmdRecallEE      = 0xB8
	cmdReadPowerSup  = 0xB4
	baudReset        = 9600
	baudBit          = 115200
	firstSearchState = 0xFF // "from scratch"
	lastSearchState  = 0x00 // previous step was known-last-device
)

// Bus is a 1-Wire bus handle: a LineDriver, borrowed and outliving the
// handle, plus the search scratch state of spec.md §3. A Bus represents one
// physical bus and is not copied; share a *Bus between goroutines only
// through its Protect/Unprotect discipline (or the locking methods, which
// use it internally).
//
// Every operation here has a "Raw" form, which assumes the caller already
// holds the bus (single-threaded access or an explicit Protect(true)), and a
// plain form, which takes the lock itself. This is the Go rendering of
// spec.md §9's "raw vs. protected duplication" redesign flag: rather than a
// hand-duplicated pair of functions per entry point, the plain methods are
// thin wrappers that lock once and call the Raw primitive — so composing
// several Raw calls under one external Protect(true) behaves exactly like
// one protected call, without needing a true recursive mutex.
type Bus struct {
	driver LineDriver
	mu     sync.Mutex

	rom         ROM  // last ROM built/read during an in-progress search
	discrepancy byte // 0xFF fresh, 0x00 terminal, 1..64 = deepest unresolved fork
}

// Open initializes driver and returns a new Bus over it. The driver is
// borrowed: Close must be called to release it, and Open does not take
// ownership beyond that.
func Open(driver LineDriver) (*Bus, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: nil line driver", ErrParam)
	}
	if err := driver.Init(); err != nil {
		return nil, fmt.Errorf("%w: line driver init: %v", ErrGeneric, err)
	}
	return &Bus{
		driver:      driver,
		discrepancy: firstSearchState,
	}, nil
}

// Close releases the underlying LineDriver. The Bus must not be used
// afterwards.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.driver.Deinit(); err != nil {
		return fmt.Errorf("%w: line driver deinit: %v", ErrGeneric, err)
	}
	return nil
}

// Protect acquires the bus's lock when protect is true and is a no-op
// otherwise — for a caller that already holds the lock (e.g. a device
// driver's own protected entry point) and wants to compose several Raw
// calls without double-locking.
func (b *Bus) Protect(protect bool) {
	if protect {
		b.mu.Lock()
	}
}

// Unprotect releases the bus's lock when protect is true, mirroring Protect.
func (b *Bus) Unprotect(protect bool) {
	if protect {
		b.mu.Unlock()
	}
}

// sendBit drives one 1-Wire bit slot and returns the bit observed on the
// loopback line: the bit/byte codec of spec.md §4.2, a single
// 115200-baud byte exchange per bit.
func (b *Bus) sendBit(v byte) (byte, error) {
	tx := [1]byte{0x00}
	if v != 0 {
		tx[0] = 0xFF
	}
	var rx [1]byte
	if err := b.driver.TxRx(tx[:], rx[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTxRx, err)
	}
	if rx[0] == 0xFF {
		return 1, nil
	}
	return 0, nil
}

// ReadBitRaw reads one 1-Wire bit slot (sends 0xFF, interprets the echo).
// Assumes the caller holds the bus.
func (b *Bus) ReadBitRaw() (byte, error) {
	return b.sendBit(1)
}

// ReadBit is the locking form of ReadBitRaw.
func (b *Bus) ReadBit() (byte, error) {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.ReadBitRaw()
}

// WriteBitRaw writes one 1-Wire bit slot and reports a transport error if
// the loopback echo didn't match what was sent (bus noise/contention).
// Assumes the caller holds the bus.
func (b *Bus) WriteBitRaw(v byte) error {
	echo, err := b.sendBit(v)
	if err != nil {
		return err
	}
	want := byte(0)
	if v != 0 {
		want = 1
	}
	if echo != want {
		return fmt.Errorf("%w: noise writing bit", ErrTxRx)
	}
	return nil
}

// WriteBit is the locking form of WriteBitRaw.
func (b *Bus) WriteBit(v byte) error {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.WriteBitRaw(v)
}

// ReadByteRaw reads one byte LSB-first as 8 bit-reads folded into a single
// TxRx call (spec.md §4.2's byte-level optimization). Assumes the caller
// holds the bus.
func (b *Bus) ReadByteRaw() (byte, error) {
	tx := [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	var rx [8]byte
	if err := b.driver.TxRx(tx[:], rx[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTxRx, err)
	}
	var data byte
	for i, echo := range rx {
		if echo == 0xFF {
			data |= 1 << uint(i)
		}
	}
	return data, nil
}

// ReadByte is the locking form of ReadByteRaw.
func (b *Bus) ReadByte() (byte, error) {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.ReadByteRaw()
}

// WriteByteRaw writes one byte LSB-first as 8 bit-writes folded into a
// single TxRx call. Assumes the caller holds the bus.
func (b *Bus) WriteByteRaw(v byte) error {
	var tx [8]byte
	for i := 0; i < 8; i++ {
		if v&(1<<uint(i)) != 0 {
			tx[i] = 0xFF
		}
	}
	var rx [8]byte
	if err := b.driver.TxRx(tx[:], rx[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrTxRx, err)
	}
	for i := range tx {
		if rx[i] != tx[i] {
			return fmt.Errorf("%w: noise writing byte", ErrTxRx)
		}
	}
	return nil
}

// WriteByte is the locking form of WriteByteRaw.
func (b *Bus) WriteByte(v byte) error {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.WriteByteRaw(v)
}

// ReadBytesRaw fills buf one byte at a time. Assumes the caller holds the
// bus.
func (b *Bus) ReadBytesRaw(buf []byte) error {
	for i := range buf {
		v, err := b.ReadByteRaw()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

// WriteBytesRaw writes data one byte at a time. Assumes the caller holds the
// bus.
func (b *Bus) WriteBytesRaw(data []byte) error {
	for _, v := range data {
		if err := b.WriteByteRaw(v); err != nil {
			return err
		}
	}
	return nil
}

// ResetRaw sends the reset pulse and checks for a presence pulse (spec.md
// §4.3): drop to 9600 baud, exchange one 0xF0 byte, restore 115200 baud.
// Assumes the caller holds the bus.
func (b *Bus) ResetRaw() error {
	if err := b.driver.SetBaudRate(baudReset); err != nil {
		return fmt.Errorf("%w: %v", ErrBaud, err)
	}
	tx := [1]byte{0xF0}
	var rx [1]byte
	txErr := b.driver.TxRx(tx[:], rx[:])
	baudErr := b.driver.SetBaudRate(baudBit)

	if txErr != nil {
		return fmt.Errorf("%w: %v", ErrTxRx, txErr)
	}
	if baudErr != nil {
		return fmt.Errorf("%w: %v", ErrBaud, baudErr)
	}
	switch rx[0] {
	case 0x00, 0xF0:
		return ErrPresence
	default:
		return nil
	}
}

// Reset is the locking form of ResetRaw.
func (b *Bus) Reset() error {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.ResetRaw()
}

// MatchROMRaw resets the bus, then sends MATCH ROM (0x55) plus the 8 ROM
// bytes, selecting exactly one device. Assumes the caller holds the bus.
func (b *Bus) MatchROMRaw(rom ROM) error {
	if err := b.ResetRaw(); err != nil {
		return err
	}
	if err := b.WriteByteRaw(cmdMatchROM); err != nil {
		return err
	}
	return b.WriteBytesRaw(rom[:])
}

// MatchROM is the locking form of MatchROMRaw.
func (b *Bus) MatchROM(rom ROM) error {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.MatchROMRaw(rom)
}

// SkipROMRaw resets the bus, then sends SKIP ROM (0xCC), addressing every
// device. Assumes the caller holds the bus.
func (b *Bus) SkipROMRaw() error {
	if err := b.ResetRaw(); err != nil {
		return err
	}
	return b.WriteByteRaw(cmdSkipROM)
}

// SkipROM is the locking form of SkipROMRaw.
func (b *Bus) SkipROM() error {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.SkipROMRaw()
}

// MatchOrSkipRaw is the canonical addressing prologue (spec.md §4.4): SKIP
// ROM when rom is nil, MATCH ROM otherwise. Assumes the caller holds the
// bus.
func (b *Bus) MatchOrSkipRaw(rom *ROM) error {
	if rom == nil {
		return b.SkipROMRaw()
	}
	return b.MatchROMRaw(*rom)
}

// MatchOrSkip is the locking form of MatchOrSkipRaw.
func (b *Bus) MatchOrSkip(rom *ROM) error {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.MatchOrSkipRaw(rom)
}

// ReadROMRaw sends READ ROM (0x33) and returns the responding device's ROM.
// Valid only when exactly one device is on the bus — with more than one,
// every device answers simultaneously and the bytes read back are garbage
// (spec.md §4.4 names MATCH/SKIP/SEARCH; this is the single-device shortcut
// both the teacher and the original C library also provide). Assumes the
// caller holds the bus.
func (b *Bus) ReadROMRaw() (ROM, error) {
	if err := b.ResetRaw(); err != nil {
		return ROM{}, err
	}
	if err := b.WriteByteRaw(cmdReadROM); err != nil {
		return ROM{}, err
	}
	var rom ROM
	if err := b.ReadBytesRaw(rom[:]); err != nil {
		return ROM{}, err
	}
	return rom, nil
}

// ReadROM is the locking form of ReadROMRaw.
func (b *Bus) ReadROM() (ROM, error) {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.ReadROMRaw()
}

// IsConnectedRaw walks the search-ROM protocol for a single known ROM and
// reports whether a device still answers it, without performing a full
// search. Assumes the caller holds the bus.
func (b *Bus) IsConnectedRaw(rom ROM) (bool, error) {
	if err := b.ResetRaw(); err != nil {
		return false, err
	}
	if err := b.WriteByteRaw(cmdSearchROM); err != nil {
		return false, err
	}
	bits := rom.bits()
	for _, bit := range bits {
		b1, err := b.ReadBitRaw()
		if err != nil {
			return false, err
		}
		b2, err := b.ReadBitRaw()
		if err != nil {
			return false, err
		}
		if b1 == 1 && b2 == 1 {
			return false, nil
		}
		if err := b.WriteBitRaw(bit); err != nil {
			return false, err
		}
	}
	return true, nil
}

// IsConnected is the locking form of IsConnectedRaw.
func (b *Bus) IsConnected(rom ROM) (bool, error) {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.IsConnectedRaw(rom)
}
