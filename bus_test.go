package onewire

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBusDriver is a LineDriver simulating zero or more 1-Wire devices,
// used to exercise Bus end-to-end without real hardware. Devices are
// modeled only for reset/presence; every bit-rate exchange simply echoes
// what was transmitted, with no per-device bits and no wired-AND collision.
type fakeBusDriver struct {
	mu      sync.Mutex
	baud    int
	devices []ROM // ROMs physically present on this fake bus
}

func (f *fakeBusDriver) Init() error { f.baud = baudBit; return nil }
func (f *fakeBusDriver) Deinit() error { return nil }

func (f *fakeBusDriver) SetBaudRate(baud int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baud = baud
	return nil
}

func (f *fakeBusDriver) TxRx(tx, rx []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.baud {
	case baudReset:
		// One byte: 0xF0 reset pulse. Echo back presence (0x00-ish) if any
		// device exists, otherwise echo the same byte (no presence pulse).
		if len(f.devices) > 0 {
			rx[0] = 0x10
		} else {
			rx[0] = tx[0]
		}
		return nil
	case baudBit:
		for i := range tx {
			rx[i] = tx[i]
		}
		return nil
	default:
		rx[0] = tx[0]
		return nil
	}
}

// addDevice registers a ROM as present on the fake bus.
func (f *fakeBusDriver) addDevice(rom ROM) {
	f.devices = append(f.devices, rom)
}

func TestBus_Reset_EmptyBus(t *testing.T) {
	drv := &fakeBusDriver{}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	require.ErrorIs(t, bus.Reset(), ErrPresence)
}

func TestBus_Reset_OneDevice(t *testing.T) {
	drv := &fakeBusDriver{}
	drv.addDevice(ROM{0x28, 1, 2, 3, 4, 5, 6, 0})
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	require.NoError(t, bus.Reset())
}

func TestBus_ReadWriteByte_RoundTrip(t *testing.T) {
	drv := &fakeBusDriver{}
	drv.addDevice(ROM{0x28, 1, 2, 3, 4, 5, 6, 0})
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	require.NoError(t, bus.WriteByte(0xA5))
	v, err := bus.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0xFF), v) // fake driver always echoes tx, so a
	// full-high read byte comes back as 0xFF regardless of what was written
	// moments earlier — this test only checks the call sequence doesn't error.
}

func TestBus_Open_NilDriver(t *testing.T) {
	_, err := Open(nil)
	require.ErrorIs(t, err, ErrParam)
}

func TestBus_ProtectUnprotect_NoOpWhenFalse(t *testing.T) {
	drv := &fakeBusDriver{}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	// Protect(false)/Unprotect(false) must never touch the mutex, so calling
	// them while a protected call is already in flight must not deadlock.
	done := make(chan struct{})
	go func() {
		bus.Protect(true)
		defer bus.Unprotect(true)
		bus.Protect(false)
		bus.Unprotect(false)
		close(done)
	}()
	<-done
}

// singleDeviceSearchDriver simulates exactly one real device for the search
// algorithm, so SearchRaw can be checked against a known ROM without needing
// a full wired-AND multi-device model.
type singleDeviceSearchDriver struct {
	baud int
	rom  ROM
	bit  int // next bit of the reset+search conversation
}

func (d *singleDeviceSearchDriver) Init() error     { d.baud = baudBit; return nil }
func (d *singleDeviceSearchDriver) Deinit() error   { return nil }
func (d *singleDeviceSearchDriver) SetBaudRate(baud int) error {
	d.baud = baud
	if baud == baudReset {
		d.bit = 0
	}
	return nil
}

func (d *singleDeviceSearchDriver) TxRx(tx, rx []byte) error {
	if d.baud == baudReset {
		rx[0] = 0x10
		return nil
	}
	if len(tx) > 1 {
		// Byte-level write (the SEARCH ROM command): the device only listens.
		copy(rx, tx)
		return nil
	}
	bits := d.rom.bits()
	for i := range tx {
		switch d.bit % 3 {
		case 0: // read true bit
			if bits[d.bit/3] != 0 {
				rx[i] = 0xFF
			} else {
				rx[i] = 0x00
			}
		case 1: // read complement bit
			if bits[d.bit/3] != 0 {
				rx[i] = 0x00
			} else {
				rx[i] = 0xFF
			}
		case 2: // master's write, single device always agrees
			rx[i] = tx[i]
		}
		d.bit++
	}
	return nil
}

func TestBus_Search_SingleDevice(t *testing.T) {
	want := ROM{0x28, 0x25, 0xEA, 0x52, 0x05, 0x10, 0xF3, 0xCE}
	drv := &singleDeviceSearchDriver{rom: want}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	rom, ok, err := bus.Search()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, rom)

	// A single-device bus terminates the search on the first step.
	_, ok, err = bus.Search()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBus_SearchAll_SingleDevice(t *testing.T) {
	want := ROM{0x10, 0xAA, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	drv := &singleDeviceSearchDriver{rom: want}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	roms, err := bus.SearchAll()
	require.NoError(t, err)
	require.Equal(t, []ROM{want}, roms)
}

// multiDeviceSearchDriver simulates N real devices wired-AND together, so
// the discrepancy/tie-break branches in searchStepRaw (spec.md §8 scenario
// 3's collision handling) run against an actual bit-level collision instead
// of the single-device degenerate case. Devices still "in the race" for the
// current search step are tracked in inRace; a true/complement bit read
// reflects the AND of every in-race device's bit (the open-drain wired-AND
// behavior a real bus exhibits), and the following write filters inRace down
// to the devices that agree with the bit the master chose.
type multiDeviceSearchDriver struct {
	baud    int
	devices []ROM
	inRace  []int
	bitIdx  int
	phase   int // 0: read true bit, 1: read complement bit, 2: master writes
}

func (d *multiDeviceSearchDriver) Init() error   { d.baud = baudBit; return nil }
func (d *multiDeviceSearchDriver) Deinit() error { return nil }

func (d *multiDeviceSearchDriver) SetBaudRate(baud int) error {
	d.baud = baud
	if baud == baudReset {
		d.inRace = d.inRace[:0]
		for i := range d.devices {
			d.inRace = append(d.inRace, i)
		}
		d.bitIdx = 0
		d.phase = 0
	}
	return nil
}

func (d *multiDeviceSearchDriver) TxRx(tx, rx []byte) error {
	if d.baud == baudReset {
		rx[0] = 0x10
		return nil
	}
	if len(tx) > 1 {
		// Byte-level write (the SEARCH ROM command): devices only listen.
		copy(rx, tx)
		return nil
	}

	switch d.phase {
	case 0: // true bit: high only if every in-race device's bit is 1
		high := true
		for _, idx := range d.inRace {
			if d.devices[idx].bits()[d.bitIdx] == 0 {
				high = false
				break
			}
		}
		if high {
			rx[0] = 0xFF
		} else {
			rx[0] = 0x00
		}
	case 1: // complement bit: high only if every in-race device's bit is 0
		high := true
		for _, idx := range d.inRace {
			if d.devices[idx].bits()[d.bitIdx] != 0 {
				high = false
				break
			}
		}
		if high {
			rx[0] = 0xFF
		} else {
			rx[0] = 0x00
		}
	case 2: // master writes the chosen bit; drop devices that disagree
		chosen := byte(0)
		if tx[0] != 0 {
			chosen = 1
		}
		kept := d.inRace[:0]
		for _, idx := range d.inRace {
			if d.devices[idx].bits()[d.bitIdx] == chosen {
				kept = append(kept, idx)
			}
		}
		d.inRace = kept
		rx[0] = tx[0]
		d.bitIdx++
	}
	d.phase = (d.phase + 1) % 3
	return nil
}

// TestBus_Search_TwoDevices_Collision exercises the one case
// singleDeviceSearchDriver can never hit: a real (bit,cplBit)==(0,0)
// collision. romA and romB differ only in bit 0 (the family code's LSB), so
// the search collides exactly once, at position 1. Per spec.md §8 scenario
// 3 (and the teacher's own searchROM, which explores the 0-branch before
// the 1-branch at a fresh fork), the first step must resolve the collision
// toward 0 and return romA; the second step must revisit that exact
// position, this time choosing 1, and return romB; the third step must find
// the bus exhausted.
func TestBus_Search_TwoDevices_Collision(t *testing.T) {
	romA := ROM{0x28, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77} // bit 0 = 0
	romB := ROM{0x29, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77} // bit 0 = 1

	drv := &multiDeviceSearchDriver{devices: []ROM{romA, romB}}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	rom, ok, err := bus.Search()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, romA, rom)

	rom, ok, err = bus.Search()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, romB, rom)

	_, ok, err = bus.Search()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBus_SearchAll_TwoDevices_Collision(t *testing.T) {
	romA := ROM{0x28, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}
	romB := ROM{0x29, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}

	drv := &multiDeviceSearchDriver{devices: []ROM{romA, romB}}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	roms, err := bus.SearchAll()
	require.NoError(t, err)
	require.Equal(t, []ROM{romA, romB}, roms)
}

func TestBus_SearchReset_RestartsEnumeration(t *testing.T) {
	want := ROM{0x28, 1, 2, 3, 4, 5, 6, 7}
	drv := &singleDeviceSearchDriver{rom: want}
	bus, err := Open(drv)
	require.NoError(t, err)
	defer bus.Close()

	_, ok, err := bus.Search()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = bus.Search()
	require.NoError(t, err)
	require.False(t, ok)

	bus.SearchReset()
	drv.bit = 0
	rom, ok, err := bus.Search()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, rom)
}
