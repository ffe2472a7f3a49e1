// Package gpiobang implements onewire.LineDriver by bit-banging a single
// GPIO pin directly, for hosts with no spare UART: each byte of a TxRx call
// is driven as one bus time slot (a reset pulse or a bit slot) using
// busy-wait timing instead of letting UART hardware produce the edges.
//
// The byte values exchanged follow the same convention the UART drivers
// produce electrically. At 115200 baud, 0x00 means "drive the bus low for
// this whole slot" (a write-0), 0xFF means "release and sample" (a write-1
// or a read), and the returned byte is 0xFF if the bus was observed high at
// the sample point or 0x00 if a device was pulling it low. At 9600 baud the
// single byte is a reset slot whatever its value, answered with 0x10
// (presence seen) or 0xF0 (none). Bus never knows which LineDriver produced
// these bytes.
package gpiobang

import (
	"fmt"
	"runtime"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
)

// Timing constants in microseconds, per the Maxim 1-Wire timing tables
// (app note 126) that spec.md §6's UART-derived slot widths approximate.
const (
	resetLowUs       = 480
	resetReleaseUs   = 70
	resetSampleUs    = 410
	slotUs           = 60
	writeOneLowUs    = 2
	readReleaseLowUs = 2
	sampleOffsetUs   = 12
	recoveryUs       = 2
)

var hostInitOnce = struct {
	done bool
	err  error
}{}

func ensureHostInit() error {
	if hostInitOnce.done {
		return hostInitOnce.err
	}
	_, err := host.Init()
	hostInitOnce.done = true
	hostInitOnce.err = err
	return err
}

// Driver is a periph.io-backed onewire.LineDriver bit-banging pinName.
type Driver struct {
	pinName string
	pin     gpio.PinIO
	baud    int
}

// New returns a Driver for the named GPIO pin (e.g. "GPIO4"). The pin is not
// acquired until Init is called.
func New(pinName string) *Driver {
	return &Driver{pinName: pinName}
}

// Init loads the host's GPIO drivers and acquires the pin, left floating
// high (open-drain idle) via a pull-up input until the first TxRx call
// drives it.
func (d *Driver) Init() error {
	if err := ensureHostInit(); err != nil {
		return fmt.Errorf("gpiobang: host init: %w", err)
	}
	pin := gpio.ByName(d.pinName)
	if pin == nil {
		return fmt.Errorf("gpiobang: unknown pin %q", d.pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("gpiobang: configuring %s as input: %w", d.pinName, err)
	}
	d.pin = pin
	return nil
}

// Deinit releases the pin back to a floating input.
func (d *Driver) Deinit() error {
	if d.pin == nil {
		return nil
	}
	err := d.pin.In(gpio.Float, gpio.NoEdge)
	d.pin = nil
	return err
}

// SetBaudRate selects which fixed 1-Wire timing profile to bit-bang: 9600
// means the next TxRx is a reset pulse, 115200 means bit slots.
func (d *Driver) SetBaudRate(baud int) error {
	if baud != 9600 && baud != 115200 {
		return fmt.Errorf("gpiobang: unsupported baud rate %d", baud)
	}
	d.baud = baud
	return nil
}

// TxRx drives one reset pulse (baud 9600, a single byte) or a run of bit
// slots (baud 115200, one byte per slot), busy-waiting the timing in both
// cases. The calling goroutine's OS thread is locked for the duration so
// the Go scheduler doesn't preempt it mid-slot.
func (d *Driver) TxRx(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("gpiobang: len(tx)=%d != len(rx)=%d", len(tx), len(rx))
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if d.baud == 9600 {
		if len(tx) != 1 {
			return fmt.Errorf("gpiobang: reset pulse must be exactly one byte, got %d", len(tx))
		}
		v, err := d.resetSlot()
		if err != nil {
			return err
		}
		rx[0] = v
		return nil
	}
	for i := range tx {
		v, err := d.bitSlot(tx[i])
		if err != nil {
			return err
		}
		rx[i] = v
	}
	return nil
}

func (d *Driver) driveLow() error {
	return d.pin.Out(gpio.Low)
}

func (d *Driver) release() error {
	return d.pin.In(gpio.PullUp, gpio.NoEdge)
}

func busyWait(us int) {
	deadline := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(deadline) {
	}
}

// resetSlot drives the bus low for the reset pulse width, releases, and
// samples during the presence window. It returns 0xF0 (no presence, the
// byte Bus.ResetRaw treats as ErrPresence) or 0x10 (presence observed).
func (d *Driver) resetSlot() (byte, error) {
	if err := d.driveLow(); err != nil {
		return 0, fmt.Errorf("gpiobang: driving reset pulse: %w", err)
	}
	busyWait(resetLowUs)
	if err := d.release(); err != nil {
		return 0, fmt.Errorf("gpiobang: releasing reset pulse: %w", err)
	}

	busyWait(resetReleaseUs)
	sawLow := false
	deadline := time.Now().Add(resetSampleUs * time.Microsecond)
	for time.Now().Before(deadline) {
		if d.pin.Read() == gpio.Low {
			sawLow = true
		}
	}
	if sawLow {
		return 0x10, nil
	}
	return 0xF0, nil
}

// bitSlot drives one bit slot. v == 0x00 holds the bus low for the full
// slot (write-0); v == 0xFF releases quickly and samples (write-1 or read).
func (d *Driver) bitSlot(v byte) (byte, error) {
	if err := d.driveLow(); err != nil {
		return 0, fmt.Errorf("gpiobang: driving bit slot: %w", err)
	}
	if v == 0x00 {
		busyWait(slotUs)
		if err := d.release(); err != nil {
			return 0, fmt.Errorf("gpiobang: releasing bit slot: %w", err)
		}
		busyWait(recoveryUs)
		return 0x00, nil
	}

	busyWait(writeOneLowUs)
	if err := d.release(); err != nil {
		return 0, fmt.Errorf("gpiobang: releasing bit slot: %w", err)
	}
	busyWait(sampleOffsetUs - writeOneLowUs)
	result := byte(0xFF)
	if d.pin.Read() == gpio.Low {
		result = 0x00
	}
	busyWait(slotUs - sampleOffsetUs)
	busyWait(recoveryUs)
	return result, nil
}
