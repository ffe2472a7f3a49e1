// Package uart implements onewire.LineDriver on top of a real UART wired in
// full-duplex loopback: the bus line carries both the driven signal and the
// echo a 1-Wire device pulls low, so whatever this UART transmits is also
// what it receives back, byte for byte, at whichever baud rate the protocol
// engine currently wants.
//
// See "Using a UART to Implement a 1-Wire Bus Master" (Maxim AN214) for the
// electrical background this timing trick relies on.
package uart

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// Driver is a go.bug.st/serial-backed onewire.LineDriver.
type Driver struct {
	device string

	mu   sync.Mutex
	port serial.Port
	mode serial.Mode
}

// New returns a Driver for the named serial device (e.g. "/dev/ttyUSB0").
// The port is not opened until Init is called.
func New(device string) *Driver {
	return &Driver{
		device: device,
		mode: serial.Mode{
			BaudRate: 115200,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

// Init opens the serial port and asserts DTR, as a USB-serial adapter
// commonly needs power or level-shifter enable wired to that line.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := serial.Open(d.device, &d.mode)
	if err != nil {
		return err
	}
	if err := p.SetDTR(true); err != nil {
		_ = p.Close()
		return err
	}
	d.port = p
	return nil
}

// Deinit closes the serial port.
func (d *Driver) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// SetBaudRate reconfigures the open port's bit rate.
func (d *Driver) SetBaudRate(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode.BaudRate = baud
	return d.port.SetMode(&d.mode)
}

// TxRx clears stale buffered data, writes tx, and reads back len(tx) bytes
// into rx. Buffers are cleared first because the UART's own echo from the
// previous slot could otherwise be mistaken for this one's.
func (d *Driver) TxRx(tx, rx []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.port.ResetOutputBuffer(); err != nil {
		return err
	}
	if err := d.port.ResetInputBuffer(); err != nil {
		return err
	}

	if n, err := d.port.Write(tx); err != nil {
		return err
	} else if n != len(tx) {
		return fmt.Errorf("uart: short write: wrote %d of %d bytes", n, len(tx))
	}

	read := 0
	for read < len(rx) {
		n, err := d.port.Read(rx[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("uart: read returned 0 bytes with %d remaining", len(rx)-read)
		}
		read += n
	}
	return nil
}
