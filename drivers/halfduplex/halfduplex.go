//go:build linux

// Package halfduplex implements onewire.LineDriver on top of a Linux tty
// put into RS-485 half-duplex mode via TIOCSRS485, with the driver's own
// transmission looped back into its receiver (RS485RXDuringTx) standing in
// for the full-duplex UART's natural electrical loopback. This is the "real
// UART in ... half-duplex mode" transport named alongside the full-duplex
// one: some RS-485 transceivers only drive the bus while asserting their
// enable line, so a plain full-duplex loopback UART can't be wired to them
// without this turnaround handling.
//
// Linux-only: TIOCSRS485 and the raw termios2 ioctls this package uses are
// not portable.
package halfduplex

import (
	"fmt"
	"sync"

	serial "github.com/daedaluz/goserial"
)

// Driver is a github.com/daedaluz/goserial-backed onewire.LineDriver for an
// RS-485 transceiver wired to a tty's RTS-gated half-duplex enable line.
type Driver struct {
	device string

	mu   sync.Mutex
	port *serial.Port
}

// New returns a Driver for the named tty device (e.g. "/dev/ttyS0"). The
// device is not opened until Init is called.
func New(device string) *Driver {
	return &Driver{device: device}
}

// Init opens the tty, puts it into raw mode, and enables RS-485 with
// receive-during-transmit so the driver observes its own output the same
// way a full-duplex loopback UART would.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	port, err := serial.Open(d.device, nil)
	if err != nil {
		return err
	}
	if err := port.MakeRaw(); err != nil {
		_ = port.Close()
		return err
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		_ = port.Close()
		return err
	}
	attrs.SetSpeed(serial.B115200)
	attrs.Cflag |= serial.CLOCAL | serial.CREAD
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		_ = port.Close()
		return err
	}

	if err := port.SetRS485(&serial.RS485{
		Flags: serial.RS485Enabled | serial.RS485RXDuringTx,
	}); err != nil {
		_ = port.Close()
		return fmt.Errorf("halfduplex: enabling RS-485 mode: %w", err)
	}

	d.port = port
	return nil
}

// Deinit closes the tty.
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

var cflagForBaud = map[int]serial.CFlag{
	9600:   serial.B9600,
	115200: serial.B115200,
}

// SetBaudRate reconfigures the open tty's bit rate.
func (d *Driver) SetBaudRate(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cflag, ok := cflagForBaud[baud]
	if !ok {
		return fmt.Errorf("halfduplex: unsupported baud rate %d", baud)
	}
	attrs, err := d.port.GetAttr2()
	if err != nil {
		return err
	}
	attrs.SetSpeed(cflag)
	return d.port.SetAttr2(serial.TCSANOW, attrs)
}

// TxRx flushes both queues, writes tx, and reads back len(tx) bytes — the
// driver's own transmission, looped back by RS485RXDuringTx.
func (d *Driver) TxRx(tx, rx []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.port.Flush(serial.TCIOFLUSH); err != nil {
		return err
	}
	if n, err := d.port.Write(tx); err != nil {
		return err
	} else if n != len(tx) {
		return fmt.Errorf("halfduplex: short write: wrote %d of %d bytes", n, len(tx))
	}

	read := 0
	for read < len(rx) {
		n, err := d.port.Read(rx[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("halfduplex: read returned 0 bytes with %d remaining", len(rx)-read)
		}
		read += n
	}
	return nil
}
