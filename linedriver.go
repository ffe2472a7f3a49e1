package onewire

// LineDriver is the hardware collaborator a Bus is built on: a byte-loopback
// transport whose timing, when configured per spec.md §6's wire-level
// timing table, produces correct 1-Wire bus edges without the host needing
// to hit microsecond deadlines itself.
//
// This is the Go rendering of spec.md §9's "polymorphism over the line
// driver" redesign flag: the C reference passed a table of four function
// pointers plus an opaque void* argument threaded through every call; here
// the opaque argument is simply the concrete type's own fields, and the
// table becomes this interface. Three implementations ship in this module:
// onewire/drivers/uart (full-duplex loopback UART), onewire/drivers/halfduplex
// (RS-485 half-duplex tty), and onewire/drivers/gpiobang (bit-banged GPIO).
type LineDriver interface {
	// Init acquires the underlying hardware and configures the serial frame
	// (8 data bits, no parity, 1 stop bit, LSB first) or GPIO pin needed to
	// drive the bus.
	Init() error

	// Deinit releases the hardware acquired by Init. Bus.Close calls this
	// exactly once.
	Deinit() error

	// SetBaudRate reconfigures the transport's bit rate. The protocol engine
	// only ever requests 9600 (reset slot) or 115200 (bit slot); an
	// implementation may reject any other value.
	SetBaudRate(baud int) error

	// TxRx transmits tx and, byte-for-byte as each is framed, records what
	// was simultaneously observed on the loopback receive line into rx.
	// len(tx) must equal len(rx). A GPIO bit-banger synthesizes the same
	// byte-for-byte loopback semantics by racing its own busy-wait timing
	// against the line instead of letting a UART peripheral do it.
	TxRx(tx, rx []byte) error
}
