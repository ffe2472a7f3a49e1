package onewire

import "errors"

// Sentinel errors identifying the result-kind taxonomy of spec.md §3/§6/§7.
// Callers compare with errors.Is, not by message text or integer value —
// the Go rendering of "compare by identity" for a tagged result enum.
var (
	// ErrPresence means a reset pulse saw no presence pulse: the bus is
	// either empty or shorted. The bus is left in a known state (idle,
	// post-reset) and can be retried immediately.
	ErrPresence = errors.New("onewire: no presence pulse")

	// ErrTxRx means the underlying LineDriver's TxRx call failed. The bus
	// may be left mid-frame; the next Reset recovers it.
	ErrTxRx = errors.New("onewire: transport tx/rx failure")

	// ErrBaud means a LineDriver.SetBaudRate call failed.
	ErrBaud = errors.New("onewire: baud rate change failed")

	// ErrParam means a precondition was violated (nil bus, bad resolution,
	// wrong family code for a capability, ...). Always returned without
	// touching the bus.
	ErrParam = errors.New("onewire: invalid parameter")

	// ErrGeneric covers driver init failure and other conditions that don't
	// fit the categories above.
	ErrGeneric = errors.New("onewire: error")
)
