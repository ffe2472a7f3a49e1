package onewire

import "errors"

// searchStepRaw runs one iteration of the 1-Wire binary-tree search (spec.md
// §3), using cmd to select a normal enumeration (SEARCH ROM) or an
// alarm-only one (ALARM SEARCH). It walks the bus's 64-bit path one bit at a
// time, reading the true/complement pair to learn whether zero, one, or
// both values are present among the devices still in the race, and tracks
// the deepest unresolved fork in b.discrepancy so the next call takes the
// other branch there.
//
// ok is false with a nil error once the bus (or alarm set) is exhausted.
// Assumes the caller holds the bus.
func (b *Bus) searchStepRaw(cmd byte) (rom ROM, ok bool, err error) {
	if b.discrepancy == lastSearchState {
		b.SearchResetRaw()
		return ROM{}, false, nil
	}

	if err := b.ResetRaw(); err != nil {
		if errors.Is(err, ErrPresence) {
			b.SearchResetRaw()
			return ROM{}, false, nil
		}
		return ROM{}, false, err
	}
	if err := b.WriteByteRaw(cmd); err != nil {
		return ROM{}, false, err
	}

	prev := b.rom.bits()
	var path [64]byte
	var lastZero byte

	for pos := byte(1); pos <= 64; pos++ {
		bit, err := b.ReadBitRaw()
		if err != nil {
			return ROM{}, false, err
		}
		cplBit, err := b.ReadBitRaw()
		if err != nil {
			return ROM{}, false, err
		}

		var chosen byte
		switch {
		case bit == 1 && cplBit == 1:
			// No device answered either value: the bus went silent mid-search.
			b.SearchResetRaw()
			return ROM{}, false, nil
		case bit == 0 && cplBit == 0:
			// Discrepancy: devices remain on both branches at this position.
			switch {
			case pos == b.discrepancy:
				chosen = 1
			case pos > b.discrepancy:
				chosen = 0
			default:
				chosen = prev[pos-1]
			}
			if chosen == 0 {
				lastZero = pos
			}
		default:
			// Every responding device agrees on this bit.
			chosen = bit
		}

		if err := b.WriteBitRaw(chosen); err != nil {
			return ROM{}, false, err
		}
		path[pos-1] = chosen
	}

	if lastZero == 0 {
		b.discrepancy = lastSearchState
	} else {
		b.discrepancy = lastZero
	}
	b.rom = romFromBits(path[:])
	return b.rom, true, nil
}

// SearchResetRaw restarts the search scratch state, so the next SearchRaw or
// SearchAlarmRaw call begins enumeration from the first device again.
// Assumes the caller holds the bus.
func (b *Bus) SearchResetRaw() {
	b.discrepancy = firstSearchState
	b.rom = ROM{}
}

// SearchReset is the locking form of SearchResetRaw.
func (b *Bus) SearchReset() {
	b.Protect(true)
	defer b.Unprotect(true)
	b.SearchResetRaw()
}

// SearchRaw advances the SEARCH ROM (0xF0) enumeration by one device.
// Assumes the caller holds the bus.
func (b *Bus) SearchRaw() (rom ROM, ok bool, err error) {
	return b.searchStepRaw(cmdSearchROM)
}

// Search is the locking form of SearchRaw.
func (b *Bus) Search() (rom ROM, ok bool, err error) {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.SearchRaw()
}

// SearchAlarmRaw advances the ALARM SEARCH (0xEC) enumeration by one device,
// visiting only devices whose alarm condition is currently set. Assumes the
// caller holds the bus.
func (b *Bus) SearchAlarmRaw() (rom ROM, ok bool, err error) {
	return b.searchStepRaw(cmdAlarmSearch)
}

// SearchAlarm is the locking form of SearchAlarmRaw.
func (b *Bus) SearchAlarm() (rom ROM, ok bool, err error) {
	b.Protect(true)
	defer b.Unprotect(true)
	return b.SearchAlarmRaw()
}

// SearchAll resets the search scratch state and collects every ROM on the
// bus via repeated SEARCH ROM steps.
func (b *Bus) SearchAll() ([]ROM, error) {
	return b.searchCollect(b.SearchRaw)
}

// SearchAllAlarm resets the search scratch state and collects every ROM
// currently signaling an alarm condition via repeated ALARM SEARCH steps.
func (b *Bus) SearchAllAlarm() ([]ROM, error) {
	return b.searchCollect(b.SearchAlarmRaw)
}

func (b *Bus) searchCollect(step func() (ROM, bool, error)) ([]ROM, error) {
	b.Protect(true)
	defer b.Unprotect(true)
	b.SearchResetRaw()

	var roms []ROM
	for {
		rom, ok, err := step()
		if err != nil {
			return roms, err
		}
		if !ok {
			return roms, nil
		}
		roms = append(roms, rom)
	}
}

// SearchEach resets the search scratch state and invokes fn once per ROM
// found via repeated SEARCH ROM steps. fn returns cont=false to stop early;
// returning a non-nil error from fn aborts the search and is propagated.
func (b *Bus) SearchEach(fn func(ROM) (cont bool, err error)) error {
	b.Protect(true)
	defer b.Unprotect(true)
	b.SearchResetRaw()

	for {
		rom, ok, err := b.SearchRaw()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cont, err := fn(rom)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}
