// Command ow-scan enumerates every ROM on a 1-Wire bus and prints what kind
// of device each one identifies, adapted from the teacher's
// examples/search-roms.
package main

import (
	"flag"
	"log"

	onewire "github.com/onewire-uart/onewire-uart"
	"github.com/onewire-uart/onewire-uart/drivers/uart"
	"github.com/onewire-uart/onewire-uart/ds18x20"
)

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial device the 1-Wire adapter is attached to")
	alarmOnly := flag.Bool("alarm", false, "list only devices with an asserted alarm condition")
	flag.Parse()

	drv := uart.New(*port)
	bus, err := onewire.Open(drv)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = bus.Close()
	}()

	var roms []onewire.ROM
	if *alarmOnly {
		log.Println("Searching for alarmed devices")
		roms, err = bus.SearchAllAlarm()
	} else {
		log.Println("Searching ROMs")
		roms, err = bus.SearchAll()
	}
	if err != nil {
		log.Fatal(err)
	}

	for n, rom := range roms {
		desc := describe(rom)
		log.Printf("%d: %s  %s  valid=%t", n, rom, desc, rom.Valid())
	}
}

func describe(rom onewire.ROM) string {
	switch rom.FamilyCode() {
	case ds18x20.FamilyDS18S20:
		return "DS18S20 - High-Precision 1-Wire Digital Thermometer"
	case ds18x20.FamilyDS1822:
		return "DS1822 - Econo 1-Wire Digital Thermometer"
	case ds18x20.FamilyDS18B20:
		return "DS18B20 - Programmable Resolution 1-Wire Digital Thermometer"
	default:
		return "unrecognized device family"
	}
}
