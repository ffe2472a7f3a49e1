// Command ow-adapters lists USB-serial bridge chips plugged into the host,
// to help an operator pick the right -port flag for ow-scan/ow-monitor,
// grounded on the teacher pack's only other USB-opening code
// (guiperry-HASHER's internal/driver/device/usb_device.go, which also opens
// a device by VID:PID via github.com/google/gousb).
package main

import (
	"fmt"
	"log"
	"sort"

	"github.com/google/gousb"
)

// knownBridge names the common USB-serial bridge chips found on 1-Wire
// adapter cables, by VID:PID.
type knownBridge struct {
	vendor, product gousb.ID
	name            string
}

var knownBridges = []knownBridge{
	{0x0403, 0x6001, "FTDI FT232R"},
	{0x0403, 0x6015, "FTDI FT231X"},
	{0x10C4, 0xEA60, "Silicon Labs CP2102/CP2109"},
	{0x1A86, 0x7523, "QinHeng CH340"},
	{0x1A86, 0x55D4, "QinHeng CH9102"},
	{0x067B, 0x2303, "Prolific PL2303"},
}

func lookup(vendor, product gousb.ID) string {
	for _, b := range knownBridges {
		if b.vendor == vendor && b.product == product {
			return b.name
		}
	}
	return ""
}

func main() {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		for _, d := range devices {
			_ = d.Close()
		}
	}()

	type found struct {
		bus, address int
		vendor       gousb.ID
		product      gousb.ID
		name         string
	}
	var bridges []found
	for _, d := range devices {
		name := lookup(d.Desc.Vendor, d.Desc.Product)
		if name == "" {
			continue
		}
		bridges = append(bridges, found{
			bus:     d.Desc.Bus,
			address: d.Desc.Address,
			vendor:  d.Desc.Vendor,
			product: d.Desc.Product,
			name:    name,
		})
	}
	sort.Slice(bridges, func(i, j int) bool {
		if bridges[i].bus != bridges[j].bus {
			return bridges[i].bus < bridges[j].bus
		}
		return bridges[i].address < bridges[j].address
	})

	if len(bridges) == 0 {
		fmt.Println("no known USB-serial bridge chips found")
		return
	}
	for _, b := range bridges {
		fmt.Printf("bus %03d addr %03d  %04x:%04x  %s\n", b.bus, b.address, b.vendor, b.product, b.name)
	}
	fmt.Println("\nmatch a bus/addr above to a /dev/ttyUSB* or /dev/ttyACM* device with `udevadm info` or `ls -l /sys/bus/usb-serial/devices`.")
}
