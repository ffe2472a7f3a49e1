// Command ow-monitor is a terminal UI that polls every DS18x20 sensor
// discovered on a 1-Wire bus at a fixed interval and renders a live table,
// adapting and superseding the teacher's examples/many-sensors and
// examples/read-sensors-effective polling loops into a
// github.com/charmbracelet/bubbletea full-screen view.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	onewire "github.com/onewire-uart/onewire-uart"
	"github.com/onewire-uart/onewire-uart/drivers/uart"
	"github.com/onewire-uart/onewire-uart/ds18x20"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	romStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))
)

// reading is one sensor's most recent poll result.
type reading struct {
	temp float64
	err  error
}

type tickMsg time.Time

type readingsMsg map[string]reading

// model is the bubbletea Model for the live sensor table.
type model struct {
	bus      *onewire.Bus
	sensors  []*ds18x20.Sensor
	interval time.Duration
	readings map[string]reading
	polls    int
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollCmd(m.bus, m.sensors), tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) }))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, pollCmd(m.bus, m.sensors)
	case readingsMsg:
		m.readings = msg
		m.polls++
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	}
	return m, nil
}

func (m model) View() string {
	header := headerStyle.Render(fmt.Sprintf(" ow-monitor | %d sensor(s) | poll #%d ", len(m.sensors), m.polls))
	footer := footerStyle.Render(" q: quit ")

	roms := make([]string, 0, len(m.readings))
	for key := range m.readings {
		roms = append(roms, key)
	}
	sort.Strings(roms)

	rows := ""
	for _, key := range roms {
		r := m.readings[key]
		if r.err != nil {
			rows += fmt.Sprintf("%s  %s\n", romStyle.Render(key), errorStyle.Render(r.err.Error()))
			continue
		}
		rows += fmt.Sprintf("%s  %s\n", romStyle.Render(key), okStyle.Render(fmt.Sprintf("%6.4f C", r.temp)))
	}
	if rows == "" {
		rows = "no sensors found\n"
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", rows, footer)
}

// pollCmd broadcasts CONVERT T to every sensor at once via ds18x20.ConvertAll
// (avoiding one conversion delay per sensor) and then reads each back, in a
// bubbletea Cmd so Update never blocks the UI loop.
func pollCmd(bus *onewire.Bus, sensors []*ds18x20.Sensor) tea.Cmd {
	return func() tea.Msg {
		out := make(readingsMsg, len(sensors))
		if err := ds18x20.ConvertAll(bus, sensors); err != nil {
			for _, s := range sensors {
				out[s.ROM().String()] = reading{err: err}
			}
			return out
		}
		for _, s := range sensors {
			temp, err := s.ReadTemperature()
			out[s.ROM().String()] = reading{temp: temp, err: err}
		}
		return out
	}
}

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial device the 1-Wire adapter is attached to")
	interval := flag.Duration("interval", 5*time.Second, "polling interval")
	logPath := flag.String("log", "ow-monitor.log", "file to write diagnostic log lines to (stdout is reserved for the TUI)")
	flag.Parse()

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	drv := uart.New(*port)
	bus, err := onewire.Open(drv)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = bus.Close()
	}()

	log.Println("searching for sensors")
	roms, err := bus.SearchAll()
	if err != nil {
		log.Fatal(err)
	}

	var sensors []*ds18x20.Sensor
	for _, rom := range roms {
		switch rom.FamilyCode() {
		case ds18x20.FamilyDS18S20, ds18x20.FamilyDS1822, ds18x20.FamilyDS18B20:
			s, err := ds18x20.New(bus, rom)
			if err != nil {
				log.Printf("skipping %s: %v", rom, err)
				continue
			}
			log.Printf("found %s: %s", rom, s.Description())
			sensors = append(sensors, s)
		default:
			log.Printf("ignoring non-thermometer device %s", rom)
		}
	}

	m := model{bus: bus, sensors: sensors, interval: *interval, readings: map[string]reading{}}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
