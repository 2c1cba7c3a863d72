package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the sensor MCU firmware.
const DefaultBaudRate = 115200

// OpenSerial opens the sensor MCU's serial port.
func OpenSerial(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("sensor: open serial port %s: %w", name, err)
	}
	return port, nil
}

// Bridge reads "pressure_bar,temperature_c" lines from the sensor MCU and
// publishes them into two slots. Taring and filtering happen on the MCU.
type Bridge struct {
	r           io.Reader
	pressure    *Slot
	temperature *Slot

	lines atomic.Int64
	bad   atomic.Int64
}

// NewBridge creates a bridge reading from r.
func NewBridge(r io.Reader, pressure, temperature *Slot) *Bridge {
	return &Bridge{r: r, pressure: pressure, temperature: temperature}
}

// Run reads lines until r is exhausted or ctx is cancelled. If r is an
// io.Closer it is closed on cancellation to unblock the pending read.
func (b *Bridge) Run(ctx context.Context) error {
	if c, ok := b.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	scanner := bufio.NewScanner(b.r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b.lines.Add(1)

		pressure, temperature, err := ParseLine(line)
		if err != nil {
			b.bad.Add(1)
			log.Printf("sensor: bad line %q: %v", line, err)
			continue
		}

		if pressure.Valid {
			b.pressure.Publish(pressure.Value)
		} else {
			b.pressure.PublishFault(errors.New("pressure fault reported by MCU"))
		}
		if temperature.Valid {
			b.temperature.Publish(temperature.Value)
		} else {
			b.temperature.PublishFault(errors.New("RTD fault reported by MCU"))
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sensor: read serial: %w", err)
	}
	return io.ErrUnexpectedEOF
}

// Lines returns how many non-empty lines have been read.
func (b *Bridge) Lines() int64 {
	return b.lines.Load()
}

// BadLines returns how many lines could not be parsed.
func (b *Bridge) BadLines() int64 {
	return b.bad.Load()
}

// ParseLine parses one MCU line.
// Format: pressure_bar,temperature_c
// Example: 8.93,92.4
// A field of "nan", "fault" or "" is reported as an absent reading.
func ParseLine(line string) (pressure, temperature Reading, err error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Reading{}, Reading{}, fmt.Errorf("expected 2 comma-separated values, got %d", len(parts))
	}

	pressure, err = parseField(parts[0])
	if err != nil {
		return Reading{}, Reading{}, fmt.Errorf("invalid pressure: %w", err)
	}
	temperature, err = parseField(parts[1])
	if err != nil {
		return Reading{}, Reading{}, fmt.Errorf("invalid temperature: %w", err)
	}
	return pressure, temperature, nil
}

func parseField(s string) (Reading, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "fault":
		return Absent(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Reading{}, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return Absent(), nil
	}
	return Valid(v), nil
}
