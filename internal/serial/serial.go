// Package serial wraps the host serial port used to reach a target's memory
// agent.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const defaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port with the target's reset and strap lines.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// ReadWithTimeout reads data with a specific timeout.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(defaultReadTimeout)

	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// SetDTR sets the DTR signal (boot strap).
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal (reset).
func (p *Port) SetRTS(value bool) error {
	return p.port.SetRTS(value)
}

// ResetToAgent resets the target with the boot strap held, so the first
// stage serves memory requests instead of selecting an image.
func (p *Port) ResetToAgent() error {
	// Signal polarities are inverted by the transistor drivers:
	// RTS high pulls reset low, DTR high pulls the strap low.
	steps := []struct {
		rts, dtr bool
		wait     time.Duration
	}{
		{rts: true, dtr: false, wait: 100 * time.Millisecond}, // hold in reset
		{rts: false, dtr: true, wait: 50 * time.Millisecond},  // release reset, strap low
		{rts: true, dtr: false, wait: 50 * time.Millisecond},  // strap sampled, release
		{rts: false, dtr: false},
	}

	for _, s := range steps {
		if err := p.SetRTS(s.rts); err != nil {
			return err
		}
		if err := p.SetDTR(s.dtr); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}

	// Flush any garbage from reset
	p.Flush()
	time.Sleep(100 * time.Millisecond)

	return nil
}

// HardReset resets the target without the strap, so it runs the selector
// and boots the chosen image.
func (p *Port) HardReset() error {
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.SetRTS(false)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
