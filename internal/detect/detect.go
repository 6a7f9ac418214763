// Package detect finds serial ports with a target agent behind them.
package detect

import (
	"fmt"
	"time"

	"github.com/bigbag/image-switcher/internal/probe"
	"github.com/bigbag/image-switcher/internal/serial"
)

// Result represents a detected target.
type Result struct {
	Port     string
	BaudRate int
}

// Link is an open connection that can put the target into agent mode.
type Link interface {
	probe.Port
	ResetToAgent() error
	Close() error
}

// Scanner probes ports for an agent. The zero value uses the host's serial
// ports.
type Scanner struct {
	// Timeout bounds the sync on each port. Zero means probe.DefaultTimeout.
	Timeout   time.Duration
	ListPorts func() ([]string, error)
	Open      func(portName string, baudRate int) (Link, error)
}

func (s Scanner) listPorts() ([]string, error) {
	if s.ListPorts != nil {
		return s.ListPorts()
	}
	return serial.ListPorts()
}

func (s Scanner) open(portName string, baudRate int) (Link, error) {
	if s.Open != nil {
		return s.Open(portName, baudRate)
	}
	return serial.Open(portName, baudRate)
}

// DetectDevice tries to detect a target on available ports.
// Returns the first port whose target answers a sync, or an error.
func DetectDevice(baudRate int) (*Result, error) {
	return Scanner{}.DetectDevice(baudRate)
}

// DetectDevice tries each port in turn and returns the first target found.
func (s Scanner) DetectDevice(baudRate int) (*Result, error) {
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := s.tryPort(portName, baudRate)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("no target found (last error: %w)", lastErr)
}

// DetectOnPort tries to detect a target on a specific port.
func DetectOnPort(portName string, baudRate int) (*Result, error) {
	return Scanner{}.DetectOnPort(portName, baudRate)
}

// DetectOnPort resets the target on portName and syncs with its agent.
func (s Scanner) DetectOnPort(portName string, baudRate int) (*Result, error) {
	return s.tryPort(portName, baudRate)
}

// ListDevices scans all ports and returns all detected targets.
func ListDevices(baudRate int) ([]Result, error) {
	return Scanner{}.ListDevices(baudRate)
}

// ListDevices scans all ports and returns every target that answers.
func (s Scanner) ListDevices(baudRate int) ([]Result, error) {
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := s.tryPort(portName, baudRate)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

func (s Scanner) tryPort(portName string, baudRate int) (*Result, error) {
	link, err := s.open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	defer link.Close()

	if err := link.ResetToAgent(); err != nil {
		return nil, fmt.Errorf("failed to reset %s: %w", portName, err)
	}

	client := probe.New(link)
	client.SetTimeout(s.Timeout)
	if err := client.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync on %s: %w", portName, err)
	}

	return &Result{Port: portName, BaudRate: baudRate}, nil
}
