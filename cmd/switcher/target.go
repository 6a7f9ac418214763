package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/bigbag/image-switcher/internal/detect"
	"github.com/bigbag/image-switcher/internal/flash"
	"github.com/bigbag/image-switcher/internal/probe"
	"github.com/bigbag/image-switcher/internal/serial"
	"github.com/bigbag/image-switcher/internal/switcher"
)

// target is the memory the switcher operates on: a dump file or a device.
type target struct {
	mem   flash.Memory
	desc  string
	port  *serial.Port
	dump  string
	arena *flash.Arena
}

// openTarget opens the dump file named by args, or the device on --port
// (auto-detected when empty).
func openTarget(args []string) (*target, error) {
	if len(args) > 0 {
		return openDump(args[0], baseFlag)
	}
	return openDevice(portFlag, baudFlag)
}

func openDump(path string, base uint32) (*target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	arena := flash.FromBytes(base, data)
	return &target{
		mem:   arena,
		desc:  fmt.Sprintf("%s mapped at %s", path, arena.Region()),
		dump:  path,
		arena: arena,
	}, nil
}

func openDevice(portName string, baudRate int) (*target, error) {
	if portName == "" {
		fmt.Println("Detecting target...")
		result, err := detect.DetectDevice(baudRate)
		if err != nil {
			return nil, fmt.Errorf("target detection failed: %w", err)
		}
		portName = result.Port
	}

	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}
	if err := port.ResetToAgent(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset target: %w", err)
	}

	client := probe.New(port)
	if err := client.Sync(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to sync with target: %w", err)
	}

	return &target{
		mem:  client,
		desc: fmt.Sprintf("%s @ %d baud", port.PortName(), port.BaudRate()),
		port: port,
	}, nil
}

// commit writes a modified dump back when --write is set. Device changes are
// applied as they happen.
func (t *target) commit(w io.Writer) error {
	if t.arena == nil {
		return nil
	}
	if !writeFlag {
		fmt.Fprintln(w, "Dry run: dump not modified (use --write to save footer updates)")
		return nil
	}
	if err := os.WriteFile(t.dump, t.arena.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write dump: %w", err)
	}
	fmt.Fprintf(w, "Saved %s\n", t.dump)
	return nil
}

func (t *target) Close() error {
	if t.port != nil {
		return t.port.Close()
	}
	return nil
}

// images returns one image per --footer address.
func (t *target) images() ([]*switcher.Image, error) {
	addrs, err := parseAddresses(footerFlags)
	if err != nil {
		return nil, err
	}
	images := make([]*switcher.Image, len(addrs))
	for i, addr := range addrs {
		images[i] = switcher.NewImage(t.mem, addr, switcher.WithLogger(logger()))
	}
	return images, nil
}

func parseAddresses(values []string) ([]uint32, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("no footer addresses given")
	}
	addrs := make([]uint32, len(values))
	for i, v := range values {
		a, err := parseAddress(v)
		if err != nil {
			return nil, err
		}
		addrs[i] = a
	}
	return addrs, nil
}

// parseAddress accepts decimal, 0x hex, 0o octal and 0b binary.
func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// handedOff carries the simulated jump out of Image.Boot.
type handedOff struct {
	stackPointer, entry uint32
}

// simulateBoot charges an attempt and records the jump instead of taking it.
func simulateBoot(img *switcher.Image) (jump *handedOff, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, ok := r.(handedOff)
			if !ok {
				panic(r)
			}
			jump = &h
		}
	}()
	return nil, img.Boot(switcher.HandoffFunc(func(sp, entry uint32) {
		panic(handedOff{stackPointer: sp, entry: entry})
	}))
}

// bootWithFallback boots chosen. A confirmed image with a corrupt length is
// still selected but has nowhere to jump; it is skipped and the best of the
// remaining images is booted instead.
func bootWithFallback(w io.Writer, chosen *switcher.Image, images []*switcher.Image) (*switcher.Image, *handedOff, error) {
	for {
		jump, err := simulateBoot(chosen)
		if !errors.Is(err, switcher.ErrNoStartAddress) {
			return chosen, jump, err
		}
		fmt.Fprintf(w, "Skipping image at 0x%08X: %v\n", chosen.FooterAddress(), err)

		var remaining []*switcher.Image
		for _, img := range images {
			if img != chosen {
				remaining = append(remaining, img)
			}
		}
		images = remaining

		chosen = switcher.SelectFrom(images...)
		if chosen == nil {
			return nil, nil, errors.New("no bootable image left")
		}
		fmt.Fprintf(w, "Selected image v%d (footer at 0x%08X)\n", chosen.Version(), chosen.FooterAddress())
	}
}
