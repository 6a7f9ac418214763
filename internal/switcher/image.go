// Package switcher decides which firmware image, if any, is safe to boot and
// hands control to it.
//
// Each image is described by the footer stored right after it (see package
// footer). Verification walks the footer in a fixed precedence: a confirmed
// image always boots, a failed or invalid one never does, an unchecked one is
// checksummed once and the verdict recorded, and a valid but unconfirmed one
// boots only while it has attempts left. Every footer update is a one-way
// bit clear, so losing power mid-update never makes an image look better.
package switcher

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigbag/image-switcher/internal/crc24"
	"github.com/bigbag/image-switcher/internal/flash"
	"github.com/bigbag/image-switcher/internal/footer"
)

// ErrNoStartAddress is returned when the footer length places the image
// start below address zero.
var ErrNoStartAddress = errors.New("switcher: image start address underflows")

// Image binds a footer address to the memory holding it. It does not own the
// memory and does not cache the footer between calls.
//
// Image is not safe for concurrent use.
type Image struct {
	mem  flash.Memory
	addr uint32
	cfg  config
	log  *slog.Logger
}

// NewImage returns the image whose footer starts at footerAddr in mem.
func NewImage(mem flash.Memory, footerAddr uint32, opts ...Option) *Image {
	if mem == nil {
		panic("switcher: memory cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Image{
		mem:  mem,
		addr: footerAddr,
		cfg:  cfg,
		log:  cfg.logger.With("footer", fmt.Sprintf("0x%08X", footerAddr)),
	}
}

// FooterAddress returns the address of the image footer.
func (img *Image) FooterAddress() uint32 {
	return img.addr
}

// Footer reads the current footer from memory.
func (img *Image) Footer() (footer.Footer, error) {
	var buf [footer.Size]byte
	if _, err := img.mem.ReadAt(buf[:], img.addr); err != nil {
		return 0, fmt.Errorf("read footer at 0x%08X: %w", img.addr, err)
	}
	return footer.Decode(buf[:])
}

// Version returns the image version, or 0 if the footer cannot be read.
func (img *Image) Version() uint8 {
	f, err := img.Footer()
	if err != nil {
		img.log.Warn("footer unreadable", "err", err)
		return 0
	}
	return f.Version()
}

// StartAddress returns the address of the first image byte.
func (img *Image) StartAddress() (uint32, error) {
	f, err := img.Footer()
	if err != nil {
		return 0, err
	}
	start, ok := f.StartAddress(img.addr)
	if !ok {
		return 0, ErrNoStartAddress
	}
	return start, nil
}

// VerifyBootable reports whether the image may be booted. The first time an
// unchecked image is considered its checksum is run and the verdict is
// recorded in the footer, so later calls never hash the image again.
func (img *Image) VerifyBootable() bool {
	f, err := img.Footer()
	if err != nil {
		img.log.Warn("not bootable", "err", err)
		return false
	}

	if f.Success() {
		img.log.Debug("bootable", "reason", "confirmed", "version", f.Version())
		return true
	}
	if f.Failure() || f.Invalid() {
		img.log.Debug("not bootable", "state", f.State())
		return false
	}

	if !f.Valid() {
		start, ok := f.StartAddress(img.addr)
		if !ok {
			img.log.Warn("not bootable", "reason", "length underflows footer address", "length", f.Length())
			return false
		}

		valid, err := img.checksumValid(start, f.Length())
		if err != nil {
			// A read fault is not a checksum verdict; leave the footer alone.
			img.log.Warn("not bootable", "reason", "image unreadable", "err", err)
			return false
		}

		if !valid {
			f.SetInvalid()
			img.persist(f, "invalid")
			return false
		}
		f.SetValid()
		img.persist(f, "valid")
	}

	if f.Attempts() == 0 {
		img.log.Debug("not bootable", "reason", "attempts exhausted", "version", f.Version())
		return false
	}
	img.log.Debug("bootable", "version", f.Version(), "attempts", f.Attempts())
	return true
}

// checksumValid streams the image and the checksum stored right after it
// through the CRC.
func (img *Image) checksumValid(start, length uint32) (bool, error) {
	buf := make([]byte, img.cfg.chunkSize)
	d := crc24.New()

	remaining := uint64(length) + crc24.Size
	addr := start
	for remaining > 0 {
		chunk := buf
		if uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if _, err := img.mem.ReadAt(chunk, addr); err != nil {
			return false, fmt.Errorf("read image at 0x%08X: %w", addr, err)
		}
		d.Write(chunk)
		addr += uint32(len(chunk))
		remaining -= uint64(len(chunk))
	}

	return d.Remainder() == 0, nil
}

// persist writes the footer status byte. Failures are logged: the verdict
// still holds for this boot even if it could not be recorded.
func (img *Image) persist(f footer.Footer, what string) {
	if err := img.store(f); err != nil {
		img.log.Warn("failed to record "+what, "err", err)
		return
	}
	img.log.Info("recorded "+what, "version", f.Version())
}

func (img *Image) store(f footer.Footer) error {
	err := img.mem.Program(img.addr+footer.StatusOffset, []byte{f.StatusByte()})
	if err != nil {
		return fmt.Errorf("program footer status at 0x%08X: %w", img.addr+footer.StatusOffset, err)
	}
	return nil
}

// MarkSuccess records that the image booted and confirmed itself. It is
// called by the running image, never by the selector.
func (img *Image) MarkSuccess() error {
	return img.update(func(f *footer.Footer) { f.SetSuccess() })
}

// MarkFailure records that the image failed to boot. It is called by fault
// handling outside the selector.
func (img *Image) MarkFailure() error {
	return img.update(func(f *footer.Footer) { f.SetFailure() })
}

func (img *Image) update(mutate func(*footer.Footer)) error {
	f, err := img.Footer()
	if err != nil {
		return err
	}
	mutate(&f)
	return img.store(f)
}
