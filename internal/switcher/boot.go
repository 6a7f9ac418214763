package switcher

import "fmt"

// Handoff transfers execution to a booted image. Jump must not return: on
// hardware it loads the stack pointer and branches to entry. Hosted builds
// record the call instead.
type Handoff interface {
	Jump(stackPointer, entry uint32)
}

// HandoffFunc adapts a function to the Handoff interface.
type HandoffFunc func(stackPointer, entry uint32)

// Jump calls fn(stackPointer, entry).
func (fn HandoffFunc) Jump(stackPointer, entry uint32) {
	fn(stackPointer, entry)
}

// InitialStackPointer is loaded into the stack pointer on handoff.
const InitialStackPointer = 0

// Boot hands control to the image. Unless the image has already confirmed a
// successful boot, one attempt is charged first, since the image may hang
// before it can record anything.
//
// Boot only returns if the handoff could not be prepared; no attempt is
// charged when the start address is unusable, and no jump is made when the
// charge could not be recorded. It panics if h.Jump returns.
func (img *Image) Boot(h Handoff) error {
	f, err := img.Footer()
	if err != nil {
		return err
	}
	start, ok := f.StartAddress(img.addr)
	if !ok {
		return ErrNoStartAddress
	}

	if !f.Success() {
		f.DecrementAttempts()
		if err := img.store(f); err != nil {
			return fmt.Errorf("charge boot attempt: %w", err)
		}
		img.log.Info("charged boot attempt", "version", f.Version(), "attempts", f.Attempts())
	}

	img.log.Info("handing off", "version", f.Version(), "entry", fmt.Sprintf("0x%08X", start))
	h.Jump(InitialStackPointer, start)
	panic("switcher: handoff returned")
}
