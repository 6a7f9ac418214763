// Package footer models the status record stored immediately after a
// firmware image.
//
// The record is one 64-bit word. Flash cells erase to 1 and can only be
// programmed to 0, so every flag is inverted (0 = asserted) and the attempt
// counter is unary. Mutators only ever clear bits; an erased footer reads as
// "not yet checked, all attempts remaining".
package footer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// Size is the footer length in bytes.
const Size = 8

// MaxAttempts is the number of boot attempts an erased footer grants.
const MaxAttempts = 4

// Field layout, bit 63 is the most significant bit. The word is stored
// big-endian so the checksum occupies the first three bytes after the image.
const (
	checksumShift = 40
	checksumMask  = 0xFFFFFF
	versionShift  = 32
	versionMask   = 0xFF
	lengthShift   = 8
	lengthMask    = 0xFFFFFF

	nValidBit   = 1 << 7
	nInvalidBit = 1 << 6
	nSuccessBit = 1 << 5
	nFailureBit = 1 << 4
	attemptMask = 1<<MaxAttempts - 1

	statusMask = nValidBit | nInvalidBit | nSuccessBit | nFailureBit | attemptMask
)

// StatusOffset is the byte offset of the status byte within the footer.
// All mutable bits live in it.
const StatusOffset = Size - 1

// MaxLength is the largest image length the footer can describe.
const MaxLength = lengthMask

// ErrShortFooter is returned when decoding fewer than Size bytes.
var ErrShortFooter = errors.New("footer: short buffer")

// Footer is the packed status record of one image.
type Footer uint64

// New returns the footer the build tooling writes for an image: checksum,
// version and length burned in, every status and attempt bit erased.
func New(checksum uint32, version uint8, length uint32) Footer {
	return Footer(uint64(checksum&checksumMask)<<checksumShift |
		uint64(version)<<versionShift |
		uint64(length&lengthMask)<<lengthShift |
		statusMask)
}

// Decode reads a footer from the first Size bytes of b.
func Decode(b []byte) (Footer, error) {
	if len(b) < Size {
		return 0, fmt.Errorf("%w: %d bytes, need %d", ErrShortFooter, len(b), Size)
	}
	return Footer(binary.BigEndian.Uint64(b)), nil
}

// Bytes returns the on-flash encoding.
func (f Footer) Bytes() [Size]byte {
	var b [Size]byte
	binary.BigEndian.PutUint64(b[:], uint64(f))
	return b
}

// StatusByte returns the byte holding the flags and the attempt counter.
func (f Footer) StatusByte() byte {
	return byte(f)
}

// Checksum returns the expected CRC-24 remainder of the image.
func (f Footer) Checksum() uint32 {
	return uint32(f>>checksumShift) & checksumMask
}

// Version returns the image version. Higher is newer.
func (f Footer) Version() uint8 {
	return uint8(f >> versionShift)
}

// Length returns the image length in bytes, excluding the footer.
func (f Footer) Length() uint32 {
	return uint32(f>>lengthShift) & lengthMask
}

// Valid reports whether the image checksum was verified good.
func (f Footer) Valid() bool { return f&nValidBit == 0 }

// Invalid reports whether the image checksum was verified bad.
func (f Footer) Invalid() bool { return f&nInvalidBit == 0 }

// Success reports whether the image recorded a successful boot.
func (f Footer) Success() bool { return f&nSuccessBit == 0 }

// Failure reports whether the image was recorded as failing to boot.
func (f Footer) Failure() bool { return f&nFailureBit == 0 }

// SetValid records that the checksum verified. Like every setter it only
// clears a bit, so it is idempotent and safe to repeat after power loss.
func (f *Footer) SetValid() { *f &^= nValidBit }

// SetInvalid records that the checksum did not verify.
func (f *Footer) SetInvalid() { *f &^= nInvalidBit }

// SetSuccess records that the image booted and confirmed itself.
func (f *Footer) SetSuccess() { *f &^= nSuccessBit }

// SetFailure records that the image failed to boot.
func (f *Footer) SetFailure() { *f &^= nFailureBit }

// Attempts returns the number of boot attempts left.
func (f Footer) Attempts() int {
	return bits.OnesCount8(uint8(f) & attemptMask)
}

// DecrementAttempts clears the lowest remaining attempt bit. It does nothing
// once the counter is exhausted.
func (f *Footer) DecrementAttempts() {
	a := uint64(*f) & attemptMask
	*f &^= Footer(a & -a)
}

// StartAddress returns the address of the first image byte given the
// footer's own address. It reports false if the length would place the image
// below address zero.
func (f Footer) StartAddress(footerAddr uint32) (uint32, bool) {
	n := f.Length()
	if n > footerAddr {
		return 0, false
	}
	return footerAddr - n, true
}

// State is the boot state of an image, in decision order.
type State int

const (
	StateSuccess State = iota
	StateFailure
	StateInvalid
	StateUnchecked
	StateValid
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "confirmed"
	case StateFailure:
		return "failed"
	case StateInvalid:
		return "invalid"
	case StateUnchecked:
		return "unchecked"
	case StateValid:
		return "valid"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// State classifies the footer the way the selector walks it.
func (f Footer) State() State {
	switch {
	case f.Success():
		return StateSuccess
	case f.Failure():
		return StateFailure
	case f.Invalid():
		return StateInvalid
	case !f.Valid():
		return StateUnchecked
	case f.Attempts() == 0:
		return StateExhausted
	default:
		return StateValid
	}
}

func (f Footer) String() string {
	return fmt.Sprintf("version=%d length=%d checksum=0x%06X state=%s attempts=%d",
		f.Version(), f.Length(), f.Checksum(), f.State(), f.Attempts())
}
