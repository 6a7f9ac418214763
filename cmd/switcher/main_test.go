package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigbag/image-switcher/internal/crc24"
	"github.com/bigbag/image-switcher/internal/flash"
	"github.com/bigbag/image-switcher/internal/footer"
)

const (
	slotA = 0x07F8
	slotB = 0x0FF8
)

// writeDump writes a 4 KiB flash dump with a packed image below each
// footer address in versions.
func writeDump(t *testing.T, versions map[uint32]uint8) string {
	t.Helper()

	arena := flash.NewArena(0, 0x1000)
	for addr, v := range versions {
		payload := bytes.Repeat([]byte{v, 0x5A}, 100)
		f := footer.New(crc24.Calculate(payload), v, uint32(len(payload)))
		fb := f.Bytes()
		start := addr - uint32(len(payload))
		if err := arena.Program(start, payload); err != nil {
			t.Fatal(err)
		}
		if err := arena.Program(addr, fb[:]); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := os.WriteFile(path, arena.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func footerAt(t *testing.T, path string, addr uint32) footer.Footer {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := footer.Decode(data[addr:])
	if err != nil {
		t.Fatal(err)
	}
	return f
}

var slotFlags = []string{"--footer", "0x7F8", "--footer", "0xFF8"}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0x0007FFF8", 0x7FFF8, false},
		{"4096", 4096, false},
		{"0b1000", 8, false},
		{"0x100000000", 0, true},
		{"slot", 0, true},
		{"", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseAddress(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseAddress(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("parseAddress(%q) = 0x%X, want 0x%X", tc.in, got, tc.want)
			}
		})
	}
}

func TestSelect_WritesVerdict(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{slotA: 1, slotB: 2})

	out, err := run(t, append([]string{"select", path, "--write"}, slotFlags...)...)
	if err != nil {
		t.Fatalf("select error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Selected image v2") {
		t.Errorf("select output = %q, want image v2", out)
	}

	for _, addr := range []uint32{slotA, slotB} {
		if f := footerAt(t, path, addr); !f.Valid() {
			t.Errorf("footer at 0x%X = %s, want valid", addr, f)
		}
	}
}

func TestSelect_DryRunLeavesDump(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{slotA: 3, slotB: 2})
	before, _ := os.ReadFile(path)

	out, err := run(t, append([]string{"select", path, "--boot"}, slotFlags...)...)
	if err != nil {
		t.Fatalf("select error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Selected image v3") || !strings.Contains(out, "Dry run") {
		t.Errorf("select output = %q", out)
	}

	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("select without --write modified the dump")
	}
}

func TestSelect_BootChargesAttempt(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{slotA: 1, slotB: 2})

	out, err := run(t, append([]string{"select", path, "--boot", "--write"}, slotFlags...)...)
	if err != nil {
		t.Fatalf("select error: %v\n%s", err, out)
	}
	// Image v2 is 200 bytes ending at its footer.
	if !strings.Contains(out, "Handoff: sp=0x00000000 pc=0x00000F30") {
		t.Errorf("select output = %q, want handoff to 0xF30", out)
	}

	f := footerAt(t, path, slotB)
	if f.Attempts() != footer.MaxAttempts-1 {
		t.Errorf("attempts after boot = %d, want %d", f.Attempts(), footer.MaxAttempts-1)
	}
	if a := footerAt(t, path, slotA); a.Attempts() != footer.MaxAttempts {
		t.Errorf("unselected image charged: %s", a)
	}
}

func TestSelect_BootSkipsConfirmedImageWithCorruptLength(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{slotB: 2})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f := footer.New(0, 5, 0x1000)
	f.SetSuccess()
	fb := f.Bytes()
	copy(data[slotA:], fb[:])
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, append([]string{"select", path, "--boot"}, slotFlags...)...)
	if err != nil {
		t.Fatalf("select error: %v\n%s", err, out)
	}
	for _, want := range []string{"Selected image v5", "Skipping image at 0x000007F8", "Selected image v2", "pc=0x00000F30"} {
		if !strings.Contains(out, want) {
			t.Errorf("select output missing %q:\n%s", want, out)
		}
	}
}

func TestSelect_NoBootableImage(t *testing.T) {
	path := writeDump(t, nil)

	out, err := run(t, append([]string{"select", path}, slotFlags...)...)
	if err == nil {
		t.Fatal("select over erased flash succeeded")
	}
	if !strings.Contains(out, "No bootable image") {
		t.Errorf("select output = %q", out)
	}
}

func TestSelect_ThreeSlots(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{0x3F8: 4, slotA: 9, slotB: 4})

	out, err := run(t, "select", path, "--footer", "0x3F8", "--footer", "0x7F8", "--footer", "0xFF8")
	if err != nil {
		t.Fatalf("select error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "footer at 0x000007F8") {
		t.Errorf("select output = %q, want slot at 0x7F8", out)
	}
}

func TestMark(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{slotA: 1})

	out, err := run(t, "mark", "success", path, "--footer", "0x7F8", "--write")
	if err != nil {
		t.Fatalf("mark error: %v\n%s", err, out)
	}
	if f := footerAt(t, path, slotA); !f.Success() || f.State() != footer.StateSuccess {
		t.Errorf("footer after mark success = %s", f)
	}

	if _, err := run(t, "mark", "maybe", path); err == nil {
		t.Error("mark with unknown outcome succeeded")
	}
}

func TestInspect(t *testing.T) {
	path := writeDump(t, map[uint32]uint8{slotA: 7})

	out, err := run(t, append([]string{"inspect", path, "--verify"}, slotFlags...)...)
	if err != nil {
		t.Fatalf("inspect error: %v\n%s", err, out)
	}
	for _, want := range []string{"version=7", "Image:    0x00000730-0x000007F8", "Bootable: true", "Bootable: false"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestPack(t *testing.T) {
	dir := t.TempDir()
	image := bytes.Repeat([]byte{0xC3, 0x11, 0x00}, 341)
	in := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(in, image, 0o644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "app.slot")

	out, err := run(t, "pack", in, "--version", "12", "-o", outPath, "--footer", "0x7FFF8")
	if err != nil {
		t.Fatalf("pack error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Load at 0x0007FBF9") {
		t.Errorf("pack output = %q, want load address 0x7FBF9", out)
	}

	slot, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(slot[:len(image)], image) {
		t.Fatal("packed slot does not start with the image")
	}
	f, err := footer.Decode(slot[len(image):])
	if err != nil {
		t.Fatal(err)
	}
	if f != footer.New(crc24.Calculate(image), 12, uint32(len(image))) {
		t.Errorf("packed footer = %s", f)
	}
	if !crc24.IsValid(slot[:len(image)+crc24.Size]) {
		t.Error("image followed by its footer checksum does not validate")
	}
}

func TestPack_RequiresVersion(t *testing.T) {
	in := filepath.Join(t.TempDir(), "app.bin")
	if err := os.WriteFile(in, []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "pack", in); err == nil {
		t.Error("pack without --version succeeded")
	}
}

func TestCRC(t *testing.T) {
	in := filepath.Join(t.TempDir(), "abcd")
	if err := os.WriteFile(in, []byte("ABCD"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "crc", in)
	if err != nil {
		t.Fatalf("crc error: %v", err)
	}
	if !strings.HasPrefix(out, "A7629E ") {
		t.Errorf("crc output = %q, want A7629E", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "switcher dev\n") {
		t.Errorf("version output = %q", out)
	}
}

func TestDetect_MissingPort(t *testing.T) {
	port := filepath.Join(t.TempDir(), "ttyNONE")
	out, err := run(t, "detect", "--port", port)
	if err == nil || !strings.Contains(err.Error(), "failed to detect target on "+port) {
		t.Errorf("detect error = %v, want detection failure on %s\n%s", err, port, out)
	}
}
