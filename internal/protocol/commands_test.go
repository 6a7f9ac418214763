package protocol

import (
	"testing"
)

func TestCommandName(t *testing.T) {
	tests := []struct {
		cmd      byte
		expected string
	}{
		{CmdSync, "sync"},
		{CmdReadMem, "read"},
		{CmdProgramMem, "program"},
		{0x00, "unknown"},
		{0xFF, "unknown"},
	}

	for _, tc := range tests {
		result := CommandName(tc.cmd)
		if result != tc.expected {
			t.Errorf("CommandName(0x%02X) = %q, want %q", tc.cmd, result, tc.expected)
		}
	}
}

func TestErrorMessage_AllCodes(t *testing.T) {
	tests := []struct {
		code     byte
		expected string
	}{
		{ErrInvalidMessage, "invalid message"},
		{ErrFailedToAct, "failed to act"},
		{ErrInvalidChecksum, "invalid checksum"},
		{ErrWriteErr, "program error"},
		{ErrReadErr, "read error"},
		{ErrReadLenErr, "read length error"},
		{ErrOutOfRange, "address out of range"},
	}

	for _, tc := range tests {
		result := ErrorMessage(tc.code)
		if result != tc.expected {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", tc.code, result, tc.expected)
		}
	}
}

func TestErrorMessage_Unknown(t *testing.T) {
	unknownCodes := []byte{0x00, 0x01, 0x04, 0x0B, 0xFF}
	for _, code := range unknownCodes {
		result := ErrorMessage(code)
		if result != "unknown error" {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", code, result, "unknown error")
		}
	}
}

func TestSyncData(t *testing.T) {
	data := SyncData()

	// Should be 36 bytes
	if len(data) != 36 {
		t.Errorf("SyncData() length = %d, want 36", len(data))
	}

	// First 4 bytes are the sync pattern
	if data[0] != 0x07 || data[1] != 0x07 || data[2] != 0x12 || data[3] != 0x20 {
		t.Errorf("SyncData() header = %v, want [0x07, 0x07, 0x12, 0x20]", data[0:4])
	}

	// Remaining 32 bytes should be 0x55
	for i := 4; i < 36; i++ {
		if data[i] != 0x55 {
			t.Errorf("SyncData()[%d] = 0x%02X, want 0x55", i, data[i])
		}
	}
}

func TestCalculateBlocks(t *testing.T) {
	tests := []struct {
		size     int
		expected int
	}{
		{0, 0},
		{-1, 0},
		{1, 1},
		{MaxBlockSize, 1},
		{MaxBlockSize + 1, 2},
		{10 * MaxBlockSize, 10},
	}

	for _, tc := range tests {
		result := CalculateBlocks(tc.size)
		if result != tc.expected {
			t.Errorf("CalculateBlocks(%d) = %d, want %d", tc.size, result, tc.expected)
		}
	}
}

func TestConstants(t *testing.T) {
	if MaxBlockSize != 1024 {
		t.Errorf("MaxBlockSize = %d, want 1024", MaxBlockSize)
	}
	if DefaultBaudRate != 115200 {
		t.Errorf("DefaultBaudRate = %d, want 115200", DefaultBaudRate)
	}
}
