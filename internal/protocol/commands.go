package protocol

// Memory access commands served by the target agent.
const (
	CmdSync       = 0x08
	CmdReadMem    = 0x0A
	CmdProgramMem = 0x0B
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// MaxBlockSize is the largest payload moved by one read or program request.
const MaxBlockSize = 0x400

// DefaultBaudRate is the link speed used when none is configured.
const DefaultBaudRate = 115200

// CommandName returns a human-readable command name.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdSync:
		return "sync"
	case CmdReadMem:
		return "read"
	case CmdProgramMem:
		return "program"
	default:
		return "unknown"
	}
}

// Error codes reported by the agent.
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidChecksum = 0x07
	ErrWriteErr        = 0x08
	ErrReadErr         = 0x09
	ErrReadLenErr      = 0x0A
	ErrOutOfRange      = 0x0C
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidChecksum:
		return "invalid checksum"
	case ErrWriteErr:
		return "program error"
	case ErrReadErr:
		return "read error"
	case ErrReadLenErr:
		return "read length error"
	case ErrOutOfRange:
		return "address out of range"
	default:
		return "unknown error"
	}
}

// CalculateBlocks returns the number of MaxBlockSize transfers needed to move
// size bytes.
func CalculateBlocks(size int) int {
	if size <= 0 {
		return 0
	}
	return (size + MaxBlockSize - 1) / MaxBlockSize
}
