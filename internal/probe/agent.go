package probe

import (
	"errors"
	"io"
	"log/slog"

	"github.com/bigbag/image-switcher/internal/flash"
	"github.com/bigbag/image-switcher/internal/protocol"
	"github.com/bigbag/image-switcher/internal/slip"
)

// Agent serves memory requests from a host Client against mem. It only
// reads and clears bits; it cannot erase.
type Agent struct {
	mem flash.Memory
	log *slog.Logger
}

// NewAgent returns an agent backed by mem. A nil logger discards output.
func NewAgent(mem flash.Memory, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{mem: mem, log: logger}
}

// Serve answers framed requests read from rw until it returns an error.
// io.EOF ends the session cleanly.
func (a *Agent) Serve(rw io.ReadWriter) error {
	var frames slip.Buffer
	buf := make([]byte, 512)

	for {
		n, err := rw.Read(buf)
		if n > 0 {
			frames.Feed(buf[:n])
			for {
				packet, ok := frames.Next()
				if !ok {
					break
				}
				if _, werr := rw.Write(slip.Encode(a.Handle(packet))); werr != nil {
					return werr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Handle answers one decoded request packet with an encoded response packet.
func (a *Agent) Handle(packet []byte) []byte {
	return a.handle(packet).Encode()
}

func (a *Agent) handle(packet []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(packet)
	if err != nil {
		var cmd byte
		if len(packet) > 1 {
			cmd = packet[1]
		}
		a.log.Warn("malformed request", "err", err)
		return protocol.NewErrorResponse(cmd, protocol.ErrInvalidMessage)
	}
	if !req.Valid() {
		return protocol.NewErrorResponse(req.Command, protocol.ErrInvalidChecksum)
	}

	switch req.Command {
	case protocol.CmdSync:
		if !protocol.IsSyncData(req.Data) {
			return protocol.NewErrorResponse(req.Command, protocol.ErrInvalidMessage)
		}
		return protocol.NewResponse(req.Command, 0, nil)

	case protocol.CmdReadMem:
		addr, size, err := protocol.ParseReadMemData(req.Data)
		if err != nil {
			return protocol.NewErrorResponse(req.Command, protocol.ErrInvalidMessage)
		}
		if size > protocol.MaxBlockSize {
			return failAt(req.Command, addr, protocol.ErrReadLenErr)
		}
		data := make([]byte, size)
		if _, err := a.mem.ReadAt(data, addr); err != nil {
			a.log.Warn("read failed", "addr", addr, "size", size, "err", err)
			return failAt(req.Command, addr, failureCode(err, protocol.ErrReadErr))
		}
		return protocol.NewResponse(req.Command, addr, data)

	case protocol.CmdProgramMem:
		addr, bits, err := protocol.ParseProgramMemData(req.Data)
		if err != nil {
			return protocol.NewErrorResponse(req.Command, protocol.ErrInvalidMessage)
		}
		if len(bits) > protocol.MaxBlockSize {
			return failAt(req.Command, addr, protocol.ErrInvalidMessage)
		}
		if err := a.mem.Program(addr, bits); err != nil {
			a.log.Warn("program failed", "addr", addr, "size", len(bits), "err", err)
			return failAt(req.Command, addr, failureCode(err, protocol.ErrWriteErr))
		}
		a.log.Debug("programmed", "addr", addr, "size", len(bits))
		return protocol.NewResponse(req.Command, addr, nil)

	default:
		a.log.Warn("unsupported command", "cmd", req.Command)
		return protocol.NewErrorResponse(req.Command, protocol.ErrFailedToAct)
	}
}

// failAt is an error response that still echoes the request address, so the
// client can tell it from a stale reply.
func failAt(cmd byte, addr uint32, code byte) *protocol.Response {
	resp := protocol.NewErrorResponse(cmd, code)
	resp.Value = addr
	return resp
}

func failureCode(err error, fallback byte) byte {
	var rerr *flash.RangeError
	if errors.As(err, &rerr) {
		return protocol.ErrOutOfRange
	}
	return fallback
}
