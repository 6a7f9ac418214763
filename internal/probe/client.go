// Package probe gives the host access to a target's flash over a serial
// link.
//
// The target runs an Agent in its first stage when its boot strap is held
// during reset. The host-side Client implements flash.Memory, so the switcher
// can inspect and select images on a live device exactly as it does on a
// dump file.
package probe

import (
	"fmt"
	"time"

	"github.com/bigbag/image-switcher/internal/flash"
	"github.com/bigbag/image-switcher/internal/protocol"
	"github.com/bigbag/image-switcher/internal/slip"
)

// DefaultTimeout bounds the wait for one response.
const DefaultTimeout = 2 * time.Second

const syncAttempts = 10

// Port is the link to the target. *serial.Port satisfies it.
type Port interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
}

// ProgressCallback is called to report transfer progress in blocks.
type ProgressCallback func(current, total int)

// Client talks to a target agent.
type Client struct {
	port     Port
	frames   slip.Buffer
	timeout  time.Duration
	progress ProgressCallback
}

var _ flash.Memory = (*Client)(nil)

// New creates a new Client for the given port.
func New(port Port) *Client {
	return &Client{port: port, timeout: DefaultTimeout}
}

// SetTimeout sets how long to wait for each response.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// SetProgressCallback sets the progress callback function.
func (c *Client) SetProgressCallback(cb ProgressCallback) {
	c.progress = cb
}

// reportProgress calls the progress callback if set.
func (c *Client) reportProgress(current, total int) {
	if c.progress != nil {
		c.progress(current, total)
	}
}

// Sync establishes communication with the agent.
func (c *Client) Sync() error {
	frame := slip.Encode(protocol.NewRequest(protocol.CmdSync, protocol.SyncData()).Encode())

	for attempt := 0; attempt < syncAttempts; attempt++ {
		c.port.Flush()
		c.frames.Reset()

		if _, err := c.port.Write(frame); err != nil {
			continue
		}

		resp, err := c.readResponse(c.timeout / syncAttempts)
		if err != nil {
			continue
		}

		if resp.Command == protocol.CmdSync && resp.IsSuccess() {
			return nil
		}
	}

	return fmt.Errorf("sync failed after %d attempts", syncAttempts)
}

// ReadAt reads len(p) bytes of target memory starting at addr.
func (c *Client) ReadAt(p []byte, addr uint32) (int, error) {
	total := protocol.CalculateBlocks(len(p))
	n := 0
	for block := 0; n < len(p); block++ {
		size := len(p) - n
		if size > protocol.MaxBlockSize {
			size = protocol.MaxBlockSize
		}

		at := addr + uint32(n)
		req := protocol.NewRequest(protocol.CmdReadMem, protocol.ReadMemData(at, uint32(size)))
		resp, err := c.sendCommand(req, at)
		if err != nil {
			return n, fmt.Errorf("read 0x%08X+%d: %w", at, size, err)
		}
		if len(resp.Data) != size {
			return n, fmt.Errorf("read 0x%08X: got %d bytes, want %d", at, len(resp.Data), size)
		}

		n += copy(p[n:], resp.Data)
		c.reportProgress(block+1, total)
	}
	return n, nil
}

// Program clears bits of target memory starting at addr.
func (c *Client) Program(addr uint32, p []byte) error {
	for off := 0; off < len(p); off += protocol.MaxBlockSize {
		end := off + protocol.MaxBlockSize
		if end > len(p) {
			end = len(p)
		}

		at := addr + uint32(off)
		req := protocol.NewRequest(protocol.CmdProgramMem, protocol.ProgramMemData(at, p[off:end]))
		if _, err := c.sendCommand(req, at); err != nil {
			return fmt.Errorf("program 0x%08X+%d: %w", at, end-off, err)
		}
	}
	return nil
}

// Dump reads a whole region.
func (c *Client) Dump(region flash.Region) ([]byte, error) {
	data := make([]byte, region.Size)
	if _, err := c.ReadAt(data, region.Base); err != nil {
		return nil, err
	}
	return data, nil
}

// sendCommand sends a memory command for addr and waits for a successful
// response. The agent echoes addr in the response value.
func (c *Client) sendCommand(req *protocol.Request, addr uint32) (*protocol.Response, error) {
	frame := slip.Encode(req.Encode())

	if _, err := c.port.Write(frame); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	for {
		resp, err := c.readResponse(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		// Late replies to requests that already timed out.
		if resp.Command != req.Command || resp.Value != addr {
			continue
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// readResponse reads and decodes the next response from the agent.
func (c *Client) readResponse(timeout time.Duration) (*protocol.Response, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		if data, ok := c.frames.Next(); ok {
			if len(data) >= 10 {
				return protocol.DecodeResponse(data)
			}
			continue
		}
		if !time.Now().Before(deadline) {
			break
		}

		// Read errors are retried until the deadline, as a reset target
		// may produce line noise.
		n, _ := c.port.ReadWithTimeout(chunk, 100*time.Millisecond)
		if n > 0 {
			c.frames.Feed(chunk[:n])
		}
	}

	return nil, fmt.Errorf("timeout waiting for response")
}
