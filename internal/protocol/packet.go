package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Request represents a memory access request packet.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents the agent's reply to a request.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// ResponseError is returned when the agent rejects a request.
type ResponseError struct {
	Command byte
	Status  byte
	Code    byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s command failed: status=0x%02X error=0x%02X (%s)",
		CommandName(e.Command), e.Status, e.Code, ErrorMessage(e.Code))
}

// NewRequest creates a new request with calculated checksum.
func NewRequest(cmd byte, data []byte) *Request {
	r := &Request{
		Command: cmd,
		Data:    data,
	}
	r.Checksum = Checksum(data)
	return r
}

// Checksum is the XOR of all data bytes seeded with 0xEF.
func Checksum(data []byte) uint32 {
	var checksum byte = 0xEF
	for _, b := range data {
		checksum ^= b
	}
	return uint32(checksum)
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	// Packet format:
	// 0: direction (0x00 = request)
	// 1: command
	// 2-3: data size (little-endian)
	// 4-7: checksum (little-endian)
	// 8+: data
	packet := make([]byte, 8+len(r.Data))
	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[8:], r.Data)
	return packet
}

// DecodeRequest parses a request from raw bytes (after SLIP decoding). The
// checksum is returned as sent; use Valid to check it.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("request too short: %d bytes", len(data))
	}
	if data[0] != DirRequest {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if size != len(data)-8 {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", size, len(data)-8)
	}

	return &Request{
		Command:  data[1],
		Checksum: binary.LittleEndian.Uint32(data[4:8]),
		Data:     data[8:],
	}, nil
}

// Valid reports whether the checksum matches the data.
func (r *Request) Valid() bool {
	return r.Checksum == Checksum(r.Data)
}

// NewResponse creates a successful response carrying data.
func NewResponse(cmd byte, value uint32, data []byte) *Response {
	return &Response{Command: cmd, Value: value, Data: data}
}

// NewErrorResponse creates a failed response with the given error code.
func NewErrorResponse(cmd byte, code byte) *Response {
	return &Response{Command: cmd, Status: 1, Error: code}
}

// Encode serializes the response to bytes (before SLIP encoding).
func (r *Response) Encode() []byte {
	// 0: direction (0x01 = response)
	// 1: command
	// 2-3: size of data + status + error (little-endian)
	// 4-7: value (little-endian)
	// 8+: data, status, error
	size := len(r.Data) + 2
	packet := make([]byte, 8+size)
	packet[0] = DirResponse
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(size))
	binary.LittleEndian.PutUint32(packet[4:8], r.Value)
	copy(packet[8:], r.Data)
	packet[8+len(r.Data)] = r.Status
	packet[9+len(r.Data)] = r.Error
	return packet
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
func DecodeResponse(data []byte) (*Response, error) {
	// Minimum response is 8 bytes header + 2 bytes status
	if len(data) < 10 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	if data[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	resp := &Response{
		Command: data[1],
	}

	dataSize := binary.LittleEndian.Uint16(data[2:4])
	resp.Value = binary.LittleEndian.Uint32(data[4:8])

	if int(dataSize) > len(data)-8 {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", dataSize, len(data)-8)
	}

	if dataSize >= 2 {
		// Last two bytes are status and error
		resp.Data = data[8 : 8+dataSize-2]
		resp.Status = data[8+dataSize-2]
		resp.Error = data[8+dataSize-1]
	} else if dataSize > 0 {
		resp.Data = data[8 : 8+dataSize]
	}

	return resp, nil
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0 && r.Error == 0
}

// Err returns a *ResponseError for a failed response, nil otherwise.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &ResponseError{Command: r.Command, Status: r.Status, Code: r.Error}
}

var syncPattern = []byte{0x07, 0x07, 0x12, 0x20}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	copy(data, syncPattern)
	for i := 4; i < 36; i++ {
		data[i] = 0x55
	}
	return data
}

// IsSyncData reports whether data is a SYNC payload.
func IsSyncData(data []byte) bool {
	return bytes.Equal(data, SyncData())
}

// ReadMemData creates the data payload for a READ command.
func ReadMemData(address, size uint32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return data
}

// ParseReadMemData is the inverse of ReadMemData.
func ParseReadMemData(data []byte) (address, size uint32, err error) {
	if len(data) != 8 {
		return 0, 0, fmt.Errorf("read payload: %d bytes, want 8", len(data))
	}
	return binary.LittleEndian.Uint32(data[0:4]), binary.LittleEndian.Uint32(data[4:8]), nil
}

// ProgramMemData creates the data payload for a PROGRAM command.
func ProgramMemData(address uint32, bits []byte) []byte {
	data := make([]byte, 4+len(bits))
	binary.LittleEndian.PutUint32(data[0:4], address)
	copy(data[4:], bits)
	return data
}

// ParseProgramMemData is the inverse of ProgramMemData.
func ParseProgramMemData(data []byte) (address uint32, bits []byte, err error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("program payload: %d bytes, want at least 4", len(data))
	}
	return binary.LittleEndian.Uint32(data[0:4]), data[4:], nil
}
