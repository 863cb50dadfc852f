package switchagent

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
	"time"
)

type opcode uint8

const (
	opAddEntry opcode = iota + 1
	opDeleteEntry
	opClearTable
	opReadRegister
	opWriteRegister
)

const (
	statusOK uint8 = 0

	maxFrameLen = 1 << 16

	// Fallback deadline when the caller's context carries none. An agent
	// that stops answering must not hold a reconciliation pass forever.
	defaultOpTimeout = 10 * time.Second
)

// request accumulates the body of one frame. Strings and byte slices are
// uint16 length-prefixed, integers are fixed-width big-endian.
type request struct {
	body []byte
}

func newRequest(op opcode) *request {
	return &request{body: []byte{byte(op)}}
}

func (r *request) putByte(b uint8) {
	r.body = append(r.body, b)
}

func (r *request) putUint32(v uint32) {
	r.body = binary.BigEndian.AppendUint32(r.body, v)
}

func (r *request) putBytes(b []byte) {
	r.body = binary.BigEndian.AppendUint16(r.body, uint16(len(b)))
	r.body = append(r.body, b...)
}

func (r *request) putString(s string) {
	r.putBytes([]byte(s))
}

func (r *request) putMatchKey(key MatchKey) {
	r.putByte(uint8(len(key.Fields)))
	for _, field := range key.Fields {
		r.putByte(uint8(field.Kind))
		r.putBytes(field.Key)
		if field.Kind == FieldLPM {
			r.putByte(field.PrefixLen)
		}
	}
}

type response struct {
	payload []byte
}

func (r response) uint32Field() (uint32, error) {
	if len(r.payload) < 4 {
		return 0, fmt.Errorf("response payload too short: %d bytes", len(r.payload))
	}
	return binary.BigEndian.Uint32(r.payload), nil
}

func (a *Agent) roundTrip(ctx context.Context, req *request) (response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultOpTimeout)
	}
	if err := a.conn.SetDeadline(deadline); err != nil {
		return response{}, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	frame := binary.BigEndian.AppendUint32(nil, uint32(len(req.body)))
	frame = append(frame, req.body...)
	if _, err := a.conn.Write(frame); err != nil {
		return response{}, fmt.Errorf("failed to write request frame: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(a.conn, lenBuf[:]); err != nil {
		return response{}, fmt.Errorf("failed to read response length: %w", err)
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen == 0 || bodyLen > maxFrameLen {
		return response{}, fmt.Errorf("invalid response frame length %d", bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(a.conn, body); err != nil {
		return response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if body[0] != statusOK {
		return response{}, fmt.Errorf("agent error status %d: %s", body[0], agentMessage(body[1:]))
	}
	return response{payload: body[1:]}, nil
}

func agentMessage(payload []byte) string {
	if len(payload) < 2 {
		return "no detail"
	}
	msgLen := int(binary.BigEndian.Uint16(payload))
	if msgLen > len(payload)-2 {
		msgLen = len(payload) - 2
	}
	return string(payload[2 : 2+msgLen])
}

// UintBytes encodes v big-endian into exactly n bytes, the byte layout the
// dataplane expects for action parameters and exact match keys.
func UintBytes(v uint64, n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf[8-n:]
}

// AddrBytes encodes an IPv4 address as its 4-byte match key.
func AddrBytes(addr netip.Addr) []byte {
	v4 := addr.As4()
	return v4[:]
}
