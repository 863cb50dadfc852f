// Package switchagent is the only component that crosses the network
// boundary to a switch's control agent. It exposes the logical table and
// register operations of the agent; the agent's wire protocol is a framed
// binary request/response exchange over TCP with one in-flight request per
// connection.
package switchagent

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hulanet/fabric-control/internal/models"
)

// Logical tables and registers of the dataplane program.
const (
	TableECMPGroup    = "ecmp_group"
	TableECMPNextHop  = "ecmp_nhop"
	TableFlowlet      = "flowlet_table"
	TableProbeForward = "probe_fwd_table"

	RegisterPathUtil    = "path_util_reg"
	RegisterBestPort    = "best_port_reg"
	RegisterUpdateTs    = "update_ts_reg"
	RegisterFlowletTime = "flowlet_time_reg"
)

type EntryHandle uint32

type FieldKind uint8

const (
	FieldExact FieldKind = 1
	FieldLPM   FieldKind = 2
)

type MatchField struct {
	Kind      FieldKind
	Key       []byte
	PrefixLen uint8
}

func ExactField(key []byte) MatchField {
	return MatchField{Kind: FieldExact, Key: key}
}

func LPMField(key []byte, prefixLen uint8) MatchField {
	return MatchField{Kind: FieldLPM, Key: key, PrefixLen: prefixLen}
}

// MatchKey is the full match of one table entry. Its canonical string form
// keys the reconciler's applied-entry tracking.
type MatchKey struct {
	Fields []MatchField
}

func (k MatchKey) String() string {
	parts := make([]string, 0, len(k.Fields))
	for _, f := range k.Fields {
		switch f.Kind {
		case FieldLPM:
			parts = append(parts, fmt.Sprintf("lpm:%s/%d", hex.EncodeToString(f.Key), f.PrefixLen))
		default:
			parts = append(parts, "exact:"+hex.EncodeToString(f.Key))
		}
	}
	return strings.Join(parts, ",")
}

type Action struct {
	Name   string
	Params [][]byte
}

func (a Action) Equal(other Action) bool {
	if a.Name != other.Name || len(a.Params) != len(other.Params) {
		return false
	}
	for i, p := range a.Params {
		if !bytesEqual(p, other.Params[i]) {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Client is the capability interface over one switch's control agent.
// Every call can fail independently; the remote side may close the
// connection at any time. No operation has side effects beyond the named
// table or register.
type Client interface {
	AddEntry(ctx context.Context, table string, match MatchKey, action Action) (EntryHandle, error)
	DeleteEntry(ctx context.Context, table string, handle EntryHandle) error
	ClearTable(ctx context.Context, table string) error
	ReadRegister(ctx context.Context, register string, index uint32) (uint32, error)
	WriteRegister(ctx context.Context, register string, index uint32, value uint32) error
	Close() error
}

// Agent speaks the framed binary protocol to one switch agent. The agent
// processes one request at a time, so all calls serialize on the
// connection mutex.
type Agent struct {
	switchID models.SwitchID

	mu   sync.Mutex
	conn net.Conn
}

func Dial(ctx context.Context, switchID models.SwitchID, addr string, timeout time.Duration) (*Agent, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &models.ConnectError{Switch: switchID, Err: err}
	}
	return &Agent{switchID: switchID, conn: conn}, nil
}

func (a *Agent) AddEntry(ctx context.Context, table string, match MatchKey, action Action) (EntryHandle, error) {
	req := newRequest(opAddEntry)
	req.putString(table)
	req.putMatchKey(match)
	req.putString(action.Name)
	req.putByte(uint8(len(action.Params)))
	for _, param := range action.Params {
		req.putBytes(param)
	}
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return 0, &models.RPCError{Op: "addEntry", Table: table, Err: err}
	}
	handle, err := resp.uint32Field()
	if err != nil {
		return 0, &models.RPCError{Op: "addEntry", Table: table, Err: err}
	}
	return EntryHandle(handle), nil
}

func (a *Agent) DeleteEntry(ctx context.Context, table string, handle EntryHandle) error {
	req := newRequest(opDeleteEntry)
	req.putString(table)
	req.putUint32(uint32(handle))
	if _, err := a.roundTrip(ctx, req); err != nil {
		return &models.RPCError{Op: "deleteEntry", Table: table, Err: err}
	}
	return nil
}

func (a *Agent) ClearTable(ctx context.Context, table string) error {
	req := newRequest(opClearTable)
	req.putString(table)
	if _, err := a.roundTrip(ctx, req); err != nil {
		return &models.RPCError{Op: "clearTable", Table: table, Err: err}
	}
	return nil
}

func (a *Agent) ReadRegister(ctx context.Context, register string, index uint32) (uint32, error) {
	req := newRequest(opReadRegister)
	req.putString(register)
	req.putUint32(index)
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return 0, &models.RPCError{Op: "readRegister", Table: register, Err: err}
	}
	value, err := resp.uint32Field()
	if err != nil {
		return 0, &models.RPCError{Op: "readRegister", Table: register, Err: err}
	}
	return value, nil
}

func (a *Agent) WriteRegister(ctx context.Context, register string, index uint32, value uint32) error {
	req := newRequest(opWriteRegister)
	req.putString(register)
	req.putUint32(index)
	req.putUint32(value)
	if _, err := a.roundTrip(ctx, req); err != nil {
		return &models.RPCError{Op: "writeRegister", Table: register, Err: err}
	}
	return nil
}

func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn.Close()
}
