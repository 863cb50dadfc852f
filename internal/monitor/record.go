// Package monitor emits the session's observable state for the external
// analysis tooling: register readings, flowlet routing decisions and
// divergence reports.
package monitor

import (
	"time"

	"github.com/hulanet/fabric-control/internal/models"
)

type RecordKind string

const (
	KindRegister   RecordKind = "register"
	KindDivergence RecordKind = "divergence"
)

// Record is one monitoring datum. The serialization is the consumer's
// concern; the field set is the contract.
type Record struct {
	Kind       RecordKind      `json:"kind"`
	Switch     models.SwitchID `json:"switch"`
	ObservedAt time.Time       `json:"observed_at"`

	// register fields
	DstTor  uint32 `json:"dst_tor,omitempty"`
	Util    uint16 `json:"path_util,omitempty"`
	Port    uint16 `json:"best_port,omitempty"`
	ProbeTs uint32 `json:"probe_ts,omitempty"`

	// divergence fields
	Table  string `json:"table,omitempty"`
	Op     string `json:"op,omitempty"`
	Key    string `json:"key,omitempty"`
	Detail string `json:"detail,omitempty"`
}
