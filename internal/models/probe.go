package models

import (
	"net"
	"time"
)

// ProbeDescriptor drives periodic probe emission toward one destination ToR.
type ProbeDescriptor struct {
	DstTor uint32
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
	Period time.Duration
}

// RegisterReading is one read-back of the per-destination best-path
// registers of a switch. Timestamp is the origination time carried by the
// probe that set the registers; SeenAt is when the control plane read it.
type RegisterReading struct {
	Util      uint16
	Port      uint16
	Timestamp uint32
	SeenAt    time.Time
}
