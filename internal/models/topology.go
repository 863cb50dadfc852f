package models

import (
	"net"
	"net/netip"
)

type SwitchID string

// Link is one (port, neighbor) adjacency of a switch. NeighborMAC is the
// address packets must carry to be accepted on the far end.
type Link struct {
	Port        uint16
	Neighbor    SwitchID
	NeighborMAC net.HardwareAddr
}

type Switch struct {
	ID        SwitchID
	AgentAddr string

	// TorID is the destination anchor probes are addressed to.
	// Zero means the switch is not a ToR.
	TorID uint32

	Links    []Link
	Prefixes []netip.Prefix
}

// Topology is the immutable input of one control-plane session.
type Topology struct {
	Switches map[SwitchID]*Switch
	Probes   []ProbeDescriptor
}

// TorByID finds the switch anchoring the given ToR identifier.
func (t *Topology) TorByID(torID uint32) (*Switch, bool) {
	for _, sw := range t.Switches {
		if sw.TorID == torID && sw.TorID != 0 {
			return sw, true
		}
	}
	return nil, false
}

// TorIDs returns all destination ToR identifiers in the topology.
func (t *Topology) TorIDs() []uint32 {
	ids := make([]uint32, 0, len(t.Switches))
	for _, sw := range t.Switches {
		if sw.TorID != 0 {
			ids = append(ids, sw.TorID)
		}
	}
	return ids
}

// LinkByPort finds the link of sw egressing on the given port.
func (s *Switch) LinkByPort(port uint16) (Link, bool) {
	for _, l := range s.Links {
		if l.Port == port {
			return l, true
		}
	}
	return Link{}, false
}
