package models

import (
	"net"
	"net/netip"
	"slices"
)

type NextHop struct {
	Port uint16
	MAC  net.HardwareAddr
}

// ECMPGroup maps a destination prefix to a dense set of equal-cost next
// hops. The hash-bucket index of a next hop is its position in NextHops.
type ECMPGroup struct {
	Prefix   netip.Prefix
	GroupID  uint16
	NextHops []NextHop
}

// FlowletEntry pins a destination prefix to one egress until the flowlet
// controller decides to move it.
type FlowletEntry struct {
	Prefix netip.Prefix
	Port   uint16
	MAC    net.HardwareAddr
}

// ProbeForwardEntry steers probes addressed to DstTor out of Port.
type ProbeForwardEntry struct {
	DstTor uint32
	Port   uint16
	MAC    net.HardwareAddr
}

// RoutingIntent is the desired state for one switch, the unit the
// reconciler compares against live tables. A reconciliation pass always
// sees a complete snapshot, never a half-written one.
type RoutingIntent struct {
	Switch     SwitchID
	Generation uint64

	Groups        []ECMPGroup
	Flowlets      []FlowletEntry
	ProbeForwards []ProbeForwardEntry
}

func (in *RoutingIntent) Clone() *RoutingIntent {
	if in == nil {
		return nil
	}
	out := &RoutingIntent{
		Switch:        in.Switch,
		Generation:    in.Generation,
		Groups:        make([]ECMPGroup, len(in.Groups)),
		Flowlets:      slices.Clone(in.Flowlets),
		ProbeForwards: slices.Clone(in.ProbeForwards),
	}
	for i, g := range in.Groups {
		out.Groups[i] = ECMPGroup{
			Prefix:   g.Prefix,
			GroupID:  g.GroupID,
			NextHops: slices.Clone(g.NextHops),
		}
	}
	return out
}

// SetFlowlet replaces the flowlet entry for the given prefix, or appends
// one if the prefix has no entry yet.
func (in *RoutingIntent) SetFlowlet(entry FlowletEntry) {
	for i, fl := range in.Flowlets {
		if fl.Prefix == entry.Prefix {
			in.Flowlets[i] = entry
			return
		}
	}
	in.Flowlets = append(in.Flowlets, entry)
}
