package reconciler

import (
	"github.com/hulanet/fabric-control/internal/models"
	"github.com/hulanet/fabric-control/internal/switchagent"
)

// tableOrder fixes the order tables are reconciled in. Groups go before
// next hops so a hash lookup never resolves to a missing group entry.
var tableOrder = []string{
	switchagent.TableECMPGroup,
	switchagent.TableECMPNextHop,
	switchagent.TableFlowlet,
	switchagent.TableProbeForward,
}

type desiredEntry struct {
	match  switchagent.MatchKey
	action switchagent.Action
}

// desiredEntries lowers a routing intent into the wire-level entries of
// each logical table, keyed by the canonical match-key string.
func desiredEntries(intent *models.RoutingIntent) map[string]map[string]desiredEntry {
	desired := map[string]map[string]desiredEntry{
		switchagent.TableECMPGroup:    make(map[string]desiredEntry, len(intent.Groups)),
		switchagent.TableECMPNextHop:  make(map[string]desiredEntry, len(intent.Groups)*2),
		switchagent.TableFlowlet:      make(map[string]desiredEntry, len(intent.Flowlets)),
		switchagent.TableProbeForward: make(map[string]desiredEntry, len(intent.ProbeForwards)),
	}

	for _, group := range intent.Groups {
		groupMatch := switchagent.MatchKey{Fields: []switchagent.MatchField{
			switchagent.LPMField(switchagent.AddrBytes(group.Prefix.Addr()), uint8(group.Prefix.Bits())),
		}}
		desired[switchagent.TableECMPGroup][groupMatch.String()] = desiredEntry{
			match: groupMatch,
			action: switchagent.Action{
				Name: "set_ecmp_group",
				Params: [][]byte{
					switchagent.UintBytes(uint64(group.GroupID), 2),
					switchagent.UintBytes(uint64(len(group.NextHops)), 2),
				},
			},
		}
		for bucket, nextHop := range group.NextHops {
			nhopMatch := switchagent.MatchKey{Fields: []switchagent.MatchField{
				switchagent.ExactField(switchagent.UintBytes(uint64(group.GroupID), 2)),
				switchagent.ExactField(switchagent.UintBytes(uint64(bucket), 2)),
			}}
			desired[switchagent.TableECMPNextHop][nhopMatch.String()] = desiredEntry{
				match:  nhopMatch,
				action: setNhopAction(nextHop.MAC, nextHop.Port),
			}
		}
	}

	for _, flowlet := range intent.Flowlets {
		match := switchagent.MatchKey{Fields: []switchagent.MatchField{
			switchagent.LPMField(switchagent.AddrBytes(flowlet.Prefix.Addr()), uint8(flowlet.Prefix.Bits())),
		}}
		desired[switchagent.TableFlowlet][match.String()] = desiredEntry{
			match:  match,
			action: setNhopAction(flowlet.MAC, flowlet.Port),
		}
	}

	for _, probeForward := range intent.ProbeForwards {
		match := switchagent.MatchKey{Fields: []switchagent.MatchField{
			switchagent.ExactField(switchagent.UintBytes(uint64(probeForward.DstTor), 4)),
		}}
		desired[switchagent.TableProbeForward][match.String()] = desiredEntry{
			match:  match,
			action: setNhopAction(probeForward.MAC, probeForward.Port),
		}
	}
	return desired
}

func setNhopAction(mac []byte, port uint16) switchagent.Action {
	return switchagent.Action{
		Name: "set_nhop",
		Params: [][]byte{
			mac,
			switchagent.UintBytes(uint64(port), 2),
		},
	}
}
