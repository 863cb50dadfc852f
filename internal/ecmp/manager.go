// Package ecmp computes static multipath routing intents from the
// topology. It is a pure function of its input: the same topology always
// yields the same group and bucket assignment, which reproducible
// experiments depend on.
package ecmp

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/hulanet/fabric-control/internal/models"
)

// Intents builds the complete routing intent of every switch: one ECMP
// group per remote destination prefix with dense hash buckets 0..n-1, and
// one probe-forwarding entry per remote destination ToR. Which tables a
// session actually installs is decided by the session mode; the
// computation is identical either way.
func Intents(topology *models.Topology) (map[models.SwitchID]*models.RoutingIntent, error) {
	dist, err := shortestPathDistances(topology)
	if err != nil {
		return nil, err
	}

	intents := make(map[models.SwitchID]*models.RoutingIntent, len(topology.Switches))
	for _, switchID := range sortedSwitchIDs(topology) {
		sw := topology.Switches[switchID]
		intent := &models.RoutingIntent{Switch: switchID}

		groupID := uint16(1)
		for _, dst := range sortedDestinations(topology, switchID) {
			nextHops, err := equalCostNextHops(topology, dist, sw, dst.home)
			if err != nil {
				return nil, err
			}
			intent.Groups = append(intent.Groups, models.ECMPGroup{
				Prefix:   dst.prefix,
				GroupID:  groupID,
				NextHops: nextHops,
			})
			groupID++
		}

		for _, torHome := range sortedTors(topology) {
			if torHome.ID == switchID {
				continue
			}
			nextHops, err := equalCostNextHops(topology, dist, sw, torHome.ID)
			if err != nil {
				return nil, err
			}
			// The dataplane forwards a probe out of a single port per
			// destination ToR; the lowest-numbered equal-cost port keeps
			// the choice deterministic.
			intent.ProbeForwards = append(intent.ProbeForwards, models.ProbeForwardEntry{
				DstTor: torHome.TorID,
				Port:   nextHops[0].Port,
				MAC:    nextHops[0].MAC,
			})
		}
		intents[switchID] = intent
	}
	return intents, nil
}

type destination struct {
	prefix netip.Prefix
	home   models.SwitchID
}

func sortedSwitchIDs(topology *models.Topology) []models.SwitchID {
	ids := make([]models.SwitchID, 0, len(topology.Switches))
	for id := range topology.Switches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// sortedDestinations lists every prefix homed on another switch, ordered
// by prefix so group identifiers come out stable across runs.
func sortedDestinations(topology *models.Topology, from models.SwitchID) []destination {
	dsts := make([]destination, 0, len(topology.Switches))
	for _, home := range sortedSwitchIDs(topology) {
		if home == from {
			continue
		}
		for _, prefix := range topology.Switches[home].Prefixes {
			dsts = append(dsts, destination{prefix: prefix, home: home})
		}
	}
	slices.SortFunc(dsts, func(a, b destination) int {
		if c := a.prefix.Addr().Compare(b.prefix.Addr()); c != 0 {
			return c
		}
		return a.prefix.Bits() - b.prefix.Bits()
	})
	return dsts
}

func sortedTors(topology *models.Topology) []*models.Switch {
	tors := make([]*models.Switch, 0, len(topology.Switches))
	for _, id := range sortedSwitchIDs(topology) {
		if sw := topology.Switches[id]; sw.TorID != 0 {
			tors = append(tors, sw)
		}
	}
	return tors
}

// equalCostNextHops returns the links of sw lying on shortest paths to the
// home switch, in ascending port order. Bucket index equals slice index.
func equalCostNextHops(
	topology *models.Topology,
	dist map[models.SwitchID]map[models.SwitchID]int,
	sw *models.Switch,
	home models.SwitchID,
) ([]models.NextHop, error) {
	own, reachable := dist[sw.ID][home]
	if !reachable {
		return nil, &models.ConfigError{
			Field: "topology",
			Err:   fmt.Errorf("switch %s cannot reach %s", sw.ID, home),
		}
	}
	links := slices.Clone(sw.Links)
	slices.SortFunc(links, func(a, b models.Link) int {
		return int(a.Port) - int(b.Port)
	})

	nextHops := make([]models.NextHop, 0, len(links))
	for _, link := range links {
		neighborDist, ok := dist[link.Neighbor][home]
		if !ok {
			continue
		}
		if neighborDist+1 == own {
			nextHops = append(nextHops, models.NextHop{Port: link.Port, MAC: link.NeighborMAC})
		}
	}
	if len(nextHops) == 0 {
		return nil, &models.ConfigError{
			Field: "topology",
			Err:   fmt.Errorf("switch %s has no next hop toward %s", sw.ID, home),
		}
	}
	return nextHops, nil
}

func shortestPathDistances(topology *models.Topology) (map[models.SwitchID]map[models.SwitchID]int, error) {
	dist := make(map[models.SwitchID]map[models.SwitchID]int, len(topology.Switches))
	for id := range topology.Switches {
		dist[id] = bfsFrom(topology, id)
	}
	return dist, nil
}

func bfsFrom(topology *models.Topology, src models.SwitchID) map[models.SwitchID]int {
	dist := map[models.SwitchID]int{src: 0}
	queue := []models.SwitchID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, link := range topology.Switches[cur].Links {
			if _, seen := dist[link.Neighbor]; seen {
				continue
			}
			dist[link.Neighbor] = dist[cur] + 1
			queue = append(queue, link.Neighbor)
		}
	}
	return dist
}
