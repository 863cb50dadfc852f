package ecmp

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hulanet/fabric-control/internal/models"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

// leafSpineTopology is two leaves behind two spines, the smallest fabric
// with real multipath.
func leafSpineTopology(t *testing.T) *models.Topology {
	t.Helper()
	return &models.Topology{
		Switches: map[models.SwitchID]*models.Switch{
			"l1": {
				ID:       "l1",
				TorID:    1,
				Prefixes: []netip.Prefix{netip.MustParsePrefix("10.0.1.0/24")},
				Links: []models.Link{
					{Port: 1, Neighbor: "s1", NeighborMAC: mustMAC(t, "00:00:00:02:01:00")},
					{Port: 2, Neighbor: "s2", NeighborMAC: mustMAC(t, "00:00:00:02:02:00")},
				},
			},
			"l3": {
				ID:       "l3",
				TorID:    3,
				Prefixes: []netip.Prefix{netip.MustParsePrefix("10.0.3.0/24")},
				Links: []models.Link{
					{Port: 1, Neighbor: "s1", NeighborMAC: mustMAC(t, "00:00:00:02:01:00")},
					{Port: 2, Neighbor: "s2", NeighborMAC: mustMAC(t, "00:00:00:02:02:00")},
				},
			},
			"s1": {
				ID: "s1",
				Links: []models.Link{
					{Port: 1, Neighbor: "l1", NeighborMAC: mustMAC(t, "00:00:00:01:01:00")},
					{Port: 2, Neighbor: "l3", NeighborMAC: mustMAC(t, "00:00:00:01:03:00")},
				},
			},
			"s2": {
				ID: "s2",
				Links: []models.Link{
					{Port: 1, Neighbor: "l1", NeighborMAC: mustMAC(t, "00:00:00:01:01:00")},
					{Port: 2, Neighbor: "l3", NeighborMAC: mustMAC(t, "00:00:00:01:03:00")},
				},
			},
		},
	}
}

func TestLeafSpreadsOverBothSpines(t *testing.T) {
	intents, err := Intents(leafSpineTopology(t))
	require.NoError(t, err)

	intent := intents["l1"]
	require.NotNil(t, intent)
	require.Len(t, intent.Groups, 1)

	group := intent.Groups[0]
	require.Equal(t, netip.MustParsePrefix("10.0.3.0/24"), group.Prefix)
	require.Equal(t, uint16(1), group.GroupID)
	require.Equal(t, []models.NextHop{
		{Port: 1, MAC: mustMAC(t, "00:00:00:02:01:00")},
		{Port: 2, MAC: mustMAC(t, "00:00:00:02:02:00")},
	}, group.NextHops)
}

func TestSpineGetsOneGroupPerRemotePrefix(t *testing.T) {
	intents, err := Intents(leafSpineTopology(t))
	require.NoError(t, err)

	intent := intents["s1"]
	require.Len(t, intent.Groups, 2)
	// Ordered by prefix, group identifiers dense from 1.
	require.Equal(t, netip.MustParsePrefix("10.0.1.0/24"), intent.Groups[0].Prefix)
	require.Equal(t, uint16(1), intent.Groups[0].GroupID)
	require.Equal(t, netip.MustParsePrefix("10.0.3.0/24"), intent.Groups[1].Prefix)
	require.Equal(t, uint16(2), intent.Groups[1].GroupID)

	// Spines sit one hop from each leaf: a single next hop per group.
	require.Len(t, intent.Groups[0].NextHops, 1)
	require.Equal(t, uint16(1), intent.Groups[0].NextHops[0].Port)
	require.Len(t, intent.Groups[1].NextHops, 1)
	require.Equal(t, uint16(2), intent.Groups[1].NextHops[0].Port)
}

func TestProbeForwardsUseLowestEqualCostPort(t *testing.T) {
	intents, err := Intents(leafSpineTopology(t))
	require.NoError(t, err)

	intent := intents["l1"]
	require.Len(t, intent.ProbeForwards, 1)
	require.Equal(t, models.ProbeForwardEntry{
		DstTor: 3,
		Port:   1,
		MAC:    mustMAC(t, "00:00:00:02:01:00"),
	}, intent.ProbeForwards[0])

	// Spines forward probes of both ToRs.
	require.Len(t, intents["s1"].ProbeForwards, 2)
}

func TestIntentsAreDeterministic(t *testing.T) {
	first, err := Intents(leafSpineTopology(t))
	require.NoError(t, err)
	second, err := Intents(leafSpineTopology(t))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestUnreachableDestinationIsRejected(t *testing.T) {
	topology := leafSpineTopology(t)
	topology.Switches["island"] = &models.Switch{
		ID:       "island",
		TorID:    9,
		Prefixes: []netip.Prefix{netip.MustParsePrefix("10.0.9.0/24")},
	}

	_, err := Intents(topology)
	require.Error(t, err)
	cfgErr := &models.ConfigError{}
	require.ErrorAs(t, err, &cfgErr)
}
