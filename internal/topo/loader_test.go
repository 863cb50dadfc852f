package topo

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hulanet/fabric-control/internal/models"
)

const validTopology = `{
	"switches": [
		{
			"switch_id": "l1",
			"agent_addr": "10.100.0.1:9090",
			"tor_id": 1,
			"prefixes": ["10.0.1.0/24"],
			"links": [
				{"port": 1, "neighbor": "s1", "neighbor_mac": "00:00:00:02:01:00"}
			]
		},
		{
			"switch_id": "s1",
			"agent_addr": "10.100.0.2:9090",
			"links": [
				{"port": 1, "neighbor": "l1", "neighbor_mac": "00:00:00:01:01:00"}
			]
		}
	],
	"probes": [
		{"dst_tor_id": 1, "src_mac": "00:00:00:09:09:00", "dst_mac": "00:00:00:01:01:00", "period_ms": 50}
	]
}`

func TestParseValidTopology(t *testing.T) {
	topology, err := Parse([]byte(validTopology))
	require.NoError(t, err)
	require.Len(t, topology.Switches, 2)

	l1 := topology.Switches["l1"]
	require.NotNil(t, l1)
	require.Equal(t, "10.100.0.1:9090", l1.AgentAddr)
	require.Equal(t, uint32(1), l1.TorID)
	require.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.1.0/24")}, l1.Prefixes)
	require.Len(t, l1.Links, 1)
	require.Equal(t, models.SwitchID("s1"), l1.Links[0].Neighbor)

	require.Len(t, topology.Probes, 1)
	require.Equal(t, uint32(1), topology.Probes[0].DstTor)
	require.Equal(t, 50*time.Millisecond, topology.Probes[0].Period)
}

func requireConfigError(t *testing.T, raw string) {
	t.Helper()
	_, err := Parse([]byte(raw))
	require.Error(t, err)
	cfgErr := &models.ConfigError{}
	require.ErrorAs(t, err, &cfgErr)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	requireConfigError(t, `{"switches": [{"switch_id": "l1", "color": "green"}]}`)
}

func TestParseRejectsEmptyTopology(t *testing.T) {
	requireConfigError(t, `{"switches": []}`)
}

func TestParseRejectsDuplicateSwitchID(t *testing.T) {
	requireConfigError(t, `{"switches": [
		{"switch_id": "l1"},
		{"switch_id": "l1"}
	]}`)
}

func TestParseRejectsUnknownNeighbor(t *testing.T) {
	requireConfigError(t, `{"switches": [
		{"switch_id": "l1", "links": [
			{"port": 1, "neighbor": "ghost", "neighbor_mac": "00:00:00:02:01:00"}
		]}
	]}`)
}

func TestParseRejectsDuplicatePort(t *testing.T) {
	requireConfigError(t, `{"switches": [
		{"switch_id": "l1", "links": [
			{"port": 1, "neighbor": "s1", "neighbor_mac": "00:00:00:02:01:00"},
			{"port": 1, "neighbor": "s2", "neighbor_mac": "00:00:00:02:02:00"}
		]},
		{"switch_id": "s1"},
		{"switch_id": "s2"}
	]}`)
}

func TestParseRejectsNonIPv4Prefix(t *testing.T) {
	requireConfigError(t, `{"switches": [
		{"switch_id": "l1", "tor_id": 1, "prefixes": ["2001:db8::/64"]}
	]}`)
}

func TestParseRejectsTorWithoutPrefixes(t *testing.T) {
	requireConfigError(t, `{"switches": [{"switch_id": "l1", "tor_id": 1}]}`)
}

func TestParseRejectsBadProbeDescriptors(t *testing.T) {
	// Zero period.
	requireConfigError(t, `{
		"switches": [{"switch_id": "l1", "tor_id": 1, "prefixes": ["10.0.1.0/24"]}],
		"probes": [{"dst_tor_id": 1, "src_mac": "00:00:00:09:09:00", "dst_mac": "00:00:00:01:01:00", "period_ms": 0}]
	}`)

	// Destination ToR not in the topology.
	requireConfigError(t, `{
		"switches": [{"switch_id": "l1", "tor_id": 1, "prefixes": ["10.0.1.0/24"]}],
		"probes": [{"dst_tor_id": 9, "src_mac": "00:00:00:09:09:00", "dst_mac": "00:00:00:01:01:00", "period_ms": 50}]
	}`)

	// Malformed source MAC.
	requireConfigError(t, `{
		"switches": [{"switch_id": "l1", "tor_id": 1, "prefixes": ["10.0.1.0/24"]}],
		"probes": [{"dst_tor_id": 1, "src_mac": "nonsense", "dst_mac": "00:00:00:01:01:00", "period_ms": 50}]
	}`)
}
