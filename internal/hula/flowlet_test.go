package hula

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hulanet/fabric-control/internal/metrics"
	"github.com/hulanet/fabric-control/internal/models"
	"github.com/hulanet/fabric-control/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

// leafTopology is one leaf with two spine uplinks and one remote ToR
// homing a single prefix.
func leafTopology(t *testing.T) *models.Topology {
	t.Helper()
	return &models.Topology{
		Switches: map[models.SwitchID]*models.Switch{
			"l1": {
				ID: "l1",
				Links: []models.Link{
					{Port: 1, Neighbor: "s1", NeighborMAC: mustMAC(t, "00:00:00:01:01:00")},
					{Port: 2, Neighbor: "s2", NeighborMAC: mustMAC(t, "00:00:00:01:02:00")},
				},
			},
			"l3": {
				ID:       "l3",
				TorID:    3,
				Prefixes: []netip.Prefix{netip.MustParsePrefix("10.0.3.0/24")},
			},
		},
	}
}

func newFlowletFixture(t *testing.T, staleAfter, timeout time.Duration) (*store.Store, *RegisterModel, *Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	stor := store.New()
	model := NewRegisterModel(staleAfter)
	model.now = clock.now
	ctrl := NewController(stor, leafTopology(t), model, timeout, metrics.Nop{}, zerolog.Nop())
	ctrl.now = clock.now
	return stor, model, ctrl, clock
}

func installedFlowlet(t *testing.T, stor *store.Store, switchID models.SwitchID) models.FlowletEntry {
	t.Helper()
	snap, exists := stor.Snapshot(switchID)
	require.True(t, exists)
	require.Len(t, snap.Flowlets, 1)
	return snap.Flowlets[0]
}

func TestInitialRouteInstalled(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, time.Hour, 100*time.Millisecond)

	model.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})

	entry := installedFlowlet(t, stor, "l1")
	require.Equal(t, netip.MustParsePrefix("10.0.3.0/24"), entry.Prefix)
	require.Equal(t, uint16(1), entry.Port)
	require.Equal(t, mustMAC(t, "00:00:00:01:01:00"), entry.MAC)
}

func TestStaleReadingInstallsNothing(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, 500*time.Millisecond, 100*time.Millisecond)

	model.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock.now()})
	clock.advance(time.Second)
	ctrl.Evaluate("l1", 3, time.Time{})

	_, exists := stor.Snapshot("l1")
	require.False(t, exists)
}

func TestUnknownPortReadingIgnored(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, time.Hour, 100*time.Millisecond)

	// Port 9 has no link on l1.
	model.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 9, Timestamp: 100, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})

	_, exists := stor.Snapshot("l1")
	require.False(t, exists)
}

func TestEqualUtilizationNeverSwitches(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, time.Hour, 100*time.Millisecond)

	model.Observe("l1", 3, models.RegisterReading{Util: 50, Port: 1, Timestamp: 100, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})
	require.Equal(t, uint16(1), installedFlowlet(t, stor, "l1").Port)

	// An equally utilized alternative, evaluated well past the flowlet
	// timeout, still keeps the existing path.
	model.Observe("l1", 3, models.RegisterReading{Util: 50, Port: 2, Timestamp: 101, SeenAt: clock.now()})
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		ctrl.Evaluate("l1", 3, time.Time{})
	}
	require.Equal(t, uint16(1), installedFlowlet(t, stor, "l1").Port)
}

func TestSwitchCommitsOnlyAfterTimeout(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, time.Hour, 100*time.Millisecond)

	model.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})
	routedGen := installedGeneration(t, stor, "l1")

	// A strictly better path makes the switch pending, not immediate.
	model.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 2, Timestamp: 101, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})
	require.Equal(t, uint16(1), installedFlowlet(t, stor, "l1").Port)

	clock.advance(50 * time.Millisecond)
	ctrl.Evaluate("l1", 3, time.Time{})
	require.Equal(t, uint16(1), installedFlowlet(t, stor, "l1").Port)

	clock.advance(100 * time.Millisecond)
	ctrl.Evaluate("l1", 3, time.Time{})
	entry := installedFlowlet(t, stor, "l1")
	require.Equal(t, uint16(2), entry.Port)
	require.Equal(t, mustMAC(t, "00:00:00:01:02:00"), entry.MAC)

	// The whole switch was exactly one intent update.
	require.Equal(t, routedGen+1, installedGeneration(t, stor, "l1"))
}

func TestRecentTrafficDefersSwitch(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, time.Hour, 100*time.Millisecond)

	model.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})
	model.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 2, Timestamp: 101, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})

	// Traffic seen after the switch went pending restarts the quiet
	// period from the activity timestamp.
	lastActivity := clock.now().Add(100 * time.Millisecond)
	clock.advance(150 * time.Millisecond)
	ctrl.Evaluate("l1", 3, lastActivity)
	require.Equal(t, uint16(1), installedFlowlet(t, stor, "l1").Port)

	clock.advance(100 * time.Millisecond)
	ctrl.Evaluate("l1", 3, lastActivity)
	require.Equal(t, uint16(2), installedFlowlet(t, stor, "l1").Port)
}

func TestStaleCandidateFallsBack(t *testing.T) {
	stor, model, ctrl, clock := newFlowletFixture(t, 500*time.Millisecond, 100*time.Millisecond)

	model.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})
	model.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 2, Timestamp: 101, SeenAt: clock.now()})
	ctrl.Evaluate("l1", 3, time.Time{})

	// The candidate's justification ages out before the timeout elapses:
	// the installed path stays, however long we wait.
	clock.advance(time.Second)
	ctrl.Evaluate("l1", 3, time.Time{})
	clock.advance(time.Second)
	ctrl.Evaluate("l1", 3, time.Time{})
	require.Equal(t, uint16(1), installedFlowlet(t, stor, "l1").Port)
}

func installedGeneration(t *testing.T, stor *store.Store, switchID models.SwitchID) uint64 {
	t.Helper()
	snap, exists := stor.Snapshot(switchID)
	require.True(t, exists)
	return snap.Generation
}
