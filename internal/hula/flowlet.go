package hula

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/hulanet/fabric-control/internal/metrics"
	"github.com/hulanet/fabric-control/internal/models"
	"github.com/hulanet/fabric-control/internal/store"
)

type routeState uint8

const (
	stateNoRoute routeState = iota
	stateRouted
	statePendingSwitch
)

type flowletKey struct {
	switchID models.SwitchID
	prefix   netip.Prefix
}

type flowletStatus struct {
	state routeState

	// installed path
	port uint16
	util uint16

	// candidate path while pending
	candidate    models.RegisterReading
	pendingSince time.Time
}

// Controller drives flowlet-table intents from register readings. Each
// (switch, destination prefix) runs the state machine
// NoRoute -> Routed -> PendingSwitch; a path switch is committed only
// after the flowlet inactivity timeout has elapsed with no traffic signal,
// so no flow is reordered mid-flowlet. Equal utilization never triggers a
// switch.
type Controller struct {
	stor     *store.Store
	topology *models.Topology
	model    *RegisterModel
	timeout  time.Duration
	metrics  metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	states map[flowletKey]*flowletStatus
}

func NewController(
	stor *store.Store,
	topology *models.Topology,
	model *RegisterModel,
	flowletTimeout time.Duration,
	m metrics.Metrics,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		stor:     stor,
		topology: topology,
		model:    model,
		timeout:  flowletTimeout,
		metrics:  m,
		log:      logger.With().Str("component", "flowlet-controller").Logger(),
		now:      time.Now,
		states:   make(map[flowletKey]*flowletStatus, 64),
	}
}

// Evaluate runs the state machine of every prefix homed on the given
// destination ToR, as seen from one switch. lastActivity is the
// controller-side time traffic toward the destination was last observed
// (zero time means none seen yet).
func (c *Controller) Evaluate(switchID models.SwitchID, dstTor uint32, lastActivity time.Time) {
	home, exists := c.topology.TorByID(dstTor)
	if !exists {
		return
	}
	reading, err := c.model.Fresh(switchID, dstTor)
	fresh := err == nil
	for _, prefix := range home.Prefixes {
		c.evaluatePrefix(switchID, prefix, reading, fresh, lastActivity)
	}
}

func (c *Controller) evaluatePrefix(
	switchID models.SwitchID,
	prefix netip.Prefix,
	reading models.RegisterReading,
	fresh bool,
	lastActivity time.Time,
) {
	key := flowletKey{switchID: switchID, prefix: prefix}
	st, exists := c.states[key]
	if !exists {
		st = &flowletStatus{state: stateNoRoute}
		c.states[key] = st
	}

	switch st.state {
	case stateNoRoute:
		// A stale reading never installs a route.
		if !fresh {
			return
		}
		if !c.install(switchID, prefix, reading.Port) {
			return
		}
		st.state = stateRouted
		st.port = reading.Port
		st.util = reading.Util
		c.log.Info().Msgf("installed initial route for %s on %s via port %d (util %d)",
			prefix, switchID, reading.Port, reading.Util)

	case stateRouted:
		// Unknown data: keep the last flowlet entry as-is.
		if !fresh {
			return
		}
		if reading.Port == st.port {
			st.util = reading.Util
			return
		}
		// Strictly lower only: equal utilization keeps the existing path.
		if reading.Util < st.util {
			st.state = statePendingSwitch
			st.candidate = reading
			st.pendingSince = c.now()
			c.log.Debug().Msgf("pending switch for %s on %s: port %d (util %d) -> port %d (util %d)",
				prefix, switchID, st.port, st.util, reading.Port, reading.Util)
		}

	case statePendingSwitch:
		if !fresh {
			// The candidate was justified by data that has gone stale;
			// fall back to the installed path.
			st.state = stateRouted
			return
		}
		if reading.Port == st.port {
			st.state = stateRouted
			st.util = reading.Util
			return
		}
		if reading.Util < st.util {
			st.candidate = reading
		} else {
			st.state = stateRouted
			return
		}
		quietSince := st.pendingSince
		if lastActivity.After(quietSince) {
			quietSince = lastActivity
		}
		if c.now().Sub(quietSince) < c.timeout {
			return
		}
		if !c.install(switchID, prefix, st.candidate.Port) {
			return
		}
		c.metrics.Increment("flowlet.path_switches")
		c.log.Info().Msgf("switched route for %s on %s: port %d -> port %d (util %d -> %d)",
			prefix, switchID, st.port, st.candidate.Port, st.util, st.candidate.Util)
		st.state = stateRouted
		st.port = st.candidate.Port
		st.util = st.candidate.Util
	}
}

// install emits one routing intent update replacing the flowlet entry of
// the prefix. The egress MAC comes from the topology link on the chosen
// port.
func (c *Controller) install(switchID models.SwitchID, prefix netip.Prefix, port uint16) bool {
	sw, exists := c.topology.Switches[switchID]
	if !exists {
		return false
	}
	link, exists := sw.LinkByPort(port)
	if !exists {
		c.log.Error().Msgf("register of %s names port %d with no link, ignoring reading", switchID, port)
		return false
	}
	c.stor.Update(switchID, func(intent *models.RoutingIntent) {
		intent.SetFlowlet(models.FlowletEntry{
			Prefix: prefix,
			Port:   port,
			MAC:    link.NeighborMAC,
		})
	})
	return true
}
