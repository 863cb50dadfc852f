package hula

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hulanet/fabric-control/internal/metrics"
	"github.com/hulanet/fabric-control/internal/models"
	"github.com/hulanet/fabric-control/internal/switchagent"
)

type ClientPool interface {
	Get(ctx context.Context, switchID models.SwitchID) (switchagent.Client, error)
	Invalidate(switchID models.SwitchID)
}

type Recorder interface {
	RecordRegister(switchID models.SwitchID, dstTor uint32, reading models.RegisterReading)
}

// Poller reads the best-path registers of every switch at a bounded
// interval, feeds accepted readings into the register model and runs the
// flowlet controller on the result. One switch's failure never stops the
// poll of the others.
type Poller struct {
	pool     ClientPool
	topology *models.Topology
	model    *RegisterModel
	flowlets *Controller
	recorder Recorder
	limiter  *rate.Limiter
	metrics  metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	// Flowlet activity is detected by the activity register moving
	// between polls and timestamped with the controller-side read time;
	// the switch's own clock never enters a comparison.
	lastFlowletTs map[regKey]uint32
	lastActivity  map[regKey]time.Time
}

func NewPoller(
	pool ClientPool,
	topology *models.Topology,
	model *RegisterModel,
	flowlets *Controller,
	recorder Recorder,
	pollInterval time.Duration,
	m metrics.Metrics,
	logger zerolog.Logger,
) *Poller {
	return &Poller{
		pool:     pool,
		topology: topology,
		model:    model,
		flowlets: flowlets,
		recorder: recorder,
		limiter:  rate.NewLimiter(rate.Every(pollInterval), 1),
		metrics:  m,
		log:      logger.With().Str("component", "register-poller").Logger(),
		now:      time.Now,

		lastFlowletTs: make(map[regKey]uint32, 64),
		lastActivity:  make(map[regKey]time.Time, 64),
	}
}

func (p *Poller) Run(ctx context.Context) error {
	for {
		err := p.limiter.Wait(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		p.pollOnce(ctx)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	tors := p.topology.TorIDs()
	slices.Sort(tors)

	for _, switchID := range sortedSwitchIDs(p.topology) {
		client, err := p.pool.Get(ctx, switchID)
		if err != nil {
			p.metrics.Increment("poll.connect_errors")
			p.log.Error().Err(err).Msgf("skipping register poll of switch %s", switchID)
			continue
		}
		if err := p.pollSwitch(ctx, switchID, client, tors); err != nil {
			p.metrics.Increment("poll.rpc_errors")
			p.log.Error().Err(err).Msgf("register poll of switch %s failed", switchID)
			p.pool.Invalidate(switchID)
		}
	}
}

func (p *Poller) pollSwitch(
	ctx context.Context,
	switchID models.SwitchID,
	client switchagent.Client,
	tors []uint32,
) error {
	sw := p.topology.Switches[switchID]
	for _, dstTor := range tors {
		if sw.TorID == dstTor {
			continue
		}
		util, err := client.ReadRegister(ctx, switchagent.RegisterPathUtil, dstTor)
		if err != nil {
			return err
		}
		port, err := client.ReadRegister(ctx, switchagent.RegisterBestPort, dstTor)
		if err != nil {
			return err
		}
		probeTs, err := client.ReadRegister(ctx, switchagent.RegisterUpdateTs, dstTor)
		if err != nil {
			return err
		}
		if probeTs != 0 {
			reading := models.RegisterReading{
				Util:      uint16(util),
				Port:      uint16(port),
				Timestamp: probeTs,
				SeenAt:    p.now(),
			}
			if p.model.Observe(switchID, dstTor, reading) {
				p.metrics.Increment("poll.readings_accepted")
				p.recorder.RecordRegister(switchID, dstTor, reading)
			}
		}

		activityTs, err := client.ReadRegister(ctx, switchagent.RegisterFlowletTime, dstTor)
		if err != nil {
			return err
		}
		key := regKey{switchID: switchID, dstTor: dstTor}
		if activityTs != 0 && activityTs != p.lastFlowletTs[key] {
			p.lastFlowletTs[key] = activityTs
			p.lastActivity[key] = p.now()
		}
		p.flowlets.Evaluate(switchID, dstTor, p.lastActivity[key])
	}
	return nil
}

func sortedSwitchIDs(topology *models.Topology) []models.SwitchID {
	ids := make([]models.SwitchID, 0, len(topology.Switches))
	for id := range topology.Switches {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
