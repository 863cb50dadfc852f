package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/rs/zerolog"

	"github.com/hulanet/fabric-control/internal/metrics"
	"github.com/hulanet/fabric-control/internal/models"
)

// FrameSender puts a ready link-layer frame on the wire.
type FrameSender interface {
	Send(frame []byte) error
	Close() error
}

// Engine periodically injects one probe per descriptor. A single task
// serves all descriptors: the loop ticks at the finest configured period
// and each tick sends the probes that have come due.
type Engine struct {
	descriptors []models.ProbeDescriptor
	sender      FrameSender
	metrics     metrics.Metrics
	log         zerolog.Logger

	tick time.Duration
	now  func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(
	descriptors []models.ProbeDescriptor,
	sender FrameSender,
	m metrics.Metrics,
	logger zerolog.Logger,
) (*Engine, error) {
	if len(descriptors) == 0 {
		return nil, &models.ConfigError{Field: "probes", Err: fmt.Errorf("no probe descriptors configured")}
	}
	tick := descriptors[0].Period
	for _, d := range descriptors {
		if d.Period <= 0 {
			return nil, &models.ConfigError{
				Field: "probes",
				Err:   fmt.Errorf("probe period must be positive, got %s for tor %d", d.Period, d.DstTor),
			}
		}
		if d.Period < tick {
			tick = d.Period
		}
	}
	return &Engine{
		descriptors: descriptors,
		sender:      sender,
		metrics:     m,
		log:         logger.With().Str("component", "probe-engine").Logger(),
		tick:        tick,
		now:         time.Now,
	}, nil
}

// Start launches the injection loop. Injection stops when ctx is canceled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)
	e.log.Info().Msgf("probe injection started: %d descriptors, tick %s", len(e.descriptors), e.tick)
}

// Stop halts injection before the next tick boundary and joins the loop:
// no packet is sent after Stop returns.
func (e *Engine) Stop() {
	e.cancel()
	<-e.done
	e.log.Info().Msg("probe injection stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	nextDue := make([]time.Time, len(e.descriptors))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := e.now()
		for i, descriptor := range e.descriptors {
			if now.Before(nextDue[i]) {
				continue
			}
			if err := e.sendProbe(descriptor, now); err != nil {
				e.metrics.Increment("probes.send_errors")
				e.log.Error().Err(err).Msgf("failed to send probe to tor %d", descriptor.DstTor)
				continue
			}
			e.metrics.Increment("probes.sent")
			nextDue[i] = now.Add(descriptor.Period)
		}
	}
}

func (e *Engine) sendProbe(descriptor models.ProbeDescriptor, now time.Time) error {
	frame, err := BuildProbeFrame(descriptor, now)
	if err != nil {
		return err
	}
	return e.sender.Send(frame)
}

// BuildProbeFrame serializes one probe. Hop count and path utilization
// start at zero; the dataplane mutates them as the probe is forwarded.
func BuildProbeFrame(descriptor models.ProbeDescriptor, now time.Time) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{
			SrcMAC:       descriptor.SrcMAC,
			DstMAC:       descriptor.DstMAC,
			EthernetType: layers.EthernetType(EtherTypeHULA),
		},
		&HULA{
			Type:      MsgProbe,
			Timestamp: uint32(now.Unix()),
			DstTor:    descriptor.DstTor,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize probe frame: %w", err)
	}
	return buf.Bytes(), nil
}
