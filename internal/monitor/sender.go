package monitor

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/hulanet/fabric-control/internal/models"
)

type Sink interface {
	Publish(ctx context.Context, records []Record) error
}

// Sender decouples the probing and reconciliation tasks from the
// monitoring sink: records are enqueued without blocking and shipped by a
// dedicated loop. Records the sink rejects go to an unsent queue that is
// flushed on a ticker.
type Sender struct {
	events chan Record
	sink   Sink
	now    func() time.Time

	ttlTicker   *time.Ticker
	unsentGuard sync.Mutex
	unsent      []Record
}

func NewSender(sink Sink, buffer int, retryInterval time.Duration) *Sender {
	return &Sender{
		events:    make(chan Record, buffer),
		sink:      sink,
		now:       time.Now,
		ttlTicker: time.NewTicker(retryInterval),
		unsent:    make([]Record, 0),
	}
}

// RecordRegister enqueues an accepted register reading.
func (s *Sender) RecordRegister(switchID models.SwitchID, dstTor uint32, reading models.RegisterReading) {
	s.enqueue(Record{
		Kind:       KindRegister,
		Switch:     switchID,
		ObservedAt: reading.SeenAt,
		DstTor:     dstTor,
		Util:       reading.Util,
		Port:       reading.Port,
		ProbeTs:    reading.Timestamp,
	})
}

// RecordDivergence enqueues a failed table operation report.
func (s *Sender) RecordDivergence(switchID models.SwitchID, table string, op string, key string, err error) {
	s.enqueue(Record{
		Kind:       KindDivergence,
		Switch:     switchID,
		ObservedAt: s.now(),
		Table:      table,
		Op:         op,
		Key:        key,
		Detail:     err.Error(),
	})
}

func (s *Sender) enqueue(record Record) {
	select {
	case s.events <- record:
	default:
		log.Warn().Msgf("monitoring queue is full, dropping %s record for %s", record.Kind, record.Switch)
	}
}

func (s *Sender) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ttlTicker.C:
			s.sendUnsent(ctx)
		case record, ok := <-s.events:
			if !ok {
				return
			}
			err := retry.Do(
				func() error {
					return s.sink.Publish(ctx, []Record{record})
				},
				retry.Context(ctx),
				retry.Attempts(3),
			)
			if err != nil {
				log.Error().Err(err).Msg("failed to publish monitoring record, putting it into unsent queue")
				s.unsentGuard.Lock()
				s.unsent = append(s.unsent, record)
				s.unsentGuard.Unlock()
			}
		}
	}
}

func (s *Sender) sendUnsent(ctx context.Context) {
	s.unsentGuard.Lock()
	defer s.unsentGuard.Unlock()

	if len(s.unsent) == 0 {
		return
	}
	if err := s.sink.Publish(ctx, s.unsent); err != nil {
		log.Warn().Err(err).Msgf("failed to flush %d unsent monitoring records", len(s.unsent))
		return
	}
	s.unsent = s.unsent[:0]
}
