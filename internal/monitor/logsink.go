package monitor

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSink prints records to the session log, for local runs without a
// kafka broker.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, records []Record) error {
	for _, record := range records {
		switch record.Kind {
		case KindDivergence:
			log.Warn().Msgf("divergence on %s: %s %s key=%s: %s",
				record.Switch, record.Op, record.Table, record.Key, record.Detail)
		default:
			log.Info().Msgf("register reading on %s: tor=%d util=%d port=%d ts=%d",
				record.Switch, record.DstTor, record.Util, record.Port, record.ProbeTs)
		}
	}
	return nil
}
