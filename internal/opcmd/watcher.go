// Package opcmd delivers operator commands published in etcd to the
// running session. The only command today is a full table reset, which is
// the one way a clearTable ever happens.
package opcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hulanet/fabric-control/internal/models"
)

// CommandPrefix is the etcd keyspace commands are published under; the key
// suffix names the target switch.
const CommandPrefix = "/fabric-control/commands/"

type Command struct {
	Table string `json:"table"`
	Op    string `json:"op"`
}

type CommandHandler interface {
	HandleCommand(ctx context.Context, switchID models.SwitchID, cmd Command) error
}

type Watcher struct {
	handler      CommandHandler
	watcher      clientv3.Watcher
	lastRevision int64
}

func NewWatcher(handler CommandHandler, watcher clientv3.Watcher) *Watcher {
	return &Watcher{
		handler: handler,
		watcher: watcher,
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	ctx = clientv3.WithRequireLeader(ctx)
	watch := func(rev int64) clientv3.WatchChan {
		return w.watcher.Watch(
			ctx,
			CommandPrefix,
			clientv3.WithRev(rev),
			clientv3.WithPrefix(),
			clientv3.WithCreatedNotify(),
			clientv3.WithFilterDelete(),
		)
	}
	var (
		watcherChan = watch(w.lastRevision)
		logger      = log.With().Str("component", "opcmd-watcher").Logger()
	)
	for {
		select {
		case event, ok := <-watcherChan:
			if !ok {
				logger.Info().Msg("watcher channel closed")
				return nil
			}
			if event.Canceled {
				logger.Error().Err(event.Err()).Msg("watcher failure: canceled, retry")
				watcherChan = watch(w.lastRevision)
				continue
			}
			if event.Err() != nil {
				logger.Error().Err(event.Err()).Msg("got unexpected watch error")
				continue
			}
			w.lastRevision = event.Header.Revision
			if event.IsProgressNotify() {
				continue
			}
			for _, kv := range event.Events {
				if err := w.handleEvent(ctx, kv.Kv.Key, kv.Kv.Value); err != nil {
					logger.Error().Err(err).Msgf("skipping operator command %s", kv.Kv.Key)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, key []byte, value []byte) error {
	switchID := strings.TrimPrefix(string(key), CommandPrefix)
	if switchID == "" || switchID == string(key) {
		return fmt.Errorf("command key %q does not name a switch", key)
	}
	cmd := Command{}
	if err := json.Unmarshal(value, &cmd); err != nil {
		return fmt.Errorf("failed to decode operator command: %w", err)
	}
	return w.handler.HandleCommand(ctx, models.SwitchID(switchID), cmd)
}
