// Package reconciler brings a switch's live match-action tables into
// agreement with its desired routing intent.
package reconciler

import (
	"context"
	"fmt"
	"slices"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"

	"github.com/hulanet/fabric-control/internal/metrics"
	"github.com/hulanet/fabric-control/internal/models"
	"github.com/hulanet/fabric-control/internal/store"
	"github.com/hulanet/fabric-control/internal/switchagent"
)

type ClientPool interface {
	Get(ctx context.Context, switchID models.SwitchID) (switchagent.Client, error)
	Invalidate(switchID models.SwitchID)
}

// DivergenceReporter receives entries that could not be applied after all
// retries. Reconciliation continues without them: partial routing state is
// preferable to none for the unaffected prefixes.
type DivergenceReporter interface {
	RecordDivergence(switchID models.SwitchID, table string, op string, key string, err error)
}

type appliedEntry struct {
	match  switchagent.MatchKey
	action switchagent.Action
	handle switchagent.EntryHandle
}

// Reconciler drives one switch. Match-action tables do not support an
// efficient read-back of all entries, so the set applied so far is tracked
// locally and diffed against snapshots of the desired intent.
type Reconciler struct {
	switchID models.SwitchID
	pool     ClientPool
	stor     *store.Store
	reporter DivergenceReporter
	metrics  metrics.Metrics
	log      zerolog.Logger
	attempts uint

	applied map[string]map[string]appliedEntry
	resetCh chan string
}

func New(
	switchID models.SwitchID,
	pool ClientPool,
	stor *store.Store,
	reporter DivergenceReporter,
	retryAttempts uint,
	m metrics.Metrics,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		switchID: switchID,
		pool:     pool,
		stor:     stor,
		reporter: reporter,
		metrics:  m,
		attempts: retryAttempts,
		log: logger.With().
			Str("component", "reconciler").
			Str("switch", string(switchID)).
			Logger(),
		applied: make(map[string]map[string]appliedEntry, 4),
		resetCh: make(chan string, 16),
	}
}

// RequestFullReset schedules a clearTable of one logical table. Full
// resets happen only on explicit operator request, never as part of
// incremental reconciliation.
func (r *Reconciler) RequestFullReset(table string) {
	select {
	case r.resetCh <- table:
	default:
		r.log.Warn().Msgf("full-reset queue is full, dropping reset of %q", table)
	}
}

func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case table := <-r.resetCh:
			if err := r.fullReset(ctx, table); err != nil {
				r.log.Error().Err(err).Msgf("full reset of %q failed", table)
			}
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				// This switch may be unreachable; others keep converging.
				r.metrics.Increment("reconcile.pass_errors")
				r.log.Error().Err(err).Msg("reconciliation pass failed, will retry on next tick")
				r.pool.Invalidate(r.switchID)
			}
		}
	}
}

// ReconcileOnce diffs the desired intent against the locally tracked
// applied set and issues the minimal add/delete operations, additions
// first so no destination prefix is ever briefly unrouted. Entries whose
// match key stays but whose action changed are replaced in place
// (delete+add) between the two phases. Running twice against an unchanged
// intent issues zero operations.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	intent, exists := r.stor.Snapshot(r.switchID)
	if !exists {
		return nil
	}
	client, err := r.pool.Get(ctx, r.switchID)
	if err != nil {
		return err
	}
	passID, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("failed to generate pass id: %w", err)
	}

	desired := desiredEntries(intent)
	started := time.Now()
	ops := 0
	for _, table := range tableOrder {
		appliedTbl := r.appliedTable(table)
		desiredTbl := desired[table]

		for _, key := range sortedKeys(desiredTbl) {
			if _, done := appliedTbl[key]; done {
				continue
			}
			ops++
			r.addEntry(ctx, client, table, key, desiredTbl[key])
		}
		for _, key := range sortedKeys(desiredTbl) {
			cur, done := appliedTbl[key]
			if !done || cur.action.Equal(desiredTbl[key].action) {
				continue
			}
			ops++
			r.replaceEntry(ctx, client, table, key, cur, desiredTbl[key])
		}
		for _, key := range sortedKeys(appliedTbl) {
			if _, wanted := desiredTbl[key]; wanted {
				continue
			}
			ops++
			r.deleteEntry(ctx, client, table, key, appliedTbl[key])
		}
	}
	if ops > 0 {
		r.metrics.Duration("reconcile.pass", time.Since(started))
		r.log.Info().Msgf("pass %s: generation %d, %d table operations", passID, intent.Generation, ops)
	}
	return nil
}

func (r *Reconciler) appliedTable(table string) map[string]appliedEntry {
	tbl, exists := r.applied[table]
	if !exists {
		tbl = make(map[string]appliedEntry, 16)
		r.applied[table] = tbl
	}
	return tbl
}

func (r *Reconciler) addEntry(
	ctx context.Context,
	client switchagent.Client,
	table string,
	key string,
	entry desiredEntry,
) {
	handle, err := retry.DoWithData(
		func() (switchagent.EntryHandle, error) {
			return client.AddEntry(ctx, table, entry.match, entry.action)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			r.log.Warn().Err(err).Msgf("addEntry to %q failed, attempt %d", table, attempt)
		}),
	)
	if err != nil {
		r.markDivergent(table, "addEntry", key, err)
		return
	}
	r.metrics.Increment("reconcile.adds")
	r.applied[table][key] = appliedEntry{match: entry.match, action: entry.action, handle: handle}
}

func (r *Reconciler) deleteEntry(
	ctx context.Context,
	client switchagent.Client,
	table string,
	key string,
	entry appliedEntry,
) {
	err := retry.Do(
		func() error {
			return client.DeleteEntry(ctx, table, entry.handle)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			r.log.Warn().Err(err).Msgf("deleteEntry from %q failed, attempt %d", table, attempt)
		}),
	)
	if err != nil {
		r.markDivergent(table, "deleteEntry", key, err)
		return
	}
	r.metrics.Increment("reconcile.deletes")
	delete(r.applied[table], key)
}

// replaceEntry handles a changed action under an unchanged match key. The
// switch rejects duplicate keys, so the stale entry goes first; the gap is
// one round trip.
func (r *Reconciler) replaceEntry(
	ctx context.Context,
	client switchagent.Client,
	table string,
	key string,
	old appliedEntry,
	want desiredEntry,
) {
	r.deleteEntry(ctx, client, table, key, old)
	if _, stillThere := r.applied[table][key]; stillThere {
		return
	}
	r.addEntry(ctx, client, table, key, want)
}

func (r *Reconciler) fullReset(ctx context.Context, table string) error {
	if !slices.Contains(tableOrder, table) {
		return fmt.Errorf("unknown table %q", table)
	}
	client, err := r.pool.Get(ctx, r.switchID)
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error {
			return client.ClearTable(ctx, table)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	// Forget the applied set so the next pass reinstalls everything.
	delete(r.applied, table)
	r.metrics.Increment("reconcile.full_resets")
	r.log.Warn().Msgf("cleared table %q on operator request", table)
	return nil
}

func (r *Reconciler) markDivergent(table string, op string, key string, err error) {
	r.metrics.Increment("reconcile.divergent")
	r.log.Error().Err(err).Msgf("entry %s in %q is divergent after %d attempts", key, table, r.attempts)
	r.reporter.RecordDivergence(r.switchID, table, op, key, err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
