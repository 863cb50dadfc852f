package switchagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hulanet/fabric-control/internal/models"
)

// Pool keeps one agent handle per switch and dials lazily. Dialing happens
// under a per-switch lock: an unreachable agent stalls only callers asking
// for that switch, never the handles of healthy ones. A single connection
// must never be used by two tasks concurrently; the Agent serializes on
// its own mutex, so handing the same handle to the reconciler and the
// register poller is safe.
type Pool struct {
	dialTimeout time.Duration
	addrs       map[models.SwitchID]string
	dial        func(ctx context.Context, switchID models.SwitchID, addr string, timeout time.Duration) (*Agent, error)

	mu      sync.Mutex
	entries map[models.SwitchID]*poolEntry
}

type poolEntry struct {
	mu     sync.Mutex
	client *Agent
}

func NewPool(topology *models.Topology, dialTimeout time.Duration) *Pool {
	addrs := make(map[models.SwitchID]string, len(topology.Switches))
	for id, sw := range topology.Switches {
		addrs[id] = sw.AgentAddr
	}
	return &Pool{
		dialTimeout: dialTimeout,
		addrs:       addrs,
		dial:        Dial,
		entries:     make(map[models.SwitchID]*poolEntry, len(addrs)),
	}
}

// entry returns the per-switch slot, creating it on first use. The pool
// mutex guards only the map; it is never held across a dial.
func (p *Pool) entry(switchID models.SwitchID) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, exists := p.entries[switchID]
	if !exists {
		e = &poolEntry{}
		p.entries[switchID] = e
	}
	return e
}

func (p *Pool) Get(ctx context.Context, switchID models.SwitchID) (Client, error) {
	addr, exists := p.addrs[switchID]
	if !exists {
		return nil, &models.ConnectError{
			Switch: switchID,
			Err:    fmt.Errorf("switch is not in the topology"),
		}
	}

	e := p.entry(switchID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}
	client, err := p.dial(ctx, switchID, addr, p.dialTimeout)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// Invalidate drops a broken handle so the next Get redials.
func (p *Pool) Invalidate(switchID models.SwitchID) {
	e := p.entry(switchID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return
	}
	if err := e.client.Close(); err != nil {
		log.Warn().Err(err).Msgf("error closing connection to switch %s", switchID)
	}
	e.client = nil
}

func (p *Pool) Close() {
	p.mu.Lock()
	entries := make(map[models.SwitchID]*poolEntry, len(p.entries))
	for switchID, e := range p.entries {
		entries[switchID] = e
	}
	p.mu.Unlock()

	for switchID, e := range entries {
		e.mu.Lock()
		if e.client != nil {
			if err := e.client.Close(); err != nil {
				log.Warn().Err(err).Msgf("error closing connection to switch %s", switchID)
			}
			e.client = nil
		}
		e.mu.Unlock()
	}
}
