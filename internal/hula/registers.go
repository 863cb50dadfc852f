// Package hula holds the control-plane half of the adaptive routing
// protocol: the read-back model of the per-destination best-path registers
// and the flowlet controller that turns register readings into routing
// intents.
package hula

import (
	"sync"
	"time"

	"github.com/hulanet/fabric-control/internal/models"
)

type regKey struct {
	switchID models.SwitchID
	dstTor   uint32
}

// RegisterModel mirrors the per-(switch, destination ToR) best-path
// registers on the control-plane side. Entries are created lazily on the
// first accepted reading and never deleted; staleness is handled by aging,
// not removal.
type RegisterModel struct {
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	readings map[regKey]models.RegisterReading
}

func NewRegisterModel(staleAfter time.Duration) *RegisterModel {
	return &RegisterModel{
		staleAfter: staleAfter,
		now:        time.Now,
		readings:   make(map[regKey]models.RegisterReading, 64),
	}
}

// Observe applies the register update policy to one read-back and reports
// whether it was accepted. A reading is accepted only if its probe
// timestamp is strictly newer than the stored one AND it is the first
// observation, carries a utilization no worse than the stored best, or the
// stored entry has aged past the staleness window (decay).
func (m *RegisterModel) Observe(switchID models.SwitchID, dstTor uint32, reading models.RegisterReading) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := regKey{switchID: switchID, dstTor: dstTor}
	cur, exists := m.readings[key]
	if !exists {
		m.readings[key] = reading
		return true
	}
	if reading.Timestamp <= cur.Timestamp {
		return false
	}
	if reading.Util > cur.Util && !m.staleLocked(cur) {
		return false
	}
	m.readings[key] = reading
	return true
}

// Fresh returns the current reading for a destination, or ErrStaleReading
// when there is none or the last accepted one has aged out. A stale
// reading is "unknown", never an input to path selection.
func (m *RegisterModel) Fresh(switchID models.SwitchID, dstTor uint32) (models.RegisterReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.readings[regKey{switchID: switchID, dstTor: dstTor}]
	if !exists || m.staleLocked(cur) {
		return models.RegisterReading{}, models.ErrStaleReading
	}
	return cur, nil
}

func (m *RegisterModel) staleLocked(reading models.RegisterReading) bool {
	return m.now().Sub(reading.SeenAt) > m.staleAfter
}
