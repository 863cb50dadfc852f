package hula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hulanet/fabric-control/internal/models"
)

func TestObserveFirstReadingAccepted(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewRegisterModel(500 * time.Millisecond)
	m.now = func() time.Time { return clock }

	reading := models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock}
	require.True(t, m.Observe("l1", 3, reading))

	got, err := m.Fresh("l1", 3)
	require.NoError(t, err)
	require.Equal(t, reading, got)
}

func TestObserveRejectsOlderTimestamps(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewRegisterModel(500 * time.Millisecond)
	m.now = func() time.Time { return clock }

	require.True(t, m.Observe("l1", 3, models.RegisterReading{Util: 80, Port: 1, Timestamp: 100, SeenAt: clock}))

	// Equal and older probe timestamps never overwrite, even with a
	// better utilization.
	require.False(t, m.Observe("l1", 3, models.RegisterReading{Util: 5, Port: 2, Timestamp: 100, SeenAt: clock}))
	require.False(t, m.Observe("l1", 3, models.RegisterReading{Util: 5, Port: 2, Timestamp: 99, SeenAt: clock}))

	got, err := m.Fresh("l1", 3)
	require.NoError(t, err)
	require.Equal(t, uint16(1), got.Port)
}

func TestObserveRejectsWorseUtilWhileFresh(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewRegisterModel(500 * time.Millisecond)
	m.now = func() time.Time { return clock }

	require.True(t, m.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 2, Timestamp: 100, SeenAt: clock}))
	require.False(t, m.Observe("l1", 3, models.RegisterReading{Util: 90, Port: 1, Timestamp: 101, SeenAt: clock}))

	// Equal utilization on a newer probe is accepted.
	require.True(t, m.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 1, Timestamp: 102, SeenAt: clock}))
}

func TestObserveDecayAcceptsWorsePath(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewRegisterModel(500 * time.Millisecond)
	m.now = func() time.Time { return clock }

	require.True(t, m.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 2, Timestamp: 100, SeenAt: clock}))

	// Once the stored best has aged out, a worse but newer reading wins.
	clock = clock.Add(time.Second)
	worse := models.RegisterReading{Util: 90, Port: 1, Timestamp: 101, SeenAt: clock}
	require.True(t, m.Observe("l1", 3, worse))

	got, err := m.Fresh("l1", 3)
	require.NoError(t, err)
	require.Equal(t, worse, got)
}

func TestFreshAgesOut(t *testing.T) {
	clock := time.Unix(1000, 0)
	m := NewRegisterModel(500 * time.Millisecond)
	m.now = func() time.Time { return clock }

	_, err := m.Fresh("l1", 3)
	require.ErrorIs(t, err, models.ErrStaleReading)

	require.True(t, m.Observe("l1", 3, models.RegisterReading{Util: 20, Port: 2, Timestamp: 100, SeenAt: clock}))
	_, err = m.Fresh("l1", 3)
	require.NoError(t, err)

	clock = clock.Add(501 * time.Millisecond)
	_, err = m.Fresh("l1", 3)
	require.ErrorIs(t, err, models.ErrStaleReading)
}
