package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hulanet/fabric-control/internal/models"
)

type captureSink struct {
	mu      sync.Mutex
	failing bool
	records []Record
}

func (s *captureSink) Publish(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("broker unavailable")
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *captureSink) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func TestSenderPublishesRecords(t *testing.T) {
	sink := &captureSink{}
	sender := NewSender(sink, 16, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	sender.RecordRegister("l1", 3, models.RegisterReading{
		Util:      40,
		Port:      2,
		Timestamp: 1234,
		SeenAt:    time.Now(),
	})
	sender.RecordDivergence("l1", "flowlet_table", "addEntry", "lpm:0a000300/24", fmt.Errorf("agent error"))

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, KindRegister, sink.records[0].Kind)
	require.Equal(t, models.SwitchID("l1"), sink.records[0].Switch)
	require.Equal(t, uint16(40), sink.records[0].Util)
	require.Equal(t, KindDivergence, sink.records[1].Kind)
	require.Equal(t, "agent error", sink.records[1].Detail)
}

func TestSenderQueuesUnsentAndFlushesLater(t *testing.T) {
	sink := &captureSink{failing: true}
	sender := NewSender(sink, 16, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	sender.RecordDivergence("l1", "flowlet_table", "addEntry", "lpm:0a000300/24", fmt.Errorf("agent error"))

	// The record lands in the unsent queue once the retries are spent.
	require.Eventually(t, func() bool {
		sender.unsentGuard.Lock()
		defer sender.unsentGuard.Unlock()
		return len(sender.unsent) == 1
	}, 5*time.Second, time.Millisecond)

	// Recovery: the ticker flushes the queue.
	sink.setFailing(false)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestSenderDropsWhenQueueFull(t *testing.T) {
	// No Run loop draining: the channel fills and enqueue must not block.
	sender := NewSender(&captureSink{}, 1, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			sender.RecordDivergence("l1", "flowlet_table", "addEntry", "key", fmt.Errorf("agent error"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}
