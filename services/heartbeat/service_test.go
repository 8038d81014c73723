package heartbeat

import (
	"context"
	"testing"
	"time"

	"sqmcode-go/bus"
	"sqmcode-go/types"
)

func TestWatchdog_FiresWhenValuesStop(t *testing.T) {
	conn := bus.NewBus(8).NewConnection("hb_test")
	stale := make(chan struct{}, 2)
	s := New(func() { stale <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, conn); err != nil {
		t.Fatal(err)
	}

	conn.Publish(conn.NewMessage(topicConfigHeartbeat, types.HeartbeatConfig{
		Interval: types.Duration(time.Hour),
		Watchdog: types.Duration(80 * time.Millisecond),
	}, true))

	// Values arriving faster than the watchdog keep it quiet.
	for i := 0; i < 5; i++ {
		conn.Publish(conn.NewMessage(topicSQMValue, types.SQMValue{Magnitude: 21}, true))
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case <-stale:
		t.Fatal("watchdog fired while values were flowing")
	default:
	}

	select {
	case <-stale:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	select {
	case <-stale:
		t.Fatal("watchdog fired twice")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatchdog_DisabledByDefault(t *testing.T) {
	conn := bus.NewBus(8).NewConnection("hb_off")
	fired := make(chan struct{}, 1)
	s := New(func() { fired <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, conn)
	conn.Publish(conn.NewMessage(topicConfigHeartbeat, types.HeartbeatConfig{Interval: types.Duration(20 * time.Millisecond)}, true))

	states := conn.Subscribe(TopicState)
	select {
	case m := <-states.Channel():
		if st := m.Payload.(types.ServiceState); st.Status != "alive" {
			t.Fatalf("state = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat state")
	}
	select {
	case <-fired:
		t.Fatal("watchdog fired without a period")
	case <-time.After(100 * time.Millisecond):
	}
}
