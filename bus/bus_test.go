// bus/bus_test.go
package bus

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m, ok := <-sub.Channel():
		if !ok {
			t.Fatalf("%s: channel closed", sub.Topic())
		}
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("%s: no message", sub.Topic())
		return nil
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("%s: unexpected %s = %#v", sub.Topic(), m.Topic, m.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}

// drainPayloads reads n string payloads in arrival order.
func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		m := recv(t, sub)
		s, ok := m.Payload.(string)
		if !ok {
			t.Fatalf("non-string payload %#v", m.Payload)
		}
		out = append(out, s)
	}
	return out
}

// topicSet renders the topics of n messages, sorted.
func topicSet(t *testing.T, sub *Subscription, n int) string {
	t.Helper()
	var ts []string
	for i := 0; i < n; i++ {
		ts = append(ts, recv(t, sub).Topic.String())
	}
	sort.Strings(ts)
	return strings.Join(ts, ",")
}

// -----------------------------------------------------------------------------
// Publish / retained replay
// -----------------------------------------------------------------------------

func TestPublish_ExactTopicOnly(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("sqm")
	value := c.Subscribe(T("sqm", "value"))
	params := c.Subscribe(T("sqm", "params"))

	c.Publish(c.NewMessage(T("sqm", "value"), "6.00", false))

	if m := recv(t, value); m.Payload != "6.00" || m.Retained {
		t.Fatalf("value = %#v", m)
	}
	expectNone(t, params)
}

func TestRetained_ReplayIntoStateWildcard(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("sqmd")

	c.Publish(c.NewMessage(T("sqm", "state"), "starting", true))
	c.Publish(c.NewMessage(T("sqm", "state"), "ready", true))
	c.Publish(c.NewMessage(T("bridge", "state"), "ready", true))
	c.Publish(c.NewMessage(T("heartbeat", "state"), "ready", true))
	c.Publish(c.NewMessage(T("sqm", "value"), "6.00", true))
	c.Publish(c.NewMessage(T("sqm", "event", "state"), "x", true))

	states := c.Subscribe(T(SingleWild, "state"))
	if got := topicSet(t, states, 3); got != "bridge/state,heartbeat/state,sqm/state" {
		t.Fatalf("replayed %s", got)
	}
	expectNone(t, states)

	// Only the latest retained message per topic is kept.
	sqm := c.Subscribe(T("sqm", "state"))
	if m := recv(t, sqm); m.Payload != "ready" {
		t.Fatalf("sqm/state replay = %#v", m.Payload)
	}

	// Live publishes reach the wildcard after the replay.
	c.Publish(c.NewMessage(T("metrics", "state"), "degraded", true))
	if m := recv(t, states); m.Topic.String() != "metrics/state" {
		t.Fatalf("live = %s", m.Topic)
	}
}

func TestRetained_NilPayloadClears(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("sqmd")
	c.Publish(c.NewMessage(T("config", "sqm"), "old", true))
	c.Publish(c.NewMessage(T("config", "sqm"), nil, true))

	expectNone(t, c.Subscribe(T("config", "#")))
}

func TestMultiWild_MatchesParentAndDescendants(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("bridge")
	all := c.Subscribe(T("sqm", MultiWild))

	c.Publish(c.NewMessage(T("sqm"), "root", false))
	c.Publish(c.NewMessage(T("sqm", "event", "spike"), "spike", false))
	c.Publish(c.NewMessage(T("power", "value"), "12V", false))

	if got := drainPayloads(t, all, 2); got[0] != "root" || got[1] != "spike" {
		t.Fatalf("got %v", got)
	}
	expectNone(t, all)
}

func TestUnsubscribe_StopsDeliveryAndPrunes(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("metrics")
	s := c.Subscribe(T("sqm", "params"))
	c.Unsubscribe(s)

	c.Publish(c.NewMessage(T("sqm", "params"), "p", false))
	if len(b.subs.children) != 0 {
		t.Fatalf("empty subscription nodes left: %v", b.subs.children)
	}
}

func TestDisconnect_ClosesEverySubscription(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("bridge")
	subs := []*Subscription{c.Subscribe(T("sqm", "value")), c.Subscribe(T("+", "state"))}
	c.Disconnect()
	for _, s := range subs {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%s still open", s.Topic())
		}
	}
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

func TestRequest_ReplyTopicSequence(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("sqmd")

	first := c.NewMessage(T("sqm", "control", "read_now"), nil, false)
	second := c.NewMessage(T("sqm", "control", "read_now"), nil, false)
	s1 := c.Request(first)
	s2 := c.Request(second)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	if got := first.ReplyTo.String(); got != "_reply/sqmd/1" {
		t.Fatalf("first ReplyTo = %s", got)
	}
	if got := second.ReplyTo.String(); got != "_reply/sqmd/2" {
		t.Fatalf("second ReplyTo = %s", got)
	}

	// A reply lands only on its own request's subscription.
	c.Reply(second, "ok", false)
	if m := recv(t, s2); m.Payload != "ok" {
		t.Fatalf("reply = %#v", m.Payload)
	}
	expectNone(t, s1)
}

func TestReply_WithoutReplyToIsDropped(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("sqm")
	all := c.Subscribe(T(MultiWild))

	c.Reply(c.NewMessage(T("sqm", "configure"), nil, false), "ok", false)
	c.Reply(nil, "ok", false)
	expectNone(t, all)
}

func TestRequestWait_Answered(t *testing.T) {
	b := NewBus(4)
	client := b.NewConnection("bridge")
	server := b.NewConnection("sqm")
	reqs := server.Subscribe(T("sqm", "configure"))

	go func() {
		if m, ok := <-reqs.Channel(); ok {
			server.Reply(m, m.Payload.(string)+":ok", false)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := client.RequestWait(ctx, client.NewMessage(T("sqm", "configure"), "m0", false))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Payload != "m0:ok" || reply.Topic.String() != "_reply/bridge/1" {
		t.Fatalf("reply = %s %#v", reply.Topic, reply.Payload)
	}
}

func TestRequestWait_Deadline(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("bridge")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := c.NewMessage(T("sqm", "configure"), nil, false)
	if _, err := c.RequestWait(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	// The reply subscription is gone; a late reply goes nowhere.
	c.Reply(req, "late", false)
	if len(b.subs.children) != 0 {
		t.Fatal("reply subscription not removed")
	}
}

func TestRequestWait_DisconnectYieldsErrNoReply(t *testing.T) {
	b := NewBus(4)
	client := b.NewConnection("bridge")
	server := b.NewConnection("sqm")
	reqs := server.Subscribe(T("sqm", "configure"))

	go func() {
		if _, ok := <-reqs.Channel(); ok {
			client.Disconnect()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := client.RequestWait(ctx, client.NewMessage(T("sqm", "configure"), nil, false)); !errors.Is(err, ErrNoReply) {
		t.Fatalf("err = %v", err)
	}
}

// -----------------------------------------------------------------------------
// Topics and queues
// -----------------------------------------------------------------------------

func TestTopic_InvalidTokenPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-comparable token, got none")
		}
	}()

	// []byte is not comparable, so T should panic
	_ = T([]byte{1, 2, 3})
}

func TestTopic_AppendAndString(t *testing.T) {
	base := T("sqm", "event")
	spike := base.Append("spike")
	if base.Len() != 2 {
		t.Fatalf("Append modified receiver: %v", base)
	}
	if got := spike.String(); got != "sqm/event/spike" {
		t.Fatalf("unexpected topic string %q", got)
	}
	if got := T("reply", 7).String(); got != "reply/7" {
		t.Fatalf("unexpected int token rendering %q", got)
	}
}

func TestUnsubscribe_ClosesChannelOnce(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(Topic{"sqm", "value"})
	c.Unsubscribe(s)
	c.Disconnect()
	if _, ok := <-s.Channel(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not reach the closed channel.
	c.Publish(b.NewMessage(Topic{"sqm", "value"}, "late", false))
}

func TestQueueFull_DropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(Topic{"sqm", "value"})
	for _, p := range []string{"a", "b", "c"} {
		c.Publish(b.NewMessage(Topic{"sqm", "value"}, p, false))
	}
	got := drainPayloads(t, s, 2)
	if got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected oldest dropped, got %v", got)
	}
}
