package natsx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PropChat/module/chat/api"
)

// loopback 把发布直接回送给订阅者，模拟一个节点上的广播订阅
type loopback struct {
	mu      sync.Mutex
	routes  map[string]NatsxRoute
	handler NatsxHandler
	mws     []NatsxMiddleware
	sent    []NatsxMessage
	fail    int
}

func newLoopback(mws ...NatsxMiddleware) *loopback {
	return &loopback{routes: map[string]NatsxRoute{}, mws: mws}
}

func (l *loopback) RegisterRoute(r NatsxRoute) error {
	l.routes[r.Biz] = r
	return nil
}

func (l *loopback) Subscribe(biz string, h NatsxHandler) error {
	if _, ok := l.routes[biz]; !ok {
		return errors.New("route not found")
	}
	l.handler = NatsxChain(h, l.mws...)
	return nil
}

func (l *loopback) PublishOnce(ctx context.Context, _, subject string, data []byte, hdr map[string]string, msgID string) error {
	l.mu.Lock()
	if l.fail > 0 {
		l.fail--
		l.mu.Unlock()
		return errors.New("nats: connection closed")
	}
	h := map[string]string{HeaderMsgID: msgID}
	for k, v := range hdr {
		h[k] = v
	}
	msg := NatsxMessage{Subject: subject, Data: data, Header: h}
	l.sent = append(l.sent, msg)
	l.mu.Unlock()
	return l.handler(ctx, msg)
}

func TestRoomBusRoundTrip(t *testing.T) {
	lb := newLoopback()
	var got []api.RoomEvent
	bus, err := NewRoomBus(lb, lb, "", func(ev api.RoomEvent) { got = append(got, ev) })
	if err != nil {
		t.Fatal(err)
	}
	if r := lb.routes[BizRoom]; r.Subject != "propchat.room.>" || r.Queue != "" {
		t.Fatalf("route = %+v, want broadcast on propchat.room.>", r)
	}

	msg := &api.Message{ID: "m1", ChatID: "c1", Seq: 7, Content: "hi"}
	ev := api.RoomEvent{ID: "m1", Kind: api.RoomKindMessage, ChatID: "c1", Origin: "node-a", Message: msg, Exclude: api.Exclude{ConnID: "k1"}}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if len(lb.sent) != 1 {
		t.Fatalf("sent %d", len(lb.sent))
	}
	sent := lb.sent[0]
	if sent.Subject != "propchat.room.c1" || sent.Header[HeaderOrigin] != "node-a" || sent.Header[HeaderMsgID] != "message:m1" {
		t.Fatalf("sent = %s %v", sent.Subject, sent.Header)
	}
	if len(got) != 1 || got[0].Message == nil || got[0].Message.Seq != 7 || got[0].Exclude.ConnID != "k1" {
		t.Fatalf("delivered = %+v", got)
	}
}

func TestRoomBusDedupesRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lb := newLoopback(NatsxIdemMiddleware(NewMemIdem(ctx, time.Minute), 0))
	count := 0
	bus, err := NewRoomBus(lb, lb, "test.rooms.", func(api.RoomEvent) { count++ })
	if err != nil {
		t.Fatal(err)
	}
	ev := api.RoomEvent{ID: "m1", Kind: api.RoomKindMessage, ChatID: "c1", Message: &api.Message{ID: "m1", Seq: 1}}
	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	// 同一 ID 的 typing 是另一类事件，不应被误判为重复
	if err := bus.Publish(ctx, api.RoomEvent{ID: "m1", Kind: api.RoomKindTyping, ChatID: "c1", ConnID: "k"}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("delivered %d, want 2", count)
	}
	if lb.sent[0].Subject != "test.rooms.c1" {
		t.Fatalf("subject = %s", lb.sent[0].Subject)
	}
}

// fabric 把一次发布送到每个节点的订阅上
type fabric struct{ nodes []*loopback }

func (f *fabric) PublishOnce(ctx context.Context, biz, subject string, data []byte, hdr map[string]string, msgID string) error {
	for _, n := range f.nodes {
		if err := n.PublishOnce(ctx, biz, subject, data, hdr, msgID); err != nil {
			return err
		}
	}
	return nil
}

func TestRoomBusFansOutAcrossNodesWithSharedIdem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared := NewMemIdem(ctx, time.Minute)

	fab := &fabric{}
	delivered := map[string]int{}
	var buses []*RoomBus
	for _, node := range []string{"node-a", "node-b"} {
		node := node
		lb := newLoopback(NatsxIdemMiddleware(NodeIdem(shared, node), 0))
		fab.nodes = append(fab.nodes, lb)
		bus, err := NewRoomBus(fab, lb, "", func(api.RoomEvent) { delivered[node]++ })
		if err != nil {
			t.Fatal(err)
		}
		buses = append(buses, bus)
	}

	ev := api.RoomEvent{ID: "m1", Kind: api.RoomKindMessage, ChatID: "c1", Origin: "node-a", Message: &api.Message{ID: "m1", Seq: 1}}
	for i := 0; i < 2; i++ {
		if err := buses[0].Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if delivered["node-a"] != 1 || delivered["node-b"] != 1 {
		t.Fatalf("delivered = %v, want one per node", delivered)
	}
}

func TestRoomBusHandleRejectsGarbage(t *testing.T) {
	lb := newLoopback()
	called := false
	bus, err := NewRoomBus(lb, lb, "", func(api.RoomEvent) { called = true })
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Handle(context.Background(), NatsxMessage{Subject: "propchat.room.c1", Data: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
	if called {
		t.Fatal("garbage must not be delivered")
	}
}

func TestIdemMiddlewareFallsBackToContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error { n++; return nil },
		NatsxIdemMiddleware(NewMemIdem(ctx, time.Minute), 0))

	_ = h(ctx, NatsxMessage{Subject: "a", Data: []byte("x")})
	_ = h(ctx, NatsxMessage{Subject: "a", Data: []byte(" x ")})
	_ = h(ctx, NatsxMessage{Subject: "b", Data: []byte("x")})
	if n != 2 {
		t.Fatalf("handled %d, want 2", n)
	}
}

func TestMemIdemExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mi := NewMemIdem(ctx, time.Second).(*memIdem)
	now := time.Unix(1000, 0)
	mi.now = func() time.Time { return now }

	if seen, _ := mi.SeenOnce(ctx, "k", 0); seen {
		t.Fatal("first sighting reported as seen")
	}
	if seen, _ := mi.SeenOnce(ctx, "k", 0); !seen {
		t.Fatal("second sighting not seen")
	}
	now = now.Add(2 * time.Second)
	mi.sweep()
	if len(mi.m) != 0 {
		t.Fatalf("sweep left %d keys", len(mi.m))
	}
	if seen, _ := mi.SeenOnce(ctx, "k", 0); seen {
		t.Fatal("expired key still seen")
	}
}

func TestSyncPublisherRetries(t *testing.T) {
	lb := newLoopback()
	delivered := 0
	if _, err := NewRoomBus(lb, lb, "", func(api.RoomEvent) { delivered++ }); err != nil {
		t.Fatal(err)
	}
	lb.fail = 2
	sp := &NatsxSyncPublisher{P: lb, Retries: 2, Backoff: time.Millisecond}
	bus := &RoomBus{pub: sp, prefix: defaultPrefix, deliver: func(api.RoomEvent) {}}
	if err := bus.Publish(context.Background(), api.RoomEvent{ID: "x", Kind: api.RoomKindTyping, ChatID: "c1"}); err != nil {
		t.Fatalf("publish after retries: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered %d", delivered)
	}

	lb.fail = 5
	if err := bus.Publish(context.Background(), api.RoomEvent{ID: "y", Kind: api.RoomKindTyping, ChatID: "c1"}); err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
}

func TestRecoverKeepsSubscriberAlive(t *testing.T) {
	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	}, NatsxRecover(), NatsxLogErrors())

	msg := NatsxMessage{Subject: "propchat.room.c1", Header: map[string]string{HeaderMsgID: "message:m1"}}
	if err := h(context.Background(), msg); err == nil {
		t.Fatal("panic not turned into an error")
	}
	if err := h(context.Background(), msg); err != nil {
		t.Fatalf("second call: %v", err)
	}
}
