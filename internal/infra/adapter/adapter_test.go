package adapter

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]string
	sent      []string
	connErr   error
	closed    int32
}

func (f *fakeTransport) Connect(ctx context.Context) error { return f.connErr }

func (f *fakeTransport) SendCommand(ctx context.Context, cmd string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	resp := f.responses[cmd]
	f.mu.Unlock()
	return resp, nil
}

func (f *fakeTransport) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() Config {
	return Config{
		ReconnectBaseDelay:   10 * time.Millisecond,
		MaxReconnectDelay:    20 * time.Millisecond,
		MaxCommandsPerSecond: 1000,
		CommandTimeout:       200 * time.Millisecond,
		HeartbeatInterval:    5 * time.Second,
		SnapshotInterval:     5 * time.Second,
		CleanupInterval:      5 * time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAdapter_ConnectAndSendCommand(t *testing.T) {
	ft := &fakeTransport{responses: map[string]string{"/npc ping": "pong"}}
	a := New(testConfig(), func() Transport { return ft }, nil, nil)
	defer a.Shutdown(false, 0)

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	resp, err := a.SendCommand(context.Background(), "/npc ping")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp != "pong" {
		t.Fatalf("expected pong, got %q", resp)
	}
}

func TestAdapter_FailureSubstringRejectsFuture(t *testing.T) {
	ft := &fakeTransport{responses: map[string]string{"/npc bad": "Error: no such player"}}
	a := New(testConfig(), func() Transport { return ft }, nil, nil)
	defer a.Shutdown(false, 0)
	_ = a.Connect(context.Background())

	_, err := a.SendCommand(context.Background(), "/npc bad")
	if err == nil {
		t.Fatal("expected command to be rejected on failure substring")
	}
}

func TestAdapter_DisconnectDrainsQueue(t *testing.T) {
	ft := &fakeTransport{}
	a := New(testConfig(), func() Transport { return ft }, nil, nil)
	defer a.Shutdown(false, 0)
	_ = a.Connect(context.Background())

	req := &commandRequest{cmd: "/npc stuck", resultCh: make(chan commandResult, 1)}
	a.mu.Lock()
	a.queue = append(a.queue, req)
	a.mu.Unlock()

	a.Disconnect(true)

	select {
	case res := <-req.resultCh:
		if res.err == nil {
			t.Fatal("expected disconnect error for drained command")
		}
	case <-time.After(time.Second):
		t.Fatal("drain did not complete")
	}
}

func TestAdapter_ReconnectsAfterTransportFailure(t *testing.T) {
	var attempts int32
	a := New(testConfig(), func() Transport {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return &fakeTransport{connErr: domain.ErrDisconnected}
		}
		return &fakeTransport{}
	}, nil, nil)
	defer a.Shutdown(false, 0)

	_ = a.Connect(context.Background())
	waitFor(t, time.Second, func() bool { return a.State() == StateConnected })
}

func TestParseFeedbackLine_CriticalHit(t *testing.T) {
	ev, ok := parseFeedbackLine("Bolt critically hits Zombie for 12.5", time.Now())
	if !ok || ev.Type != domain.EventAttack || !ev.Critical || ev.Damage != 12.5 {
		t.Fatalf("unexpected parse: %+v ok=%v", ev, ok)
	}
}

func TestParseFeedbackLine_DefeatedBy(t *testing.T) {
	ev, ok := parseFeedbackLine("Zombie was defeated by Bolt", time.Now())
	if !ok || ev.Type != domain.EventDefeated || ev.Source != "bolt" || ev.Target != "zombie" {
		t.Fatalf("unexpected parse: %+v ok=%v", ev, ok)
	}
}

func TestParseFeedbackLine_NoMatch(t *testing.T) {
	if _, ok := parseFeedbackLine("the weather is nice today", time.Now()); ok {
		t.Fatal("expected no match")
	}
}

func TestAdapter_IngestEvent_UpdatesCombatantHealthAndDedups(t *testing.T) {
	a := New(testConfig(), func() Transport { return &fakeTransport{} }, nil, nil)
	defer a.Shutdown(false, 0)

	now := time.Now()
	a.ingestEvent(domain.CombatEvent{Type: domain.EventDamage, Target: "zombie1", Damage: 5, RawLine: "x", Timestamp: now})
	a.ingestEvent(domain.CombatEvent{Type: domain.EventDamage, Target: "zombie1", Damage: 5, RawLine: "x", Timestamp: now.Add(time.Millisecond)})

	a.mu.Lock()
	c := a.combatants["zombie1"]
	hist := a.history.Len()
	a.mu.Unlock()

	if c == nil || c.LastDamage != 5 {
		t.Fatalf("expected single damage update, got %+v", c)
	}
	if hist != 1 {
		t.Fatalf("expected dedup to drop the repeat, got history len %d", hist)
	}
}

func TestAdapter_FriendlyFireSignal(t *testing.T) {
	var signal string
	a := New(testConfig(), func() Transport { return &fakeTransport{} }, nil, func(name string, _ map[string]string) {
		if name == "friendly-fire" {
			signal = name
		}
	})
	defer a.Shutdown(false, 0)

	a.ingestEvent(domain.CombatEvent{Type: domain.EventAttack, Source: "npc_bolt", Target: "ally_scout", Damage: 1, RawLine: "y", Timestamp: time.Now()})
	if signal != "friendly-fire" {
		t.Fatal("expected friendly-fire signal to fire")
	}
}

func TestAdapter_SendBatchSequential(t *testing.T) {
	ft := &fakeTransport{responses: map[string]string{"/npc a": "1", "/npc b": "2"}}
	a := New(testConfig(), func() Transport { return ft }, nil, nil)
	defer a.Shutdown(false, 0)
	_ = a.Connect(context.Background())

	results, err := a.SendBatch(context.Background(), []string{"/npc a", "/npc b"}, BatchOptions{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if strings.Join(results, ",") != "1,2" {
		t.Fatalf("unexpected batch results: %v", results)
	}
}

func TestAdapter_GetMetricsReflectsConnectionState(t *testing.T) {
	a := New(testConfig(), func() Transport { return &fakeTransport{} }, nil, nil)
	defer a.Shutdown(false, 0)
	_ = a.Connect(context.Background())

	m := a.GetMetrics()
	if !m.Connected {
		t.Fatal("expected connected metric to be true")
	}
}

func TestAdapter_SubscribeOnceUnsubscribesAfterFirstMatch(t *testing.T) {
	a := New(testConfig(), func() Transport { return &fakeTransport{} }, nil, nil)
	defer a.Shutdown(false, 0)

	var count int32
	a.Subscribe(domain.SubscriptionFilter{Once: true}, func(domain.CombatEvent) {
		atomic.AddInt32(&count, 1)
	})

	a.ingestEvent(domain.CombatEvent{Type: domain.EventHeal, Target: "x", RawLine: "a", Timestamp: time.Now()})
	a.ingestEvent(domain.CombatEvent{Type: domain.EventHeal, Target: "x", RawLine: "b", Timestamp: time.Now()})

	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", count)
	}
}
