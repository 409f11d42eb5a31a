package testbench

import (
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/mockdata"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mutableTree is a TreeSource whose tree can be swapped mid-stream.
type mutableTree struct {
	mu   sync.Mutex
	root rules.LogicNode
}

func (m *mutableTree) Tree() rules.LogicNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root.Clone()
}

func (m *mutableTree) set(root rules.LogicNode) {
	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
}

type fixedSource struct{ msg engine.MessageRecord }

func (f fixedSource) Next() engine.MessageRecord { return f.msg }

func containsTree(word string) rules.LogicNode {
	return rules.NewGroup(rules.OpAnd, rules.NewCondition(rules.FieldMessageText, rules.CmpContains, word))
}

func TestStreamTick_CountersAndHistory(t *testing.T) {
	tree := &mutableTree{root: containsTree("urgent")}
	b := New(tree, fixedSource{engine.MessageRecord{MessageText: "[URGENT] Server down", Sender: "system_monitor"}})
	defer b.Close()

	b.streamTick()
	b.streamTick()
	tree.set(containsTree("bitcoin"))
	b.streamTick()

	snap := b.Snapshot()
	if snap.Stats != (Stats{Total: 3, Matches: 2, Drops: 1}) {
		t.Fatalf("stats = %+v", snap.Stats)
	}
	if len(snap.History) != 3 {
		t.Fatalf("history len = %d", len(snap.History))
	}
	if snap.History[0].Matched || !snap.History[2].Matched {
		t.Fatalf("history must be newest first: %+v", snap.History)
	}
	if snap.History[0].Mode != ModeStream {
		t.Fatalf("mode = %q", snap.History[0].Mode)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.NewSeeded(3))
	defer b.Close()

	for i := 0; i < DefaultHistory*3; i++ {
		b.streamTick()
		if n := len(b.Snapshot().History); n > DefaultHistory {
			t.Fatalf("history grew to %d", n)
		}
	}
	snap := b.Snapshot()
	if len(snap.History) != DefaultHistory || snap.Stats.Total != DefaultHistory*3 {
		t.Fatalf("history=%d total=%d", len(snap.History), snap.Stats.Total)
	}

	for i := 0; i < DefaultHistory; i++ {
		if _, err := b.Submit(engine.MessageRecord{MessageText: "manual"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(b.Snapshot().History); n != DefaultHistory {
		t.Fatalf("history after manual submissions = %d", n)
	}
}

func TestWithHistory(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.NewSeeded(3), WithHistory(5))
	defer b.Close()
	for i := 0; i < 12; i++ {
		b.streamTick()
	}
	if n := len(b.Snapshot().History); n != 5 {
		t.Fatalf("history len = %d, want 5", n)
	}
}

func TestSubmit_NeverTouchesCounters(t *testing.T) {
	b := New(TreeFunc(func() rules.LogicNode { return containsTree("deploy") }), mockdata.NewSeeded(1))
	defer b.Close()

	b.streamTick()
	before := b.Snapshot().Stats

	res, err := b.Submit(engine.MessageRecord{MessageText: "New deployment started"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Matched || res.Mode != ModeManual {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Sender != "Anonymous" || res.Timestamp == "" {
		t.Fatalf("manual defaults not applied: %+v", res.MessageRecord)
	}
	for i := 0; i < 10; i++ {
		if _, err := b.Submit(engine.MessageRecord{MessageText: "no match here", Sender: "alice_w"}); err != nil {
			t.Fatal(err)
		}
	}

	after := b.Snapshot()
	if after.Stats != before {
		t.Fatalf("manual submissions changed stats: %+v -> %+v", before, after.Stats)
	}
	if after.History[0].Sender != "alice_w" {
		t.Fatalf("explicit sender lost: %+v", after.History[0])
	}
}

func TestSubmit_EmptyMessage(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.New())
	defer b.Close()
	if _, err := b.Submit(engine.MessageRecord{Sender: "bob"}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if len(b.Snapshot().History) != 0 {
		t.Fatal("rejected message recorded")
	}
}

func TestClear(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.NewSeeded(5))
	defer b.Close()
	b.streamTick()
	b.Submit(engine.MessageRecord{MessageText: "x"})
	b.Clear()

	snap := b.Snapshot()
	if len(snap.History) != 0 || snap.Stats != (Stats{}) {
		t.Fatalf("Clear left state behind: %+v", snap)
	}
}

func TestStartStop(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.NewSeeded(9), WithInterval(5*time.Millisecond))
	defer b.Close()

	if !b.Start() {
		t.Fatal("Start on idle bench failed")
	}
	if b.Start() {
		t.Fatal("second Start should report false")
	}
	if b.State() != StateStreaming {
		t.Fatalf("state = %s", b.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Snapshot().Stats.Total < 3 {
		if time.Now().After(deadline) {
			t.Fatal("stream produced no ticks")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !b.Stop() {
		t.Fatal("Stop failed")
	}
	total := b.Snapshot().Stats.Total
	time.Sleep(30 * time.Millisecond)
	if got := b.Snapshot().Stats.Total; got != total {
		t.Fatalf("ticks after Stop: %d -> %d", total, got)
	}
	if b.Stop() {
		t.Fatal("Stop on idle bench should report false")
	}

	if b.Toggle() != StateStreaming || b.Toggle() != StateIdle {
		t.Fatal("Toggle did not flip state")
	}
}

func TestSubscribe(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.NewSeeded(2))
	ch, unsub := b.Subscribe()

	b.streamTick()
	select {
	case res := <-ch:
		if !res.Matched {
			t.Fatal("empty root should match")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	ch2, unsub2 := b.Subscribe()
	b.Close()
	if _, ok := <-ch2; ok {
		t.Fatal("Close should close subscribers")
	}
	unsub2()

	if b.Start() {
		t.Fatal("closed bench must not start")
	}
	if _, err := b.Submit(engine.MessageRecord{MessageText: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSubscribe_SlowListenerDoesNotBlock(t *testing.T) {
	b := New(TreeFunc(rules.DefaultRoot), mockdata.NewSeeded(2))
	defer b.Close()
	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.streamTick()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
}

func TestBrokenRegexIsDiagnosedInBothModes(t *testing.T) {
	tree := rules.NewGroup(rules.OpAnd, rules.NewCondition(rules.FieldMessageText, rules.CmpRegex, "("))
	b := New(TreeFunc(func() rules.LogicNode { return tree }), fixedSource{engine.MessageRecord{MessageText: "(", Sender: "bot"}})
	defer b.Close()

	before := promtest.ToFloat64(telemetry.RegexErrors)
	streamed := b.streamTick()
	manual, err := b.Submit(engine.MessageRecord{MessageText: "("})
	if err != nil {
		t.Fatal(err)
	}

	for _, res := range []Result{streamed, manual} {
		if res.Matched {
			t.Fatalf("%s: broken regex matched", res.Mode)
		}
		if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != engine.DiagInvalidRegex {
			t.Fatalf("%s: diagnostics = %+v", res.Mode, res.Diagnostics)
		}
	}
	if got := promtest.ToFloat64(telemetry.RegexErrors) - before; got != 2 {
		t.Fatalf("regex error counter moved by %v, want 2", got)
	}
	if snap := b.Snapshot(); snap.Stats != (Stats{Total: 1, Drops: 1}) {
		t.Fatalf("stats = %+v", snap.Stats)
	}
}
