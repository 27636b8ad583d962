package fanout

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agent-console/backend/internal/model"
)

// fakeSubscriber records everything delivered to it and can be told to fail.
type fakeSubscriber struct {
	mu       sync.Mutex
	logs     [][]model.LogEntry
	data     [][]byte
	messages []model.Message
	exits    []int
	fail     bool
}

func (f *fakeSubscriber) SendLogs(entries []model.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.logs = append(f.logs, entries)
	return nil
}

func (f *fakeSubscriber) SendData(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.data = append(f.data, data)
	return nil
}

func (f *fakeSubscriber) SendMessage(msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSubscriber) SendExit(code int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.exits = append(f.exits, code)
	return nil
}

func (f *fakeSubscriber) dataCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func history(contents ...string) []model.LogEntry {
	entries := make([]model.LogEntry, 0, len(contents))
	for _, c := range contents {
		entries = append(entries, model.LogEntry{
			Timestamp: time.Now(),
			Type:      model.LogTypeStdout,
			Content:   c,
		})
	}
	return entries
}

func TestBus_SubscribeReplaysHistory(t *testing.T) {
	bus := NewBus()
	sub := &fakeSubscriber{}

	bus.Subscribe(sub, "s1", history("one", "two"))

	if len(sub.logs) != 1 {
		t.Fatalf("expected one history replay, got %d", len(sub.logs))
	}
	if len(sub.logs[0]) != 2 {
		t.Errorf("expected 2 replayed entries, got %d", len(sub.logs[0]))
	}
	if got := bus.SubscriberCount("s1"); got != 1 {
		t.Errorf("expected 1 subscriber, got %d", got)
	}
}

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}
	other := &fakeSubscriber{}

	bus.Subscribe(a, "s1", nil)
	bus.Subscribe(b, "s1", nil)
	bus.Subscribe(other, "s2", nil)

	bus.PublishData("s1", []byte("chunk"))
	bus.PublishMessage("s1", model.Message{ID: "m1", Role: model.RoleAssistant, Content: "hi"})
	bus.PublishExit("s1", 0)

	for _, sub := range []*fakeSubscriber{a, b} {
		if len(sub.data) != 1 || string(sub.data[0]) != "chunk" {
			t.Errorf("subscriber missing data: %v", sub.data)
		}
		if len(sub.messages) != 1 || sub.messages[0].ID != "m1" {
			t.Errorf("subscriber missing message: %v", sub.messages)
		}
		if len(sub.exits) != 1 || sub.exits[0] != 0 {
			t.Errorf("subscriber missing exit: %v", sub.exits)
		}
	}

	if len(other.data) != 0 || len(other.messages) != 0 || len(other.exits) != 0 {
		t.Error("events leaked to a subscriber of a different session")
	}
}

func TestBus_ResubscribeSwitchesSession(t *testing.T) {
	bus := NewBus()
	sub := &fakeSubscriber{}

	bus.Subscribe(sub, "s1", nil)
	bus.Subscribe(sub, "s2", nil)

	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Errorf("expected old session vacated, got %d subscribers", got)
	}
	if got := bus.SubscriberCount("s2"); got != 1 {
		t.Errorf("expected 1 subscriber on new session, got %d", got)
	}
	if id, ok := bus.SessionOf(sub); !ok || id != "s2" {
		t.Errorf("SessionOf = (%q, %v), want (s2, true)", id, ok)
	}

	bus.PublishData("s1", []byte("old"))
	bus.PublishData("s2", []byte("new"))
	if len(sub.data) != 1 || string(sub.data[0]) != "new" {
		t.Errorf("expected only the new session's data, got %v", sub.data)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &fakeSubscriber{}

	bus.Subscribe(sub, "s1", nil)
	bus.Unsubscribe(sub)

	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Errorf("expected 0 subscribers, got %d", got)
	}
	if _, ok := bus.SessionOf(sub); ok {
		t.Error("SessionOf must report detachment")
	}

	bus.PublishData("s1", []byte("chunk"))
	if len(sub.data) != 0 {
		t.Error("unsubscribed client still received data")
	}

	// Unsubscribing twice is harmless.
	bus.Unsubscribe(sub)
}

func TestBus_SendErrorRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	healthy := &fakeSubscriber{}
	broken := &fakeSubscriber{fail: true}

	bus.Subscribe(healthy, "s1", nil)
	bus.Subscribe(broken, "s1", nil)

	bus.PublishData("s1", []byte("chunk"))

	if got := bus.SubscriberCount("s1"); got != 1 {
		t.Errorf("expected failing subscriber removed, got %d remaining", got)
	}
	if _, ok := bus.SessionOf(broken); ok {
		t.Error("failed subscriber must be detached")
	}

	bus.PublishData("s1", []byte("again"))
	if healthy.dataCount() != 2 {
		t.Errorf("healthy subscriber should keep receiving, got %d chunks", healthy.dataCount())
	}
}

func TestBus_HistoryReplayFailureRejectsSubscription(t *testing.T) {
	bus := NewBus()
	broken := &fakeSubscriber{fail: true}

	bus.Subscribe(broken, "s1", history("one"))

	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Errorf("expected subscription rolled back, got %d", got)
	}
}

func TestBus_Drop(t *testing.T) {
	bus := NewBus()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	bus.Subscribe(a, "s1", nil)
	bus.Subscribe(b, "s1", nil)
	bus.Drop("s1")

	if got := bus.SubscriberCount("s1"); got != 0 {
		t.Errorf("expected all subscribers dropped, got %d", got)
	}
	bus.PublishData("s1", []byte("chunk"))
	if len(a.data) != 0 || len(b.data) != 0 {
		t.Error("dropped subscribers still received data")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	sub := &fakeSubscriber{}
	bus.Subscribe(sub, "s1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.PublishData("s1", []byte("x"))
			}
		}()
	}
	wg.Wait()

	if sub.dataCount() != 500 {
		t.Errorf("expected 500 deliveries, got %d", sub.dataCount())
	}
}
