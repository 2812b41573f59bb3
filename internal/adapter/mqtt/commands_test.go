package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

type recordingCommander struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *recordingCommander) SetCoil(_ context.Context, unitID uint8, acIndex int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("coil u%d a%d %v", unitID, acIndex, on))
	return c.err
}

func (c *recordingCommander) SetThresholds(_ context.Context, unitID uint8, acIndex, high, good int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("thresholds u%d a%d h%d g%d", unitID, acIndex, high, good))
	return c.err
}

func (c *recordingCommander) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newIdleListener(commander Commander, queueSize int) *CommandListener {
	return NewCommandListener(nil, commander, CommandConfig{QueueSize: queueSize}, zerolog.Nop(), nil)
}

func startWorker(l *CommandListener) func() {
	l.wg.Add(1)
	go l.processQueue()
	return func() {
		l.cancel()
		l.wg.Wait()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within a second")
}

func TestSubscribedTopics(t *testing.T) {
	l := NewCommandListener(nil, &recordingCommander{}, CommandConfig{TopicPrefix: "plant7"}, zerolog.Nop(), nil)

	topics := l.SubscribedTopics()
	want := []string{"plant7/cmd/coil", "plant7/cmd/thresholds"}
	if len(topics) != 2 || topics[0] != want[0] || topics[1] != want[1] {
		t.Errorf("SubscribedTopics() = %v, want %v", topics, want)
	}
}

func TestHandleCoilMessage(t *testing.T) {
	commander := &recordingCommander{}
	l := newIdleListener(commander, 10)
	stop := startWorker(l)
	defer stop()

	l.handleCoilMessage(nil, fakeMessage{
		topic:   "hvac/cmd/coil",
		payload: []byte(`{"unit":1,"ac":3,"on":true}`),
	})

	waitFor(t, func() bool { return len(commander.Calls()) == 1 })

	if calls := commander.Calls(); calls[0] != "coil u1 a3 true" {
		t.Errorf("calls[0] = %q, want coil u1 a3 true", calls[0])
	}

	received, succeeded, failed, dropped := l.Stats()
	if received != 1 || succeeded != 1 || failed != 0 || dropped != 0 {
		t.Errorf("stats = (%d, %d, %d, %d), want (1, 1, 0, 0)", received, succeeded, failed, dropped)
	}
}

func TestHandleThresholdsMessage_CommanderFailureCounted(t *testing.T) {
	commander := &recordingCommander{err: domain.ErrDeviceTimeout}
	l := newIdleListener(commander, 10)
	stop := startWorker(l)
	defer stop()

	l.handleThresholdsMessage(nil, fakeMessage{
		topic:   "hvac/cmd/thresholds",
		payload: []byte(`{"unit":1,"ac":0,"high":30,"good":18}`),
	})

	waitFor(t, func() bool {
		_, _, failed, _ := l.Stats()
		return failed == 1
	})

	if calls := commander.Calls(); len(calls) != 1 || calls[0] != "thresholds u1 a0 h30 g18" {
		t.Errorf("calls = %v, want [thresholds u1 a0 h30 g18]", calls)
	}
}

func TestHandleCoilMessage_MalformedPayload(t *testing.T) {
	commander := &recordingCommander{}
	l := newIdleListener(commander, 10)

	l.handleCoilMessage(nil, fakeMessage{topic: "hvac/cmd/coil", payload: []byte("not json")})

	received, _, failed, _ := l.Stats()
	if received != 1 || failed != 1 {
		t.Errorf("stats = (received %d, failed %d), want (1, 1)", received, failed)
	}
	if len(commander.Calls()) != 0 {
		t.Error("commander called for a malformed payload")
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	l := newIdleListener(&recordingCommander{}, 2)

	// No worker running, so the queue only fills.
	noop := func(context.Context) error { return nil }
	l.enqueue(queuedCommand{kind: "coil", run: noop})
	l.enqueue(queuedCommand{kind: "coil", run: noop})
	l.enqueue(queuedCommand{kind: "coil", run: noop})

	_, _, _, dropped := l.Stats()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(l.queue) != 2 {
		t.Errorf("queue depth = %d, want 2", len(l.queue))
	}
}

func TestProcessQueue_StopsOnCancel(t *testing.T) {
	l := newIdleListener(&recordingCommander{}, 10)
	stop := startWorker(l)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestProcessQueue_CommandTimeoutBounded(t *testing.T) {
	blocked := make(chan struct{})
	commander := &recordingCommander{}
	l := NewCommandListener(nil, commander, CommandConfig{
		QueueSize:    10,
		WriteTimeout: 20 * time.Millisecond,
	}, zerolog.Nop(), nil)
	stop := startWorker(l)
	defer stop()

	l.enqueue(queuedCommand{
		kind: "coil",
		run: func(ctx context.Context) error {
			<-ctx.Done()
			close(blocked)
			return ctx.Err()
		},
	})

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("write timeout never fired")
	}

	waitFor(t, func() bool {
		_, _, failed, _ := l.Stats()
		return failed == 1
	})
}
