package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubRoutesToOwningSurface(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	a, unsubA := hub.Subscribe("window-a", true)
	defer unsubA()
	b, unsubB := hub.Subscribe("window-b", true)
	defer unsubB()

	hub.Emit(Event{ToolID: "t", Status: StatusLaunching, Surface: "window-a"})

	ev := recv(t, a)
	assert.Equal(t, StatusLaunching, ev.Status)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assertEmpty(t, b)
}

func TestHubFallsBackToLatestVisibleSurface(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	a, unsubA := hub.Subscribe("window-a", true)
	defer unsubA()
	b, unsubB := hub.Subscribe("window-b", false)
	defer unsubB()
	c, unsubC := hub.Subscribe("window-c", true)
	defer unsubC()

	hub.Emit(Event{ToolID: "t", Status: StatusRunning, Surface: "closed-window"})
	recv(t, c)
	assertEmpty(t, a)
	assertEmpty(t, b)

	hub.SetVisible("window-c", false)
	hub.Emit(Event{ToolID: "t", Status: StatusStopped})
	recv(t, a)
	assertEmpty(t, c)
}

func TestHubObserversSeeEverything(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	obs, unsub := hub.Observe()

	hub.Emit(Event{ToolID: "one", Status: StatusLaunching})
	hub.Emit(Event{ToolID: "two", Status: StatusError, Extra: Extra{Message: "boom"}})

	assert.Equal(t, "one", recv(t, obs).ToolID)
	assert.Equal(t, "boom", recv(t, obs).Message)

	unsub()
	_, open := <-obs
	assert.False(t, open)
	hub.Emit(Event{ToolID: "three"})
}

func TestHubResubscribeClosesPrevious(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	first, unsubFirst := hub.Subscribe("w", true)
	second, unsubSecond := hub.Subscribe("w", true)
	defer unsubSecond()

	_, open := <-first
	assert.False(t, open)
	unsubFirst()

	hub.Emit(Event{ToolID: "t", Surface: "w"})
	recv(t, second)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	_, unsub := hub.Subscribe("w", true)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			hub.Emit(Event{ToolID: "t", Surface: "w"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}
}

func TestEventJSONFlattensExtra(t *testing.T) {
	code := 3
	data, err := json.Marshal(Event{
		ID: "01H", ToolID: "t", Status: StatusStopped, Mode: "standalone",
		Extra: Extra{PID: -1, ExitCode: &code}, Surface: "hidden",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "t", got["toolId"])
	assert.Equal(t, float64(-1), got["pid"])
	assert.Equal(t, float64(3), got["exitCode"])
	assert.NotContains(t, got, "url")
	assert.NotContains(t, got, "Surface")
}

func TestNotifierOnlyNotifiesErrors(t *testing.T) {
	var mu sync.Mutex
	var titles []string
	notified := make(chan struct{}, 4)

	var forwarded []Status
	n := NewNotifier(Func(func(ev Event) { forwarded = append(forwarded, ev.Status) }), zaptest.NewLogger(t))
	n.notify = func(title, message string) error {
		mu.Lock()
		titles = append(titles, title+": "+message)
		mu.Unlock()
		notified <- struct{}{}
		return nil
	}

	n.Emit(Event{ToolID: "t", Status: StatusRunning})
	n.Emit(Event{ToolID: "t", Status: StatusError, Extra: Extra{Message: "readiness timeout"}})

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	assert.Equal(t, []Status{StatusRunning, StatusError}, forwarded)
	mu.Lock()
	assert.Equal(t, []string{"t failed: readiness timeout"}, titles)
	mu.Unlock()
}
