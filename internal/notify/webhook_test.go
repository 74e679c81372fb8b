package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingServer struct {
	*httptest.Server
	events   []service.Event
	headers  []http.Header
	statuses []int
	calls    int
	mu       sync.Mutex
}

// newRecordingServer answers with statuses in order, then 200.
func newRecordingServer(t *testing.T, statuses ...int) *recordingServer {
	t.Helper()
	rs := &recordingServer{statuses: statuses}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		status := http.StatusOK
		if rs.calls < len(rs.statuses) {
			status = rs.statuses[rs.calls]
		}
		rs.calls++
		if status == http.StatusOK {
			var e service.Event
			if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
				rs.events = append(rs.events, e)
				rs.headers = append(rs.headers, r.Header.Clone())
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) snapshot() ([]service.Event, int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]service.Event(nil), rs.events...), rs.calls
}

func testEvent(id string) service.Event {
	return service.Event{
		OccurredAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Type:       service.EventAutoApproved,
		DecisionID: id,
		Outcome:    "AUTO_APPROVED",
		Reason:     "auto-approved",
		Confidence: 0.97,
	}
}

func TestNewWebhookNotifier_RequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(WebhookConfig{}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestWebhookNotifier_Deliver(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int
	}{
		{name: "success", wantCalls: 1},
		{name: "retries server error", statuses: []int{http.StatusBadGateway, http.StatusServiceUnavailable}, wantCalls: 3},
		{name: "client error is final", statuses: []int{http.StatusBadRequest}, wantErr: true, wantCalls: 1},
		{name: "gives up after max retries", statuses: []int{500, 500, 500, 500}, wantErr: true, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRecordingServer(t, tt.statuses...)
			n, err := NewWebhookNotifier(WebhookConfig{
				URL:        srv.URL,
				MaxRetries: 3,
				RetryDelay: time.Millisecond,
				Headers:    map[string]string{"Authorization": "Bearer token"},
			}, nil)
			require.NoError(t, err)

			err = n.Deliver(context.Background(), testEvent("dec-1"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			events, calls := srv.snapshot()
			assert.Equal(t, tt.wantCalls, calls)
			if !tt.wantErr {
				require.Len(t, events, 1)
				assert.Equal(t, "dec-1", events[0].DecisionID)
				assert.Equal(t, service.EventAutoApproved, events[0].Type)
				assert.Equal(t, "Bearer token", srv.headers[0].Get("Authorization"))
				assert.Equal(t, "application/json", srv.headers[0].Get("Content-Type"))
			}
		})
	}
}

func TestWebhookNotifier_StartNotifyStop(t *testing.T) {
	srv := newRecordingServer(t)
	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Workers: 2, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	n.Start()
	n.Start()
	for _, id := range []string{"dec-1", "dec-2", "dec-3"} {
		n.Notify(context.Background(), testEvent(id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Stop(ctx))
	require.NoError(t, n.Stop(ctx))

	events, _ := srv.snapshot()
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.DecisionID
	}
	assert.ElementsMatch(t, []string{"dec-1", "dec-2", "dec-3"}, ids)

	// Events after Stop are dropped, not delivered and not panicking.
	n.Notify(context.Background(), testEvent("dec-4"))
	_, calls := srv.snapshot()
	assert.Equal(t, 3, calls)
}

func TestWebhookNotifier_NotStartedDrops(t *testing.T) {
	srv := newRecordingServer(t)
	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	n.Notify(context.Background(), testEvent("dec-1"))
	_, calls := srv.snapshot()
	assert.Equal(t, 0, calls)
}

func TestWebhookNotifier_FullQueueDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Workers: 1, QueueSize: 1}, nil)
	require.NoError(t, err)
	n.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Notify(context.Background(), testEvent("dec"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Stop(ctx))
}

type recordingNotifier struct {
	events []service.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e service.Event) {
	r.events = append(r.events, e)
}

func TestMulti(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := Multi{a, NewLogNotifier(nil), b}

	m.Notify(context.Background(), testEvent("dec-1"))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, "dec-1", b.events[0].DecisionID)
}
