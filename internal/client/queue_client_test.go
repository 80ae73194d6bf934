package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"wisefido-queue-view/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration, retries int) *QueueClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewQueueClient(Options{
		BaseURL: srv.URL,
		Path:    "/api/patients",
		Timeout: timeout,
		Retries: retries,
	}, zap.NewNop())
}

func TestFetchSnapshot_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/patients" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"patients":[{"id":1,"patient_id":"T-1","name":"Asha","priority":"HIGH"}],"total_waiting":0,"total_emergency":1}`))
	}, time.Second, 0)

	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Patients, 1)
	require.Equal(t, models.FlexID("1"), snap.Patients[0].ID)
	require.Equal(t, models.PriorityHigh, snap.Patients[0].Priority)
	require.Equal(t, 1, snap.TotalEmergency)
}

func TestFetchSnapshot_NonJSONContentTypeStillDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"patients":[],"total_waiting":0,"total_emergency":0}`))
	}, time.Second, 0)

	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Patients)
}

func TestFetchSnapshot_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, time.Second, 0)

	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUpstreamStatus))
}

func TestFetchSnapshot_RetriesServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"patients":[],"total_waiting":0,"total_emergency":0}`))
	}, time.Second, 1)

	_, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchSnapshot_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>login</html>`))
	}, time.Second, 0)

	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
}

func TestFetchSnapshot_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}, 50*time.Millisecond, 0)

	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
}
