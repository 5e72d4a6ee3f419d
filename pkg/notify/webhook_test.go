package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/notify"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleEvent() notify.Event {
	proposalID := uuid.New()
	return notify.Event{
		Kind:            notify.KindProposalOpened,
		AssetID:         uuid.New(),
		AssetFQN:        "warehouse.orders",
		ProposalID:      &proposalID,
		ProposalStatus:  model.ProposalPending,
		ProposedVersion: "2.0.0",
		ChangeType:      model.ChangeMajor,
		OccurredAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignAndVerify(t *testing.T) {
	secret := []byte("shared")
	body := []byte(`{"kind":"proposal.opened"}`)

	sig := notify.Sign(secret, "1748779200", body)
	assert.True(t, notify.VerifySignature(secret, "1748779200", body, sig))

	assert.False(t, notify.VerifySignature(secret, "1748779201", body, sig))
	assert.False(t, notify.VerifySignature([]byte("other"), "1748779200", body, sig))
	assert.False(t, notify.VerifySignature(secret, "1748779200", []byte(`{}`), sig))
}

func TestWebhook_Delivers(t *testing.T) {
	secret := []byte("shared")
	event := sampleEvent()

	var received notify.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, notify.KindProposalOpened, r.Header.Get(notify.HeaderEvent))
		ts := r.Header.Get(notify.HeaderTimestamp)
		assert.NotEmpty(t, ts)
		assert.True(t, notify.VerifySignature(secret, ts, body, r.Header.Get(notify.HeaderSignature)))

		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := notify.NewWebhook(srv.URL, secret, discard)
	require.NoError(t, hook.Notify(context.Background(), event))

	assert.Equal(t, event.Kind, received.Kind)
	assert.Equal(t, event.AssetFQN, received.AssetFQN)
	require.NotNil(t, received.ProposalID)
	assert.Equal(t, *event.ProposalID, *received.ProposalID)
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := notify.NewWebhook(srv.URL, []byte("shared"), discard,
		notify.WithRetry(3, time.Millisecond))
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := notify.NewWebhook(srv.URL, []byte("shared"), discard,
		notify.WithRetry(2, time.Millisecond))
	err := hook.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_ContextCancelStopsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hook := notify.NewWebhook(srv.URL, []byte("shared"), discard,
		notify.WithRetry(5, time.Minute))
	err := hook.Notify(ctx, sampleEvent())
	assert.ErrorIs(t, err, context.Canceled)
}

type flaky struct {
	err   error
	calls int
}

func (f *flaky) Notify(context.Context, notify.Event) error {
	f.calls++
	return f.err
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	bad := &flaky{err: errors.New("down")}
	good := &flaky{}

	multi := notify.NewMulti(discard, bad, good)
	err := multi.Notify(context.Background(), sampleEvent())

	assert.ErrorIs(t, err, bad.err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestNop(t *testing.T) {
	assert.NoError(t, notify.Nop{}.Notify(context.Background(), sampleEvent()))
}
