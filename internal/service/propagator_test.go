package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/client"
	"github.com/kube-rca/alertsync/internal/model"
)

func TestApplyAlreadySatisfied(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		action  model.Action
		wantMsg string
	}{
		{name: "acknowledge closed", status: model.SourceBClosed, action: model.ActionAcknowledge, wantMsg: "already closed"},
		{name: "resolve closed", status: model.SourceBClosed, action: model.ActionResolve, wantMsg: "already closed"},
		{name: "acknowledge acknowledged", status: model.SourceBAcknowledged, action: model.ActionAcknowledge, wantMsg: "already acknowledged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := matchedRecord("r-1", "fp-1", "b-1", tt.status)
			store := newMemoryStore(rec)
			inc := &fakeIncidents{}
			p := NewPropagator(inc, store, true, zap.NewNop())

			got := p.Apply(context.Background(), rec, model.Transition{Action: tt.action, Actor: "alice"})

			assert.Equal(t, model.ActionAlreadySatisfied, got.Status)
			assert.Equal(t, tt.wantMsg, got.Reason)
			assert.Empty(t, inc.transitions())
			assert.Equal(t, rec.Version, store.get("r-1").Version)
		})
	}
}

func TestApplyPropagatesThenRecordsLocally(t *testing.T) {
	rec := matchedRecord("r-1", "fp-1", "b-1", model.SourceBAcknowledged)
	store := newMemoryStore(rec)
	inc := &fakeIncidents{}
	p := NewPropagator(inc, store, true, zap.NewNop())

	got := p.Apply(context.Background(), rec, model.Transition{Action: model.ActionResolve, Actor: "alice", Note: "fixed"})

	require.Equal(t, model.ActionApplied, got.Status)
	assert.Empty(t, got.Reason)
	assert.Equal(t, []transitionCall{{Action: "close", ID: "b-1", User: "alice", Note: "fixed"}}, inc.transitions())

	saved := store.get("r-1")
	assert.Equal(t, model.SourceBClosed, saved.BStatus())
	require.NotNil(t, saved.ResolvedBy)
	assert.Equal(t, "alice", *saved.ResolvedBy)
	assert.NotNil(t, saved.ResolvedAt)
	assert.Equal(t, rec.Version+1, saved.Version)
}

func TestApplyDisabledSkips(t *testing.T) {
	rec := matchedRecord("r-1", "fp-1", "b-1", model.SourceBOpen)
	inc := &fakeIncidents{}
	p := NewPropagator(inc, newMemoryStore(rec), false, zap.NewNop())

	got := p.Apply(context.Background(), rec, model.Transition{Action: model.ActionAcknowledge})

	assert.Equal(t, model.ActionSkipped, got.Status)
	assert.Equal(t, reasonDisabled, got.Reason)
	assert.Empty(t, inc.transitions())
}

func TestApplyUpstreamFailureKeepsLocalStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "rejected", err: &client.RejectedError{Upstream: "jsm", StatusCode: http.StatusUnprocessableEntity}, reason: reasonRejected},
		{name: "transient", err: &client.TransientError{Upstream: "jsm", StatusCode: http.StatusServiceUnavailable}, reason: reasonUnavailable},
		{name: "auth", err: &client.AuthError{Upstream: "jsm", StatusCode: http.StatusUnauthorized}, reason: reasonUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := matchedRecord("r-1", "fp-1", "b-1", model.SourceBOpen)
			store := newMemoryStore(rec)
			p := NewPropagator(&fakeIncidents{actionErr: tt.err}, store, true, zap.NewNop())

			got := p.Apply(context.Background(), rec, model.Transition{Action: model.ActionAcknowledge, Actor: "alice"})

			assert.Equal(t, model.ActionFailed, got.Status)
			assert.Equal(t, tt.reason, got.Reason)
			saved := store.get("r-1")
			assert.Equal(t, model.SourceBOpen, saved.BStatus())
			assert.Nil(t, saved.AcknowledgedBy)
		})
	}
}

func TestApplyRetriesVersionConflict(t *testing.T) {
	rec := matchedRecord("r-1", "fp-1", "b-1", model.SourceBOpen)
	store := newMemoryStore(rec)
	store.conflicts = 2
	p := NewPropagator(&fakeIncidents{}, store, true, zap.NewNop())

	got := p.Apply(context.Background(), rec, model.Transition{Action: model.ActionAcknowledge, Actor: "alice"})

	require.Equal(t, model.ActionApplied, got.Status)
	assert.Empty(t, got.Reason)
	assert.Equal(t, model.SourceBAcknowledged, store.get("r-1").BStatus())
}

func TestApplyGivesUpAfterRepeatedConflicts(t *testing.T) {
	rec := matchedRecord("r-1", "fp-1", "b-1", model.SourceBOpen)
	store := newMemoryStore(rec)
	store.conflicts = statusWriteAttempts
	inc := &fakeIncidents{}
	p := NewPropagator(inc, store, true, zap.NewNop())

	got := p.Apply(context.Background(), rec, model.Transition{Action: model.ActionAcknowledge, Actor: "alice"})

	assert.Equal(t, model.ActionApplied, got.Status)
	assert.Equal(t, "local status pending refresh", got.Reason)
	assert.Len(t, inc.transitions(), 1)
	assert.Equal(t, model.SourceBOpen, store.get("r-1").BStatus())
}

func TestApplyUnmatchedFails(t *testing.T) {
	rec := model.AlertRecord{ID: "r-1", SourceAID: "fp-1", MatchType: model.MatchNone}
	p := NewPropagator(&fakeIncidents{}, newMemoryStore(rec), true, zap.NewNop())

	got := p.Apply(context.Background(), rec, model.Transition{Action: model.ActionResolve})

	assert.Equal(t, model.ActionFailed, got.Status)
	assert.Equal(t, reasonNotMatched, got.Reason)
}
