package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

func TestCategory(t *testing.T) {
	assert.Equal(t, CategorySecurity, EventReplayDetected.Category())
	assert.Equal(t, CategoryOperations, EventCodeIssued.Category())
	assert.Equal(t, CategoryOperations, AuditEvent("something_new").Category())
}

func TestEmit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	ctx = requestcontext.WithClientID(ctx, "client-a")

	t.Run("fills in context values", func(t *testing.T) {
		rec := NewRecorder()
		Emit(ctx, rec, Event{Action: EventReplayDetected, ErrorCode: "E1004"})

		events := rec.Events()
		require.Len(t, events, 1)
		assert.Equal(t, CategorySecurity, events[0].Category)
		assert.Equal(t, SeverityWarning, events[0].Severity)
		assert.Equal(t, now, events[0].Timestamp)
		assert.Equal(t, "req-1", events[0].RequestID)
		assert.Equal(t, "client-a", events[0].ClientID)
	})

	t.Run("explicit values win", func(t *testing.T) {
		rec := NewRecorder()
		Emit(ctx, rec, Event{Action: EventCodeIssued, ClientID: "client-b", Severity: SeverityInfo})

		events := rec.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "client-b", events[0].ClientID)
		assert.Equal(t, SeverityInfo, events[0].Severity)
		assert.Equal(t, []AuditEvent{EventCodeIssued}, rec.Actions())
	})

	t.Run("nil publisher", func(t *testing.T) {
		assert.NotPanics(t, func() { Emit(ctx, nil, Event{Action: EventCodeIssued}) })
	})
}
