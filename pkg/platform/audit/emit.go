package audit

import (
	"context"

	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// Emit fills in category, timestamp and request metadata from ctx, then publishes.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.ClientID == "" {
		event.ClientID = requestcontext.ClientID(ctx)
	}
	if event.Severity == "" && event.Category == CategorySecurity {
		event.Severity = SeverityWarning
	}
	p.Publish(ctx, event)
}
