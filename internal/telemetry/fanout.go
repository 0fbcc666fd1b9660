package telemetry

import (
	"context"

	"github.com/reportline/reportline-core/internal/auth"
)

// Fanout delivers each auth event to several recorders in order.
type Fanout []auth.EventRecorder

// Combine returns a recorder for the non-nil entries of recorders, or nil
// when there are none.
func Combine(recorders ...auth.EventRecorder) auth.EventRecorder {
	var f Fanout
	for _, r := range recorders {
		if r != nil {
			f = append(f, r)
		}
	}
	switch len(f) {
	case 0:
		return nil
	case 1:
		return f[0]
	default:
		return f
	}
}

// RecordAuthEvent implements auth.EventRecorder.
func (f Fanout) RecordAuthEvent(ctx context.Context, e auth.AuthEvent) {
	for _, r := range f {
		r.RecordAuthEvent(ctx, e)
	}
}
