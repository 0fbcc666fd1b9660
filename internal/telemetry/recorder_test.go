package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/infrastructure/influxdb"
)

type capturingWriter struct {
	points []influxdb.AuthEventPoint
}

func (w *capturingWriter) WriteAuthEvent(p influxdb.AuthEventPoint) {
	w.points = append(w.points, p)
}

func TestRecordAuthEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event auth.AuthEvent
		want  influxdb.AuthEventPoint
	}{
		{
			name: "success drops reason",
			event: auth.AuthEvent{Name: auth.EventLogin, Method: auth.MethodLocal, Success: true,
				Reason: "ignored", IdentityID: "id-1", At: at},
			want: influxdb.AuthEventPoint{Event: "login", Method: "local", Outcome: "success", At: at},
		},
		{
			name: "failure keeps reason",
			event: auth.AuthEvent{Name: auth.EventRefresh, Success: false,
				Reason: auth.ReasonTokenExpired, At: at},
			want: influxdb.AuthEventPoint{Event: "refresh", Outcome: "failure", Reason: "token_expired", At: at},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &capturingWriter{}
			NewRecorder(w).RecordAuthEvent(context.Background(), tt.event)

			if len(w.points) != 1 {
				t.Fatalf("wrote %d points, want 1", len(w.points))
			}
			if w.points[0] != tt.want {
				t.Errorf("point = %+v, want %+v", w.points[0], tt.want)
			}
		})
	}
}
