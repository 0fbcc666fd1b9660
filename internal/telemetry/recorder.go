// Package telemetry turns auth outcomes and sweeper runs into InfluxDB points.
package telemetry

import (
	"context"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/infrastructure/influxdb"
)

// PointWriter is the subset of *influxdb.Client the recorder needs.
type PointWriter interface {
	WriteAuthEvent(p influxdb.AuthEventPoint)
}

// Recorder implements auth.EventRecorder on top of InfluxDB.
type Recorder struct {
	w PointWriter
}

var _ auth.EventRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w}
}

// RecordAuthEvent writes one point. The identity ID is dropped.
func (r *Recorder) RecordAuthEvent(_ context.Context, e auth.AuthEvent) {
	outcome := "success"
	reason := ""
	if !e.Success {
		outcome = "failure"
		reason = e.Reason
	}

	r.w.WriteAuthEvent(influxdb.AuthEventPoint{
		Event:   e.Name,
		Method:  string(e.Method),
		Outcome: outcome,
		Reason:  reason,
		At:      e.At,
	})
}
