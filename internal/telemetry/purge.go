package telemetry

// measurementRenewalPurge holds one point per sweeper run.
const measurementRenewalPurge = "renewal_purge"

// PointSink is the subset of *influxdb.Client used for custom points.
type PointSink interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// PurgeCounter returns a sweeper callback that writes the deleted row count.
func PurgeCounter(w PointSink) func(deleted int64) {
	return func(deleted int64) {
		w.WritePoint(measurementRenewalPurge,
			map[string]string{"source": "sweeper"},
			map[string]interface{}{"deleted": deleted},
		)
	}
}
