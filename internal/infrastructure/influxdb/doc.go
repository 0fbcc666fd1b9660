// Package influxdb provides InfluxDB connectivity for Reportline telemetry.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes, and health monitoring.
//
// # Purpose
//
// One point is written to the auth_events measurement for every login,
// refresh, logout and password-reset attempt, tagged by event, outcome,
// method and failure reason. Dashboards use it to spot credential-stuffing
// bursts and replayed renewal tokens.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent(influxdb.AuthEventPoint{Event: "login", Outcome: "success"})
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
