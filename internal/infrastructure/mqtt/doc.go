// Package mqtt provides the MQTT publisher used to hand work to the
// Reportline mailer.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Reportline does not send mail itself. Password-reset requests are
// published to reportline/mail/password-reset and a separate mailer
// service renders and delivers them.
//
//	Reportline ↔ MQTT Broker ↔ Mailer
//
// # Security Considerations
//
//   - Reset payloads carry live reset tokens: use TLS (cfg.Broker.TLS=true)
//     and broker ACLs that restrict the mail topics to the mailer
//   - Mail hand-offs are never retained
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.PasswordReset(), msg)
package mqtt
