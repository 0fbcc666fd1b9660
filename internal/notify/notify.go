// Package notify hands password-reset requests to the mailer.
//
// The MQTT notifier publishes one non-retained QoS 1 message per request on
// reportline/mail/password-reset; the mailer service subscribes and sends
// the email. When MQTT is disabled the log notifier records that a reset
// was requested without exposing the token.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/infrastructure/logging"
	"github.com/reportline/reportline-core/internal/infrastructure/mqtt"
)

// Publisher is the subset of *mqtt.Client the notifier needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// message is the payload consumed by the mailer.
type message struct {
	IdentityID  string `json:"identity_id"`
	Email       string `json:"email"`
	Token       string `json:"token"`
	ResetURL    string `json:"reset_url,omitempty"`
	RequestedAt string `json:"requested_at"`
}

// MQTTNotifier publishes reset requests to the broker.
type MQTTNotifier struct {
	pub   Publisher
	topic string
}

var _ auth.ResetNotifier = (*MQTTNotifier)(nil)

// NewMQTTNotifier creates an MQTTNotifier.
func NewMQTTNotifier(pub Publisher) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, topic: mqtt.Topics{}.PasswordReset()}
}

// NotifyPasswordReset publishes req. A publish failure is returned so the
// caller can report the reset as temporarily unavailable.
func (n *MQTTNotifier) NotifyPasswordReset(ctx context.Context, req auth.ResetRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := n.pub.PublishJSON(n.topic, message{
		IdentityID:  req.IdentityID,
		Email:       req.Email,
		Token:       req.Token,
		ResetURL:    req.ResetURL,
		RequestedAt: req.RequestedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("publishing reset request: %w", err)
	}
	return nil
}

// LogNotifier logs reset requests. It is used when no broker is configured.
type LogNotifier struct {
	logger *logging.Logger
}

var _ auth.ResetNotifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// NotifyPasswordReset logs the request without the token or link.
func (n *LogNotifier) NotifyPasswordReset(ctx context.Context, req auth.ResetRequest) error {
	n.logger.WithContext(ctx).Warn("password reset requested but no mail transport is configured",
		"identity_id", req.IdentityID,
		"email", req.Email,
	)
	return nil
}
