package mqtt

// Topic prefixes. Everything Reportline publishes lives under "reportline".
const (
	// TopicPrefix is the root of all Reportline topics.
	TopicPrefix = "reportline"

	// TopicPrefixMail is the base for hand-offs consumed by the mailer.
	TopicPrefixMail = TopicPrefix + "/mail"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for Reportline MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// PasswordReset returns the topic carrying password-reset mail requests.
//
// Example: reportline/mail/password-reset
func (Topics) PasswordReset() string {
	return TopicPrefixMail + "/password-reset"
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: reportline/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
