package mqtt

import "strings"

// DefaultStatusPrefix is used when no status prefix is configured.
const DefaultStatusPrefix = "lorarelay"

// Topics builds the topics this daemon publishes about itself.
//
// Gateway bridge topics are owned by the bridge package; Topics only covers
// the status namespace configured as mqtt.status_prefix:
//
//	topics := mqtt.Topics{Prefix: "lorarelay"}
//	topics.SystemStatus() // "lorarelay/system/status"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultStatusPrefix
	}
	return p
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// RelayHealth is where the gateway bridge reports its health.
func (t Topics) RelayHealth() string {
	return t.prefix() + "/relay/health"
}

// RelayEvent is where relay events of one kind are mirrored, e.g.
// "lorarelay/relay/event/bundle".
func (t Topics) RelayEvent(kind string) string {
	return t.prefix() + "/relay/event/" + kind
}

// AllRelayEvents matches every RelayEvent topic.
func (t Topics) AllRelayEvents() string {
	return t.prefix() + "/relay/event/+"
}
