package chirpstack

import (
	"fmt"
	"strings"
)

// Topic kinds and event types used by the ChirpStack gateway bridge.
const (
	KindEvent   = "event"
	KindCommand = "command"
	KindState   = "state"

	EventUp     = "up"
	CommandDown = "down"
)

// Topics builds gateway bridge topics under a region prefix such as "eu868".
type Topics struct {
	Prefix string
}

// Uplink returns the uplink event topic of one gateway.
//
// Example: eu868/gateway/0102030405060708/event/up
func (t Topics) Uplink(gatewayID string) string {
	return fmt.Sprintf("%s/gateway/%s/%s/%s", t.Prefix, gatewayID, KindEvent, EventUp)
}

// Downlink returns the downlink command topic of one gateway.
//
// Example: eu868/gateway/0102030405060708/command/down
func (t Topics) Downlink(gatewayID string) string {
	return fmt.Sprintf("%s/gateway/%s/%s/%s", t.Prefix, gatewayID, KindCommand, CommandDown)
}

// AllEvents matches every event of every gateway.
//
// Pattern: eu868/gateway/+/event/+
func (t Topics) AllEvents() string {
	return fmt.Sprintf("%s/gateway/+/%s/+", t.Prefix, KindEvent)
}

// ParsedTopic is a decomposed gateway bridge topic.
type ParsedTopic struct {
	GatewayID string
	Kind      string
	Type      string
}

// ParseTopic splits "<prefix>/gateway/<id>/<kind>/<type>". The prefix may
// itself contain slashes.
func ParseTopic(topic string) (ParsedTopic, error) {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 5 || parts[n-4] != "gateway" {
		return ParsedTopic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	p := ParsedTopic{GatewayID: parts[n-3], Kind: parts[n-2], Type: parts[n-1]}
	if p.GatewayID == "" || p.Kind == "" || p.Type == "" {
		return ParsedTopic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return p, nil
}
