// Package chirpstack connects the relay to the ChirpStack MQTT gateway
// bridge.
//
// Gateways publish received LoRa frames as gw.UplinkFrame messages on
//
//	<prefix>/gateway/<gateway id>/event/up
//
// and transmit gw.DownlinkFrame messages received on
//
//	<prefix>/gateway/<gateway id>/command/down
//
// Payloads are protobuf by default, or protojson when the gateway bridge is
// configured with the JSON marshaler.
//
// The relay has no routing table. Every downlink is flooded to every known
// gateway; gateways are seeded from configuration and learned from uplinks.
// A per-gateway admission callback lets the caller apply duty-cycle limits
// before each publish.
//
// Usage:
//
//	bridge, err := chirpstack.NewBridge(chirpstack.Options{
//	    MQTTClient: client,
//	    Topics:     chirpstack.Topics{Prefix: "eu868"},
//	    Codec:      codec,
//	    Handler:    dispatcher.HandleUplink,
//	})
//	if err := bridge.Start(ctx); err != nil { ... }
//	defer bridge.Stop()
package chirpstack
