// Package mqtt connects the relay to the MQTT broker shared with the
// ChirpStack gateway bridges.
//
// The relay reaches every gateway through this single connection: uplinks
// arrive on the bridges' event topics and downlinks leave on their command
// topics. The package handles:
//   - Connection with auto-reconnect and subscription restoration
//   - Publishing with QoS and a bounded wait for acknowledgement
//   - A retained online/offline status with Last Will and Testament
//   - Connection health checks
//
// # Topics
//
// Status topics live under mqtt.status_prefix (default "lorarelay"):
//
//	lorarelay/system/status        retained online/offline, LWT
//	lorarelay/relay/health         gateway bridge health
//	lorarelay/relay/event/<kind>   relay events mirrored for other consumers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return fmt.Errorf("connecting to MQTT: %w", err)
//	}
//	defer client.Close()
//
//	client.SetLogger(logger)
//	err = client.Subscribe("eu868/gateway/+/event/+", 1, handler)
//
// # Security
//
// Enable TLS (mqtt.broker.tls) whenever the broker is not on the local host.
// Payloads are not encrypted beyond the transport.
package mqtt
