// Package enddevice tracks the end devices whose frames are relayed.
//
// The registry starts from the configured end_device_ids and is changed at
// runtime through the management API. Frames whose source is not in the
// registry are ignored before they reach the message cache.
package enddevice
