// Package dispatch classifies uplinks received from the gateway bridge.
//
// For every uplink the dispatcher:
//
//  1. parses the frame header against the configured prefix bytes
//  2. drops frames whose source is not a registered end device, without
//     touching the message cache
//  3. drops frames whose fingerprint the cache has already seen
//  4. routes the rest by kind: relay frames to the relay queue, bundle
//     fragments to the reassembler (complete bundles to the bundle queue and
//     the observer), announcements to the observer and, while hops remain,
//     back to the announcement queue with the hop count decremented
//
// Unknown prefixes and malformed headers are logged and discarded. A full
// queue drops the item and is counted; the dispatcher never blocks.
package dispatch
