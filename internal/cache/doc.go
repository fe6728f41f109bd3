// Package cache suppresses duplicate frames.
//
// Gateways on overlapping islands hear the same transmission, and relayed
// frames echo back to their sender. The cache keeps the fingerprint of every
// frame seen within a configurable window so each one is handled once.
package cache
