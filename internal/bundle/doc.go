// Package bundle fragments bundles into radio-sized frames and reassembles them.
//
// A LoRaWAN frame carries at most a few hundred bytes, so a bundle is split
// into up to 255 fragments that share the originating device and a 16-bit
// bundle id. Receivers buffer fragments per (source, bundle id) and emit the
// bundle once all indices are present.
package bundle
