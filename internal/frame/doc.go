// Package frame implements the relay frame format carried in LoRaWAN PHY payloads.
//
// Every frame starts with a one-byte prefix selecting its class, followed by
// the 32-bit wire id of the originating end device:
//
//	relay:         [prefix][source u32][payload...]
//	bundle:        [prefix][source u32][bundle id u16][index u8][total u8][bytes...]
//	announcement:  [prefix][source u32][hops u8][payload...]
//
// Prefix bytes are configurable and must be distinct. Integers are big-endian.
//
// Frames are identified in the message cache by a SHA3-256 Fingerprint of
// their encoded form.
package frame
