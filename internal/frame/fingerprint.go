package frame

import (
	"encoding/hex"
	"hash/crc32"

	"golang.org/x/crypto/sha3"
)

// Fingerprint is the SHA3-256 digest identifying a frame in the message cache.
type Fingerprint [32]byte

// String returns the lower-case hex form used in logs and the journal.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// Fingerprint hashes the encoded frame. The announcement hop byte is zeroed
// first so a re-forwarded announcement matches its original.
func (f *Frame) Fingerprint() Fingerprint {
	raw := f.Marshal()
	if f.Kind == KindAnnouncement {
		raw[HeaderSize] = 0
	}
	return sha3.Sum256(raw)
}

// DeviceID returns the 32-bit wire identifier of an end device id string.
func DeviceID(id string) uint32 {
	return crc32.ChecksumIEEE([]byte(id))
}
