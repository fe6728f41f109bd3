package frame

// Kind classifies a frame by its prefix byte. The set is closed: any byte
// that matches no configured prefix is KindUnknown.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRelay
	KindBundle
	KindAnnouncement
)

// String returns the lower-case class name used in logs, metrics and the API.
func (k Kind) String() string {
	switch k {
	case KindRelay:
		return "relay"
	case KindBundle:
		return "bundle"
	case KindAnnouncement:
		return "announcement"
	default:
		return "unknown"
	}
}

// Prefixes maps each frame class to the byte that introduces it on the wire.
// The same table is used for transmit and receive.
type Prefixes struct {
	Relay        uint8
	Bundle       uint8
	Announcement uint8
}

// DefaultPrefixes returns the prefix table used when none is configured.
func DefaultPrefixes() Prefixes {
	return Prefixes{Relay: 0x01, Bundle: 0x02, Announcement: 0x03}
}

// Validate reports ErrDuplicatePrefix if two classes share a byte.
func (p Prefixes) Validate() error {
	if p.Relay == p.Bundle || p.Relay == p.Announcement || p.Bundle == p.Announcement {
		return ErrDuplicatePrefix
	}
	return nil
}

// Kind returns the class introduced by prefix byte b.
func (p Prefixes) Kind(b byte) Kind {
	switch b {
	case p.Relay:
		return KindRelay
	case p.Bundle:
		return KindBundle
	case p.Announcement:
		return KindAnnouncement
	default:
		return KindUnknown
	}
}

// Byte returns the prefix byte for class k. The second result is false for KindUnknown.
func (p Prefixes) Byte(k Kind) (byte, bool) {
	switch k {
	case KindRelay:
		return p.Relay, true
	case KindBundle:
		return p.Bundle, true
	case KindAnnouncement:
		return p.Announcement, true
	default:
		return 0, false
	}
}
