package frame

import (
	"encoding/binary"
	"fmt"
)

// Header sizes in bytes, prefix included.
const (
	HeaderSize             = 5
	BundleHeaderSize       = HeaderSize + 4
	AnnouncementHeaderSize = HeaderSize + 1
)

// Frame is one classified relay frame.
//
// Fields that do not apply to a kind are zero: BundleID, Index and Total are
// only set for bundle fragments, Hops only for announcements.
type Frame struct {
	Kind   Kind
	Prefix uint8
	Source uint32

	BundleID uint16
	Index    uint8
	Total    uint8

	Hops uint8

	Payload []byte
}

// Parse classifies raw against the prefix table and decodes its header.
//
// A frame whose prefix is not configured is returned with Kind KindUnknown
// together with ErrUnknownPrefix, so callers can still log the prefix byte.
// The returned payload aliases raw.
func Parse(raw []byte, prefixes Prefixes) (*Frame, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	kind := prefixes.Kind(raw[0])
	if kind == KindUnknown {
		return &Frame{Kind: KindUnknown, Prefix: raw[0]}, fmt.Errorf("%w: 0x%02x", ErrUnknownPrefix, raw[0])
	}

	f := &Frame{Kind: kind, Prefix: raw[0]}
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: %s frame of %d bytes", ErrMalformed, kind, len(raw))
	}
	f.Source = binary.BigEndian.Uint32(raw[1:5])

	switch kind {
	case KindBundle:
		if len(raw) < BundleHeaderSize {
			return nil, fmt.Errorf("%w: bundle fragment of %d bytes", ErrMalformed, len(raw))
		}
		f.BundleID = binary.BigEndian.Uint16(raw[5:7])
		f.Index = raw[7]
		f.Total = raw[8]
		if f.Total == 0 || f.Index >= f.Total {
			return nil, fmt.Errorf("%w: fragment %d of %d", ErrMalformed, f.Index, f.Total)
		}
		f.Payload = raw[BundleHeaderSize:]
	case KindAnnouncement:
		if len(raw) < AnnouncementHeaderSize {
			return nil, fmt.Errorf("%w: announcement of %d bytes", ErrMalformed, len(raw))
		}
		f.Hops = raw[5]
		f.Payload = raw[AnnouncementHeaderSize:]
	default:
		f.Payload = raw[HeaderSize:]
	}

	return f, nil
}

// HeaderLen returns the encoded header length for the frame's kind.
func (f *Frame) HeaderLen() int {
	switch f.Kind {
	case KindBundle:
		return BundleHeaderSize
	case KindAnnouncement:
		return AnnouncementHeaderSize
	default:
		return HeaderSize
	}
}

// Len returns the encoded size of the frame.
func (f *Frame) Len() int {
	return f.HeaderLen() + len(f.Payload)
}

// Marshal encodes the frame. It is the inverse of Parse.
func (f *Frame) Marshal() []byte {
	buf := make([]byte, f.Len())
	buf[0] = f.Prefix
	binary.BigEndian.PutUint32(buf[1:5], f.Source)

	switch f.Kind {
	case KindBundle:
		binary.BigEndian.PutUint16(buf[5:7], f.BundleID)
		buf[7] = f.Index
		buf[8] = f.Total
	case KindAnnouncement:
		buf[5] = f.Hops
	}

	copy(buf[f.HeaderLen():], f.Payload)
	return buf
}

// Clone returns a deep copy of f, detaching the payload from any receive buffer.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Payload = append([]byte(nil), f.Payload...)
	return &c
}
