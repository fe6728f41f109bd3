package frame

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Announcement body limits.
const (
	AnnouncementFixedSize = 6 // timestamp u32, flags u8, device count u8
	MaxAnnouncedDevices   = 255
)

const flagLocation = 0x01

// Announcement is the body of an announcement frame:
//
//	[timestamp u32][flags u8][location 9B if flags&1][count u8][device id u32 × count][text]
//
// The timestamp makes successive announcements from one node distinct, so
// they are not suppressed as duplicates.
type Announcement struct {
	Timestamp time.Time
	Location  *Location
	Devices   []uint32
	Text      []byte
}

// Encode returns the wire form of a.
func (a Announcement) Encode() ([]byte, error) {
	if len(a.Devices) > MaxAnnouncedDevices {
		return nil, fmt.Errorf("%w: %d devices in announcement", ErrMalformed, len(a.Devices))
	}

	size := AnnouncementFixedSize + 4*len(a.Devices) + len(a.Text)
	if a.Location != nil {
		size += LocationSize
	}
	buf := make([]byte, 0, size)

	buf = binary.BigEndian.AppendUint32(buf, uint32(a.Timestamp.Unix()))
	if a.Location != nil {
		loc, err := EncodeLocation(*a.Location)
		if err != nil {
			return nil, err
		}
		buf = append(buf, flagLocation)
		buf = append(buf, loc...)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, byte(len(a.Devices)))
	for _, id := range a.Devices {
		buf = binary.BigEndian.AppendUint32(buf, id)
	}
	return append(buf, a.Text...), nil
}

// DecodeAnnouncement parses an announcement body.
func DecodeAnnouncement(b []byte) (Announcement, error) {
	var a Announcement
	if len(b) < AnnouncementFixedSize {
		return a, fmt.Errorf("%w: announcement body of %d bytes", ErrMalformed, len(b))
	}
	a.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(b[0:4])), 0).UTC()
	flags := b[4]
	rest := b[5:]

	if flags&flagLocation != 0 {
		if len(rest) < LocationSize+1 {
			return a, fmt.Errorf("%w: truncated announcement location", ErrMalformed)
		}
		loc, err := DecodeLocation(rest[:LocationSize])
		if err != nil {
			return a, err
		}
		a.Location = &loc
		rest = rest[LocationSize:]
	}

	count := int(rest[0])
	rest = rest[1:]
	if len(rest) < 4*count {
		return a, fmt.Errorf("%w: announcement declares %d devices in %d bytes", ErrMalformed, count, len(rest))
	}
	if count > 0 {
		a.Devices = make([]uint32, count)
		for i := range a.Devices {
			a.Devices[i] = binary.BigEndian.Uint32(rest[4*i:])
		}
	}
	if text := rest[4*count:]; len(text) > 0 {
		a.Text = append([]byte(nil), text...)
	}
	return a, nil
}
