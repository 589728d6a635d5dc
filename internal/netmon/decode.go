package netmon

import (
	"encoding/binary"
	"fmt"
)

// Netlink and rtnetlink message types we classify, from linux/netlink.h and
// linux/rtnetlink.h. Kept local so the decoder builds on every platform.
const (
	nlmsgError   = 0x2  // NLMSG_ERROR
	nlmsgDone    = 0x3  // NLMSG_DONE
	rtmNewLink   = 0x10 // RTM_NEWLINK
	rtmNewAddr   = 0x14 // RTM_NEWADDR
	rtmDelAddr   = 0x15 // RTM_DELADDR
	rtmNewRoute  = 0x18 // RTM_NEWROUTE
	rtmDelRoute  = 0x19 // RTM_DELROUTE
	nlmsgAlignTo = 4    // NLMSG_ALIGNTO

	// Header layout (struct nlmsghdr):
	// - bytes 0-3: total record length, header included
	// - bytes 4-5: message type
	// - bytes 6-7: flags
	// - bytes 8-11: sequence number
	// - bytes 12-15: sender port id
	nlmsgHdrLen = 16

	// struct nlmsgerr starts with a signed int error.
	nlmsgErrCodeLen = 4
)

// Records are laid out in host byte order.
var order = binary.NativeEndian

type record struct {
	typ  uint16
	body []byte
}

// recordReader walks the records packed in one datagram.
type recordReader struct {
	buf []byte
	off int

	// truncated is set when the kernel cut the datagram to fit buf. A record
	// running past the end then ends the walk instead of failing it.
	truncated bool
}

func newRecordReader(buf []byte, truncated bool) *recordReader {
	return &recordReader{buf: buf, truncated: truncated}
}

// next returns the next record. ok is false once fewer than a header's worth
// of bytes remain.
func (r *recordReader) next() (rec record, ok bool, err error) {
	remaining := len(r.buf) - r.off
	if remaining < nlmsgHdrLen {
		return record{}, false, nil
	}

	hdr := r.buf[r.off:]
	length := order.Uint32(hdr[0:4])
	if r.truncated && length >= nlmsgHdrLen && uint64(length) > uint64(remaining) {
		return record{}, false, nil
	}
	if length < nlmsgHdrLen || uint64(length) > uint64(remaining) {
		return record{}, false, fmt.Errorf("%w: record length %d at offset %d, %d bytes left",
			ErrMalformedMessage, length, r.off, remaining)
	}

	rec = record{
		typ:  order.Uint16(hdr[4:6]),
		body: hdr[nlmsgHdrLen:length],
	}

	aligned := int(nlmsgAlign(length))
	if aligned > remaining {
		aligned = remaining
	}
	r.off += aligned
	return rec, true, nil
}

func nlmsgAlign(length uint32) uint32 {
	return (length + nlmsgAlignTo - 1) &^ (nlmsgAlignTo - 1)
}

// classifyDatagram maps every record in buf to change categories. Scanning
// stops at NLMSG_DONE; an NLMSG_ERROR record fails the whole datagram.
// When truncated is set, only the records that fit completely in buf count.
func classifyDatagram(buf []byte, truncated bool) (NetworkChangeEvent, error) {
	events := None
	r := newRecordReader(buf, truncated)

scan:
	for {
		rec, ok, err := r.next()
		if err != nil {
			return None, err
		}
		if !ok {
			break
		}

		switch rec.typ {
		case nlmsgDone:
			break scan
		case nlmsgError:
			return None, parseErrorRecord(rec.body)
		case rtmNewLink:
			events = events.Union(NicChanged)
		case rtmNewAddr, rtmDelAddr:
			events = events.Union(AddressChanged)
		case rtmNewRoute, rtmDelRoute:
			events = events.Union(RouteChanged)
		}
	}

	return events, nil
}

func parseErrorRecord(body []byte) error {
	if len(body) < nlmsgErrCodeLen {
		return fmt.Errorf("%w: error record body is %d bytes", ErrMalformedMessage, len(body))
	}
	return &KernelError{Code: int32(order.Uint32(body[:nlmsgErrCodeLen]))}
}
