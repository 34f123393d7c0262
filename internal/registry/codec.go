package registry

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-varint"

	"HubRelay/internal/core/identity"
)

// Record layout:
//
//	discriminator [8]byte
//	owner         [identity.Width]byte
//	created_at    int64 big-endian, unix milliseconds
//	count         uvarint
//	entries       hub:       subscriber [identity.Width]byte, uvarint len, topic
//	              topic set: uvarint len, name
const (
	discriminatorLen = 8
	timestampLen     = 8
	headerLen        = discriminatorLen + identity.Width + timestampLen
)

var discriminators = map[RecordKind][discriminatorLen]byte{
	RecordHub:      {'h', 'u', 'b', 'r', 'l', 'h', 'u', 'b'},
	RecordTopicSet: {'h', 'u', 'b', 'r', 'l', 't', 'o', 'p'},
}

// Space is the largest encoded size a record of kind can reach. It is what a
// backend reserves when the record is created.
func Space(kind RecordKind) int {
	topic := varint.UvarintSize(MaxTopicLen) + MaxTopicLen
	switch kind {
	case RecordHub:
		return headerLen + varint.UvarintSize(MaxSubscriptions) + MaxSubscriptions*(identity.Width+topic)
	case RecordTopicSet:
		return headerLen + varint.UvarintSize(MaxTopics) + MaxTopics*topic
	default:
		return 0
	}
}

// Encode serializes rec. Records that break a capacity bound are rejected, never
// truncated.
func Encode(rec Record) ([]byte, error) {
	disc, ok := discriminators[rec.Kind()]
	if !ok {
		return nil, ErrWrongRecordKind
	}
	head := rec.Head()
	if len(head.Owner) != identity.Width {
		return nil, fmt.Errorf("%w: owner is %d bytes", ErrInvalidIdentity, len(head.Owner))
	}

	buf := make([]byte, 0, Space(rec.Kind()))
	buf = append(buf, disc[:]...)
	buf = append(buf, head.Owner...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(head.CreatedAt.UnixMilli()))

	switch r := rec.(type) {
	case *Hub:
		if len(r.Subscriptions) > MaxSubscriptions {
			return nil, ErrSubscriptionLimitReached
		}
		buf = append(buf, varint.ToUvarint(uint64(len(r.Subscriptions)))...)
		for _, s := range r.Subscriptions {
			if len(s.Subscriber) != identity.Width {
				return nil, fmt.Errorf("%w: subscriber is %d bytes", ErrInvalidIdentity, len(s.Subscriber))
			}
			if len(s.Topic) > MaxTopicLen {
				return nil, ErrTopicNameTooLong
			}
			buf = append(buf, s.Subscriber...)
			buf = appendString(buf, s.Topic)
		}
	case *TopicSet:
		if len(r.Topics) > MaxTopics {
			return nil, ErrTopicLimitReached
		}
		buf = append(buf, varint.ToUvarint(uint64(len(r.Topics)))...)
		for _, name := range r.Topics {
			if len(name) > MaxTopicLen {
				return nil, ErrTopicNameTooLong
			}
			buf = appendString(buf, name)
		}
	}
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, varint.ToUvarint(uint64(len(s)))...)
	return append(buf, s...)
}

// Decode parses a record stored at addr.
func Decode(addr cid.Cid, data []byte) (Record, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptRecord, len(data))
	}
	var disc [discriminatorLen]byte
	copy(disc[:], data)
	kind := RecordKind(0)
	for k, d := range discriminators {
		if d == disc {
			kind = k
		}
	}
	if kind == 0 {
		return nil, fmt.Errorf("%w: unknown discriminator %x", ErrCorruptRecord, disc)
	}
	if len(data) > Space(kind) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %s space", ErrCorruptRecord, len(data), kind)
	}

	head := Header{
		Address:   addr,
		Owner:     peer.ID(data[discriminatorLen : discriminatorLen+identity.Width]),
		CreatedAt: time.UnixMilli(int64(binary.BigEndian.Uint64(data[discriminatorLen+identity.Width:]))).UTC(),
	}
	r := &reader{buf: data[headerLen:]}
	count := r.uvarint()

	var rec Record
	switch kind {
	case RecordHub:
		if count > MaxSubscriptions {
			return nil, fmt.Errorf("%w: %d subscriptions", ErrCorruptRecord, count)
		}
		hub := &Hub{Header: head, Subscriptions: make([]Subscription, 0, count)}
		for i := uint64(0); i < count && r.err == nil; i++ {
			sub := peer.ID(r.bytes(identity.Width))
			topic := r.string()
			hub.Subscriptions = append(hub.Subscriptions, Subscription{Subscriber: sub, Topic: topic})
		}
		rec = hub
	case RecordTopicSet:
		if count > MaxTopics {
			return nil, fmt.Errorf("%w: %d topics", ErrCorruptRecord, count)
		}
		set := &TopicSet{Header: head, Topics: make([]string, 0, count)}
		for i := uint64(0); i < count && r.err == nil; i++ {
			set.Topics = append(set.Topics, r.string())
		}
		rec = set
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, r.err)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, len(r.buf))
	}
	return rec, nil
}

// reader consumes a byte slice and remembers the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.FromUvarint(r.buf)
	if err != nil {
		r.err = err
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("need %d bytes, have %d", n, len(r.buf))
		return nil
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out
}

func (r *reader) string() string {
	n := r.uvarint()
	if r.err == nil && n > MaxTopicLen {
		r.err = fmt.Errorf("string of %d bytes", n)
	}
	return string(r.bytes(int(n)))
}
