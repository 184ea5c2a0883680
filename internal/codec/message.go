package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/pkg/errors"
)

var mh = &codec.MsgpackHandle{}

// Encode writes typ followed by the msgpack encoding of body.
func Encode(typ MessageType, body interface{}) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	buf.WriteByte(byte(typ))
	enc := codec.NewEncoder(buf, mh)
	if err := enc.Encode(body); err != nil {
		return nil, errors.Wrap(err, "msgpack encode failed")
	}
	return buf.Bytes(), nil
}

// Decode decodes the msgpack body (buf must already have the type byte
// stripped) into out.
func Decode(buf []byte, out interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(buf), mh)
	return errors.Wrap(dec.Decode(out), "msgpack decode failed")
}

// compoundHeaderOverhead is the fixed overhead of the count byte.
const compoundHeaderOverhead = 1

// compoundOverhead is the per-message length-prefix overhead.
const compoundOverhead = 2

const maxCompoundMessages = 255

// PerMessageOverhead is the framing cost MakeCompound adds per bundled
// message, for callers sizing a GetBroadcasts budget.
func PerMessageOverhead() int { return compoundOverhead }

// MakeCompound bundles up to 255 already-encoded messages into one
// Compound-typed datagram.
func MakeCompound(msgs [][]byte) []byte {
	if len(msgs) > maxCompoundMessages {
		msgs = msgs[:maxCompoundMessages]
	}
	buf := bytes.NewBuffer(make([]byte, 0, compoundHeaderOverhead))
	buf.WriteByte(byte(TypeCompound))
	buf.WriteByte(uint8(len(msgs)))
	for _, m := range msgs {
		binary.Write(buf, binary.BigEndian, uint16(len(m)))
	}
	for _, m := range msgs {
		buf.Write(m)
	}
	return buf.Bytes()
}

// DecodeCompound splits a Compound body (type byte already stripped) back
// into its constituent framed messages. A truncated entry is reported but
// does not prevent decoding the entries that remain.
func DecodeCompound(buf []byte) (parts [][]byte, truncated bool, err error) {
	if len(buf) < 1 {
		return nil, false, errors.New("compound message missing count byte")
	}
	numParts := int(buf[0])
	buf = buf[1:]

	lengths := make([]uint16, 0, numParts)
	for i := 0; i < numParts; i++ {
		if len(buf) < 2 {
			return parts, true, nil
		}
		lengths = append(lengths, binary.BigEndian.Uint16(buf[:2]))
		buf = buf[2:]
	}

	for _, l := range lengths {
		if len(buf) < int(l) {
			truncated = true
			break
		}
		parts = append(parts, buf[:l])
		buf = buf[l:]
	}
	return parts, truncated, nil
}
