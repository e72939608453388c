package codec

import (
	"encoding/binary"
	"errors"
	"math"

	"proxygen/message"
)

var (
	errNotMessage = errors.New("BinaryCodec: v must be *RPCMessage")
	errShort      = errors.New("BinaryCodec: truncated message")
	errTooLong    = errors.New("BinaryCodec: field too long")
)

// BinaryCodec lays an RPCMessage out as length-prefixed fields, big-endian:
//
//	procLen u16 | proc | ctx i32 | errNo i32 | errType i32 | msgLen u16 | msg |
//	payloadLen u32 | payload | errLen u16 | err
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotMessage
	}
	if len(msg.Procedure) > math.MaxUint16 || len(msg.OSCA.MsgText) > math.MaxUint16 ||
		len(msg.Error) > math.MaxUint16 || uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, errTooLong
	}

	total := 2 + len(msg.Procedure) + 12 + 2 + len(msg.OSCA.MsgText) + 4 + len(msg.Payload) + 2 + len(msg.Error)
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Procedure)))
	buf = append(buf, msg.Procedure...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(msg.OSCA.ContextID))
	buf = binary.BigEndian.AppendUint32(buf, uint32(msg.OSCA.ErrorNo))
	buf = binary.BigEndian.AppendUint32(buf, uint32(msg.OSCA.ErrorType))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.OSCA.MsgText)))
	buf = append(buf, msg.OSCA.MsgText...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Error)))
	buf = append(buf, msg.Error...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotMessage
	}
	r := reader{data: data}

	msg.Procedure = string(r.bytes(int(r.u16())))
	msg.OSCA.ContextID = int32(r.u32())
	msg.OSCA.ErrorNo = int32(r.u32())
	msg.OSCA.ErrorType = int32(r.u32())
	msg.OSCA.MsgText = string(r.bytes(int(r.u16())))

	payload := r.bytes(int(r.u32()))
	msg.Payload = make([]byte, len(payload))
	copy(msg.Payload, payload)

	msg.Error = string(r.bytes(int(r.u16())))
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a buffer and latches the first truncation.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errShort
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
