// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport lets several goroutines call procedures over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop) continuously
// reads responses and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"proxygen/codec"
	"proxygen/message"
	"proxygen/protocol"
)

var ErrClosed = errors.New("transport: connection closed")

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn        // Underlying TCP connection
	codec   codec.CodecType // Serialization format for this transport
	seq     uint32          // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map        // map[uint32]chan *message.RPCMessage, each request waits on its own channel
	sending sync.Mutex      // Write lock: frames from concurrent callers must not interleave
	done    chan struct{}   // Closed when recvLoop exits
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
//
// A heartbeat interval <= 0 disables heartbeats.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration) *ClientTransport {
	transport := &ClientTransport{
		conn:  conn,
		codec: codecType,
		done:  make(chan struct{}),
	}
	go transport.recvLoop()
	if heartbeat > 0 {
		go transport.heartbeatLoop(heartbeat)
	}
	return transport
}

// Dial connects to addr and wraps the connection in a ClientTransport.
func Dial(ctx context.Context, addr string, codecType codec.CodecType, heartbeat time.Duration) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn, codecType, heartbeat), nil
}

// Send encodes msg and writes it as one request frame.
// Returns the sequence number and a channel that will receive the response.
func (t *ClientTransport) Send(msg *message.RPCMessage) (uint32, <-chan *message.RPCMessage, error) {
	select {
	case <-t.done:
		return 0, nil, ErrClosed
	default:
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	// Assign a unique sequence number for this request (protected by sending mutex)
	t.seq++
	seq := t.seq

	body, err := codec.GetCodec(t.codec).Encode(msg)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register a response channel BEFORE sending (avoid race with recvLoop)
	respChan := make(chan *message.RPCMessage, 1) // Buffered to prevent recvLoop from blocking
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq) // Clean up on failure
		return 0, nil, err
	}

	return seq, respChan, nil
}

// Call sends msg and waits for its response, the context, or the connection to end.
func (t *ClientTransport) Call(ctx context.Context, msg *message.RPCMessage) (*message.RPCMessage, error) {
	seq, ch, err := t.Send(msg)
	if err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, ctx.Err()
	case <-t.done:
		// closeAllPending may have raced with us; prefer its answer if there is one
		select {
		case resp := <-ch:
			return resp, nil
		default:
			return nil, ErrClosed
		}
	}
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from the connection.
// For each response, it looks up the sequence number in the pending map, finds the caller's
// channel, and sends the response. Responses can arrive in any order, and each one is
// routed to the correct waiting goroutine.
//
// TCP is a byte stream, so reads must be sequential to parse frame boundaries.
func (t *ClientTransport) recvLoop() {
	defer close(t.done)
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			// Connection broken: notify all pending callers
			t.closeAllPending(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		responseRPC := message.RPCMessage{}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(body, &responseRPC); err != nil {
			responseRPC = message.RPCMessage{Error: err.Error()}
		}

		// Route the response to the correct caller using the sequence number
		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *message.RPCMessage) <- &responseRPC
		}
	}
}

// closeAllPending is called when the connection breaks. It sends an error message
// to every pending caller so they don't block forever waiting for a response.
func (t *ClientTransport) closeAllPending(err error) {
	t.pending.Range(func(key, value any) bool {
		t.pending.Delete(key)
		value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: err.Error()}
		return true
	})
}

// Close closes the connection. Pending calls fail and the background goroutines exit.
func (t *ClientTransport) Close() error {
	err := t.conn.Close()
	<-t.done
	return err
}

// Done is closed once the connection has ended.
func (t *ClientTransport) Done() <-chan struct{} { return t.done }

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have MsgType=Heartbeat and no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		// Heartbeat writes also need the sending lock to avoid frame interleaving
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return // Connection broken, exit heartbeat loop
		}
	}
}
