package zk

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Op identifies the operation carried by a request header and echoed in
// matching replies.
type Op int32

const (
	opNotify       Op = 0
	OpCreate       Op = 1
	OpDelete       Op = 2
	OpExists       Op = 3
	OpGetData      Op = 4
	OpSetData      Op = 5
	OpGetACL       Op = 6
	OpSetACL       Op = 7
	OpGetChildren  Op = 8
	OpSync         Op = 9
	OpPing         Op = 11
	OpGetChildren2 Op = 12
	OpClose        Op = -11
	OpSetAuth      Op = 100
	OpSetWatches   Op = 101
)

// RequestHeader prefixes every client request except the initial connect
// handshake, which has no header.
type RequestHeader struct {
	Xid  int32
	Type Op
}

// ReplyHeader prefixes every server reply except the initial connect
// handshake response.
type ReplyHeader struct {
	Xid  int32
	Zxid int64
	Err  ErrCode
}

// ConnectRequest is the fixed-layout handshake record sent immediately
// after the TCP connection is established, before any length-prefixed
// RequestHeader-bearing request.
type ConnectRequest struct {
	ProtocolVersion int32
	LastZxidSeen    int64
	TimeOut         int32
	SessionID       int64
	Passwd          []byte
}

// ConnectResponse is the fixed-layout handshake reply. A SessionID of
// zero combined with a TimeOut of zero indicates the server rejected the
// resumption attempt (mapped to EventExpiredReply by the caller).
type ConnectResponse struct {
	ProtocolVersion int32
	TimeOut         int32
	SessionID       int64
	Passwd          []byte
}

// Stat mirrors the per-znode metadata record returned by read operations.
type Stat struct {
	Czxid          int64
	Mzxid          int64
	Ctime          int64
	Mtime          int64
	Version        int32
	Cversion       int32
	Aversion       int32
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
	Pzxid          int64
}

// WatcherEvent is the payload of an unsolicited reply carrying
// WatcherEventXID — a server-pushed notification for a previously
// installed one-shot watch.
type WatcherEvent struct {
	Type  EventType
	State State
	Path  string
}

// Codec encodes request bodies and decodes reply bodies. This is the
// narrow, swappable collaborator: zk ships juteCodec, a minimal
// implementation of the subset of the wire schema the core operations
// need, but callers may supply their own for operations this package
// does not model.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte, v any) error
}

// writeFrame writes a 4-byte big-endian length prefix followed by
// payload — the framing used for every message in both directions.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload))) //nolint:gosec // G115: payload bounded by maxPacketSize below
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// maxPacketSize bounds a single frame's payload to guard against a
// corrupt or malicious length prefix causing an unbounded allocation.
const maxPacketSize = 4 * 1024 * 1024

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxPacketSize {
		return nil, fmt.Errorf("frame length %d exceeds max %d: %w", n, maxPacketSize, ErrMarshallingError)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return buf, nil
}
