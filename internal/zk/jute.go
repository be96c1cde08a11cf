package zk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// juteCodec implements Codec for the fixed-layout handshake and the
// minimal set of request/reply records the core operations need. Named
// for the length-prefixed record format ("Jute") the real wire protocol
// uses: booleans and integers in big-endian, strings and byte arrays as
// a signed 4-byte length followed by that many bytes (a negative length
// denotes a nil array), and structured records as the concatenation of
// their fields in declaration order.
type juteCodec struct{}

func newJuteCodec() Codec { return juteCodec{} }

func (juteCodec) Encode(v any) ([]byte, error) {
	w := &jWriter{buf: &bytes.Buffer{}}
	switch rec := v.(type) {
	case ConnectRequest:
		w.writeInt32(rec.ProtocolVersion)
		w.writeInt64(rec.LastZxidSeen)
		w.writeInt32(rec.TimeOut)
		w.writeInt64(rec.SessionID)
		w.writeBuffer(rec.Passwd)
	case RequestHeader:
		w.writeInt32(rec.Xid)
		w.writeInt32(int32(rec.Type))
	case pathRequest:
		w.writeString(rec.Path)
	case pathWatchRequest:
		w.writeString(rec.Path)
		w.writeBool(rec.Watch)
	case createRequest:
		w.writeString(rec.Path)
		w.writeBuffer(rec.Data)
		w.writeACLList(rec.ACL)
		w.writeInt32(int32(rec.Flags))
	case setDataRequest:
		w.writeString(rec.Path)
		w.writeBuffer(rec.Data)
		w.writeInt32(rec.Version)
	case deleteRequest:
		w.writeString(rec.Path)
		w.writeInt32(rec.Version)
	case setACLRequest:
		w.writeString(rec.Path)
		w.writeACLList(rec.ACL)
		w.writeInt32(rec.Version)
	case authPacket:
		w.writeInt32(0)
		w.writeString(rec.Scheme)
		w.writeBuffer(rec.Auth)
	case setWatchesRequest:
		w.writeInt64(rec.RelativeZxid)
		w.writeStringList(rec.DataWatches)
		w.writeStringList(rec.ExistWatches)
		w.writeStringList(rec.ChildWatches)
	default:
		return nil, fmt.Errorf("jute encode: %w: %T", ErrUnimplemented, v)
	}
	return w.buf.Bytes(), w.err
}

func (juteCodec) Decode(b []byte, v any) error {
	r := &jReader{buf: bytes.NewReader(b)}
	switch rec := v.(type) {
	case *ConnectResponse:
		rec.ProtocolVersion = r.readInt32()
		rec.TimeOut = r.readInt32()
		rec.SessionID = r.readInt64()
		rec.Passwd = r.readBuffer()
	case *ReplyHeader:
		rec.Xid = r.readInt32()
		rec.Zxid = r.readInt64()
		rec.Err = ErrCode(r.readInt32())
	case *WatcherEvent:
		rec.Type = EventType(r.readInt32())
		rec.State = State(r.readInt32())
		rec.Path = r.readString()
	case *statResponse:
		rec.Stat = r.readStat()
	case *dataResponse:
		rec.Data = r.readBuffer()
		rec.Stat = r.readStat()
	case *childrenResponse:
		rec.Children = r.readStringList()
	case *children2Response:
		rec.Children = r.readStringList()
		rec.Stat = r.readStat()
	case *aclResponse:
		rec.ACL = r.readACLList()
		rec.Stat = r.readStat()
	case *createResponse:
		rec.Path = r.readString()
	default:
		return fmt.Errorf("jute decode: %w: %T", ErrUnimplemented, v)
	}
	return r.err
}

// Minimal request/response record shapes used only as Codec type-switch
// targets; the public operations in zk.go build and consume these.
type (
	pathRequest       struct{ Path string }
	pathWatchRequest  struct {
		Path  string
		Watch bool
	}
	createRequest struct {
		Path  string
		Data  []byte
		ACL   []ACL
		Flags Flag
	}
	setDataRequest struct {
		Path    string
		Data    []byte
		Version int32
	}
	deleteRequest struct {
		Path    string
		Version int32
	}
	setACLRequest struct {
		Path    string
		ACL     []ACL
		Version int32
	}
	authPacket struct {
		Scheme string
		Auth   []byte
	}
	setWatchesRequest struct {
		RelativeZxid int64
		DataWatches  []string
		ExistWatches []string
		ChildWatches []string
	}

	statResponse      struct{ Stat Stat }
	dataResponse       struct {
		Data []byte
		Stat Stat
	}
	childrenResponse  struct{ Children []string }
	children2Response struct {
		Children []string
		Stat     Stat
	}
	aclResponse struct {
		ACL  []ACL
		Stat Stat
	}
	createResponse struct{ Path string }
)

// jWriter sequentially encodes big-endian jute primitives into buf,
// latching the first error so call sites can chain writes without
// checking each one.
type jWriter struct {
	buf *bytes.Buffer
	err error
}

func (w *jWriter) writeInt32(v int32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v)) //nolint:gosec // two's complement round-trip is exact
	_, w.err = w.buf.Write(b[:])
}

func (w *jWriter) writeInt64(v int64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v)) //nolint:gosec // two's complement round-trip is exact
	_, w.err = w.buf.Write(b[:])
}

func (w *jWriter) writeBool(v bool) {
	if v {
		w.writeInt32(1)
		return
	}
	w.writeInt32(0)
}

// writeBuffer writes a nilable byte array: -1 length for nil, else the
// length followed by the bytes.
func (w *jWriter) writeBuffer(b []byte) {
	if b == nil {
		w.writeInt32(-1)
		return
	}
	w.writeInt32(int32(len(b))) //nolint:gosec // G115: bounded by maxPacketSize at the frame layer
	if w.err != nil {
		return
	}
	_, w.err = w.buf.Write(b)
}

func (w *jWriter) writeString(s string) {
	w.writeBuffer([]byte(s))
}

func (w *jWriter) writeStringList(ss []string) {
	w.writeInt32(int32(len(ss))) //nolint:gosec // G115: watch lists are bounded by registry size
	for _, s := range ss {
		w.writeString(s)
	}
}

func (w *jWriter) writeACLList(acls []ACL) {
	w.writeInt32(int32(len(acls))) //nolint:gosec // G115: ACL lists are small and caller-bounded
	for _, a := range acls {
		w.writeInt32(int32(a.Perms))
		w.writeString(a.ID.Scheme)
		w.writeString(a.ID.ID)
	}
}

// jReader is the mirror of jWriter: sequential big-endian decode with a
// latched first error.
type jReader struct {
	buf *bytes.Reader
	err error
}

func (r *jReader) readInt32() int32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, r.err = readFull(r.buf, b[:]); r.err != nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b[:])) //nolint:gosec // two's complement round-trip is exact
}

func (r *jReader) readInt64() int64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, r.err = readFull(r.buf, b[:]); r.err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:])) //nolint:gosec // two's complement round-trip is exact
}

func (r *jReader) readBuffer() []byte {
	n := r.readInt32()
	if r.err != nil || n < 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, r.err = readFull(r.buf, buf); r.err != nil {
		return nil
	}
	return buf
}

func (r *jReader) readString() string {
	b := r.readBuffer()
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *jReader) readStringList() []string {
	n := r.readInt32()
	if r.err != nil || n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		out = append(out, r.readString())
	}
	return out
}

func (r *jReader) readACLList() []ACL {
	n := r.readInt32()
	if r.err != nil || n <= 0 {
		return nil
	}
	out := make([]ACL, 0, n)
	for i := int32(0); i < n; i++ {
		perms := Perm(r.readInt32())
		scheme := r.readString()
		id := r.readString()
		out = append(out, ACL{Perms: perms, ID: ID{Scheme: scheme, ID: id}})
	}
	return out
}

func (r *jReader) readStat() Stat {
	return Stat{
		Czxid:          r.readInt64(),
		Mzxid:          r.readInt64(),
		Ctime:          r.readInt64(),
		Mtime:          r.readInt64(),
		Version:        r.readInt32(),
		Cversion:       r.readInt32(),
		Aversion:       r.readInt32(),
		EphemeralOwner: r.readInt64(),
		DataLength:     r.readInt32(),
		NumChildren:    r.readInt32(),
		Pzxid:          r.readInt64(),
	}
}

// readFull mirrors io.ReadFull for a *bytes.Reader, wrapping the result
// so short reads surface as ErrMarshallingError rather than io.EOF.
func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil || n < len(buf) {
		return n, fmt.Errorf("short jute read (%d/%d bytes): %w", n, len(buf), ErrMarshallingError)
	}
	return n, nil
}
