package zk

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"
)

// These tests drive a *Session against an in-memory fake ensemble member
// reached through a custom Dialer (net.Pipe, no real sockets), so they
// exercise the full connect/handshake/request/reply/reconnect path
// white-box, without needing a running ZooKeeper server.

// scriptedDialer returns a Dialer that hands out one net.Pipe per call,
// running handlers[n] as the fake server side of the n-th dial attempt.
// A dial past the end of handlers fails, which is itself a useful
// assertion surface (it means the session redialed more than expected).
func scriptedDialer(handlers ...func(server net.Conn)) Dialer {
	var n atomic.Int32
	return func(_ context.Context, _, _ string) (net.Conn, error) {
		idx := int(n.Add(1)) - 1
		if idx >= len(handlers) {
			return nil, fmt.Errorf("scriptedDialer: no handler for dial attempt %d", idx)
		}
		client, server := net.Pipe()
		go handlers[idx](server)
		return client, nil
	}
}

func waitState(t *testing.T, sess *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached state %s, stuck at %s", want, sess.State())
}

// --- wire helpers local to this test file -------------------------------
//
// juteCodec only implements the record shapes a real client needs to
// encode and a real client needs to decode. A fake server needs the
// mirror image (decode what a client encodes, encode what a client
// decodes), so these helpers read and write the same field layouts
// directly via jWriter/jReader.

func decodeConnectRequestBody(b []byte) ConnectRequest {
	r := &jReader{buf: bytes.NewReader(b)}
	return ConnectRequest{
		ProtocolVersion: r.readInt32(),
		LastZxidSeen:    r.readInt64(),
		TimeOut:         r.readInt32(),
		SessionID:       r.readInt64(),
		Passwd:          r.readBuffer(),
	}
}

func encodeConnectResponseBody(sessionID int64, timeoutMS int32, passwd []byte) []byte {
	w := &jWriter{buf: &bytes.Buffer{}}
	w.writeInt32(0)
	w.writeInt32(timeoutMS)
	w.writeInt64(sessionID)
	w.writeBuffer(passwd)
	return w.buf.Bytes()
}

func decodeRequestHeaderBody(frame []byte) (xid int32, op Op, body []byte) {
	r := &jReader{buf: bytes.NewReader(frame)}
	xid = r.readInt32()
	op = Op(r.readInt32())
	return xid, op, frame[8:]
}

func encodeReplyHeaderBody(xid int32, zxid int64, errCode ErrCode) []byte {
	w := &jWriter{buf: &bytes.Buffer{}}
	w.writeInt32(xid)
	w.writeInt64(zxid)
	w.writeInt32(int32(errCode))
	return w.buf.Bytes()
}

func decodePathWatchRequestBody(body []byte) (path string, watch bool) {
	r := &jReader{buf: bytes.NewReader(body)}
	path = r.readString()
	watch = r.readInt32() != 0
	return path, watch
}

func decodeCreateRequestBody(body []byte) (path string, data []byte) {
	r := &jReader{buf: bytes.NewReader(body)}
	path = r.readString()
	data = r.readBuffer()
	return path, data
}

func decodeSetWatchesRequestBody(body []byte) setWatchesRequest {
	r := &jReader{buf: bytes.NewReader(body)}
	return setWatchesRequest{
		RelativeZxid: r.readInt64(),
		DataWatches:  r.readStringList(),
		ExistWatches: r.readStringList(),
		ChildWatches: r.readStringList(),
	}
}

func encodeCreateResponseBody(path string) []byte {
	w := &jWriter{buf: &bytes.Buffer{}}
	w.writeString(path)
	return w.buf.Bytes()
}

func encodeDataResponseBody(data []byte, st Stat) []byte {
	w := &jWriter{buf: &bytes.Buffer{}}
	w.writeBuffer(data)
	return append(w.buf.Bytes(), encodeStatForTest(st)...)
}

// serveHandshake reads one ConnectRequest frame and replies with a
// ConnectResponse granting sessionID, returning the decoded request so
// callers can assert on resumption fields.
func serveHandshake(conn net.Conn, sessionID int64, timeoutMS int32, passwd []byte) (ConnectRequest, error) {
	frame, err := readFrame(conn)
	if err != nil {
		return ConnectRequest{}, err
	}
	req := decodeConnectRequestBody(frame)
	if err := writeFrame(conn, encodeConnectResponseBody(sessionID, timeoutMS, passwd)); err != nil {
		return req, err
	}
	return req, nil
}

// fakeStore is the znode table a fake server consults for Create/Get.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (s *fakeStore) put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = data
}

func (s *fakeStore) get(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[path]
}

// serveRequests answers Create/GetData/Exists/SetWatches/Ping/Close
// against store, invoking onSetWatches (if non-nil) whenever a
// SET_WATCHES frame arrives. Returns when the connection closes or the
// client sends CLOSE.
func serveRequests(conn net.Conn, store *fakeStore, onSetWatches func(setWatchesRequest)) {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		xid, op, body := decodeRequestHeaderBody(frame)

		switch op {
		case OpClose:
			_ = writeFrame(conn, encodeReplyHeaderBody(xid, 1, ErrCodeOK))
			return
		case OpPing:
			_ = writeFrame(conn, encodeReplyHeaderBody(xid, 1, ErrCodeOK))
		case OpSetWatches:
			sw := decodeSetWatchesRequestBody(body)
			if onSetWatches != nil {
				onSetWatches(sw)
			}
			_ = writeFrame(conn, encodeReplyHeaderBody(xid, 1, ErrCodeOK))
		case OpCreate:
			path, data := decodeCreateRequestBody(body)
			store.put(path, data)
			_ = writeFrame(conn, append(encodeReplyHeaderBody(xid, 1, ErrCodeOK), encodeCreateResponseBody(path)...))
		case OpGetData:
			path, _ := decodePathWatchRequestBody(body)
			data := store.get(path)
			_ = writeFrame(conn, append(encodeReplyHeaderBody(xid, 1, ErrCodeOK), encodeDataResponseBody(data, Stat{})...))
		case OpExists:
			_, _ = decodePathWatchRequestBody(body)
			_ = writeFrame(conn, append(encodeReplyHeaderBody(xid, 1, ErrCodeOK), encodeStatForTest(Stat{})...))
		default:
			_ = writeFrame(conn, encodeReplyHeaderBody(xid, 1, ErrCodeAPIError))
		}
	}
}

func TestSessionConnectCreateGet(t *testing.T) {
	store := newFakeStore()
	dialer := scriptedDialer(func(server net.Conn) {
		defer server.Close()
		if _, err := serveHandshake(server, 0x1001, 10000, []byte("pw")); err != nil {
			return
		}
		serveRequests(server, store, nil)
	})

	sess, err := NewSession([]string{"fake:2181"}, nil, 5*time.Second, nil, WithDialer(dialer))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer func() { _ = sess.Close() }()

	waitState(t, sess, StateConnected)
	if sess.SessionID() != 0x1001 {
		t.Fatalf("SessionID() = %x, want 0x1001", sess.SessionID())
	}

	path, err := sess.Create("/widget", []byte("hello"), WorldACL(PermAll), 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if path != "/widget" {
		t.Fatalf("Create path = %q, want /widget", path)
	}

	got, err := sess.Get("/widget", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("Get data = %q, want hello", got.Data)
	}
}

// TestSessionReconnectPreservesSessionIDAndRearmsWatches disconnects the
// session after one request and verifies the second dial's ConnectRequest
// carries the prior session id (resumption, not a fresh session) and that
// the watch registered before the disconnect is re-armed via a
// SET_WATCHES frame before any other traffic on the new connection.
func TestSessionReconnectPreservesSessionIDAndRearmsWatches(t *testing.T) {
	const priorSessionID = 0x2002

	store := newFakeStore()
	secondConnectReq := make(chan ConnectRequest, 1)
	setWatchesSeen := make(chan setWatchesRequest, 1)

	dialer := scriptedDialer(
		func(server net.Conn) {
			defer server.Close()
			if _, err := serveHandshake(server, priorSessionID, 10000, []byte("pw1")); err != nil {
				return
			}
			// Every connect opens with a SET_WATCHES frame (empty on
			// this first connection); acknowledge it, then answer
			// exactly one Exists-with-watch request and drop the
			// connection to force a reconnect.
			for {
				frame, err := readFrame(server)
				if err != nil {
					return
				}
				xid, op, _ := decodeRequestHeaderBody(frame)
				if op != OpExists {
					_ = writeFrame(server, encodeReplyHeaderBody(xid, 1, ErrCodeOK))
					continue
				}
				_ = writeFrame(server, append(encodeReplyHeaderBody(xid, 1, ErrCodeOK), encodeStatForTest(Stat{})...))
				return
			}
		},
		func(server net.Conn) {
			defer server.Close()
			req, err := serveHandshake(server, priorSessionID, 10000, []byte("pw1"))
			if err != nil {
				return
			}
			secondConnectReq <- req

			frame, err := readFrame(server)
			if err != nil {
				return
			}
			xid, op, body := decodeRequestHeaderBody(frame)
			if op == OpSetWatches {
				setWatchesSeen <- decodeSetWatchesRequestBody(body)
			}
			_ = writeFrame(server, encodeReplyHeaderBody(xid, 1, ErrCodeOK))

			serveRequests(server, store, nil)
		},
	)

	sess, err := NewSession([]string{"fake:2181"}, nil, 5*time.Second, nil, WithDialer(dialer))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer func() { _ = sess.Close() }()

	waitState(t, sess, StateConnected)

	if _, _, err := sess.Exists("/watched", func(Event) {}); err != nil {
		t.Fatalf("Exists: %v", err)
	}

	select {
	case req := <-secondConnectReq:
		if req.SessionID != priorSessionID {
			t.Fatalf("second ConnectRequest.SessionID = %x, want %x (resumption)", req.SessionID, priorSessionID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	select {
	case sw := <-setWatchesSeen:
		// The Exists reply reported the node as present, so the watch
		// was armed in the data map.
		found := false
		for _, p := range sw.DataWatches {
			if p == "/watched" {
				found = true
			}
		}
		if !found {
			t.Fatalf("SET_WATCHES.DataWatches = %v, want it to contain /watched", sw.DataWatches)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SET_WATCHES re-arm")
	}

	waitState(t, sess, StateConnected)
}

// TestSessionAsyncCompletionsPreserveFIFOOrder floods the session with
// async Create calls and checks their completions fire in the same order
// the requests were issued — the FIFO correlation invariant the
// dispatch-thread design exists to guarantee. Runs inside a synctest
// bubble so the flood completes on virtual time instead of depending on
// real scheduler luck.
func TestSessionAsyncCompletionsPreserveFIFOOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		const n = 200
		store := newFakeStore()

		dialer := scriptedDialer(func(server net.Conn) {
			defer server.Close()
			if _, err := serveHandshake(server, 0x3003, 10000, []byte("pw")); err != nil {
				return
			}
			serveRequests(server, store, nil)
		})

		sess, err := NewSession([]string{"fake:2181"}, nil, 5*time.Second, nil, WithDialer(dialer))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		defer func() { _ = sess.Close() }()

		waitState(t, sess, StateConnected)

		var mu sync.Mutex
		var order []int
		done := make(chan struct{}, n)

		for i := range n {
			i := i
			path := fmt.Sprintf("/item-%03d", i)
			sess.CreateAsync(path, []byte("v"), WorldACL(PermAll), 0, func(_ string, err error) {
				if err != nil {
					t.Errorf("CreateAsync(%s): %v", path, err)
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				done <- struct{}{}
			})
		}

		for range n {
			<-done
		}

		mu.Lock()
		defer mu.Unlock()
		if len(order) != n {
			t.Fatalf("got %d completions, want %d", len(order), n)
		}
		for i, v := range order {
			if v != i {
				t.Fatalf("completion order = %v, want strictly increasing 0..%d (FIFO)", order, n-1)
			}
		}
	})
}
