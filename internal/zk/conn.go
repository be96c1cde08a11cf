package zk

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
)

// Dialer abstracts the network dial + hostname resolution step so tests
// can substitute an in-memory transport and hosts can be given as
// anything a real resolver would accept (DNS names, SRV-expanded lists,
// literal addresses). zk never resolves hostnames itself.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// defaultDialer is a thin wrapper around net.Dialer, used when the
// caller does not supply one.
func defaultDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// endpointRotation walks the configured ensemble member list, optionally
// starting from a shuffled order (the default — disabling it is a
// per-Session option, never global mutable state).
type endpointRotation struct {
	mu      sync.Mutex
	hosts   []string
	idx     int
}

func newEndpointRotation(hosts []string, shuffle bool) (*endpointRotation, error) {
	if len(hosts) == 0 {
		return nil, ErrNoEndpoints
	}
	ordered := make([]string, len(hosts))
	copy(ordered, hosts)
	if shuffle {
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}
	return &endpointRotation{hosts: ordered}, nil
}

// next returns the next endpoint to try, advancing the rotation index.
func (e *endpointRotation) next() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.hosts[e.idx%len(e.hosts)]
	e.idx++
	return h
}

// doHandshake writes the ConnectRequest and reads back the
// ConnectResponse over conn, which must already be an established TCP
// connection. It does not install the connection on the Session — the
// caller decides what to do with the result (including tearing down the
// connection on a rejected resumption).
func doHandshake(conn net.Conn, codec Codec, req ConnectRequest) (ConnectResponse, error) {
	payload, err := codec.Encode(req)
	if err != nil {
		return ConnectResponse{}, fmt.Errorf("encode connect request: %w", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return ConnectResponse{}, fmt.Errorf("send connect request: %w", err)
	}

	frame, err := readFrame(conn)
	if err != nil {
		return ConnectResponse{}, fmt.Errorf("read connect response: %w", err)
	}

	var resp ConnectResponse
	if err := codec.Decode(frame, &resp); err != nil {
		return ConnectResponse{}, fmt.Errorf("decode connect response: %w", err)
	}
	return resp, nil
}
