package zk

import "sync/atomic"

// Reserved XIDs identify replies that are not matched against the FIFO
// sent-requests queue: they are dispatched directly by value instead.
const (
	WatcherEventXID int32 = -1
	PingXID         int32 = -2
	AuthXID         int32 = -4
	SetWatchesXID   int32 = -8
)

// xidAllocator hands out strictly increasing, nonzero, non-reserved XIDs
// for application requests. Grounded on the same struct-plus-atomic-
// counter shape as a nonce allocator, but monotonic rather than random:
// the session protocol requires XIDs to increase so the server's FIFO
// reply ordering can be trusted by the multiplexer without a side table.
type xidAllocator struct {
	next atomic.Int32
}

// newXIDAllocator returns an allocator whose first Next() call yields 1.
func newXIDAllocator() *xidAllocator {
	return &xidAllocator{}
}

// Next returns the next XID, skipping zero and the reserved negative
// values (which can never collide with a forward-counting allocator, but
// the skip keeps the invariant explicit and future-proof against
// wraparound).
func (a *xidAllocator) Next() int32 {
	for {
		v := a.next.Add(1)
		if v == 0 || isReservedXID(v) {
			continue
		}
		return v
	}
}

func isReservedXID(xid int32) bool {
	switch xid {
	case WatcherEventXID, PingXID, AuthXID, SetWatchesXID:
		return true
	default:
		return false
	}
}
