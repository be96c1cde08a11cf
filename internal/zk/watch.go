package zk

import (
	"reflect"
	"sync"
)

// EventType identifies what changed at a znode, or a session-level
// transition delivered to every registered watcher.
type EventType int32

const (
	EventNodeCreated         EventType = 1
	EventNodeDeleted         EventType = 2
	EventNodeDataChanged     EventType = 3
	EventNodeChildrenChanged EventType = 4

	// EventSession is a synthetic event carrying a session State
	// transition rather than a znode change; Path is empty.
	EventSession EventType = -1

	// EventNotWatching reports that a previously installed watch could
	// not be re-armed after reconnect (for example, the watched path no
	// longer exists and the corresponding exists-watch would have had to
	// become a full exists-retry the client does not perform implicitly).
	EventNotWatching EventType = -2
)

// String returns the human-readable event type name.
func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "NodeCreated"
	case EventNodeDeleted:
		return "NodeDeleted"
	case EventNodeDataChanged:
		return "NodeDataChanged"
	case EventNodeChildrenChanged:
		return "NodeChildrenChanged"
	case EventSession:
		return "Session"
	case EventNotWatching:
		return "NotWatching"
	default:
		return "Unknown"
	}
}

// Event is delivered to a Watcher exactly once and then the watch is
// discarded — watches are one-shot, per watchKind re-arm rules in
// SetWatches.
type Event struct {
	Type  EventType
	State State
	Path  string
}

// Watcher receives one-shot notifications. The registry deduplicates
// registrations on the same path by the watcher's underlying function
// identity (via reflect, since func values aren't comparable with ==),
// so registering the same Watcher twice on one path — e.g. two ExistsW
// calls rebinding the same default watcher — counts once.
type Watcher func(Event)

// watchKind distinguishes the three independent one-shot maps kept by
// the registry; a path may have live watches of more than one kind at
// once.
type watchKind uint8

const (
	watchData watchKind = iota
	watchExist
	watchChild
)

// watchRegistry tracks one-shot watchers per path, segmented by kind,
// and builds the re-arm payload sent via SET_WATCHES after a reconnect.
type watchRegistry struct {
	mu   sync.Mutex
	data map[string][]Watcher
	exst map[string][]Watcher
	chld map[string][]Watcher
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{
		data: make(map[string][]Watcher),
		exst: make(map[string][]Watcher),
		chld: make(map[string][]Watcher),
	}
}

func (r *watchRegistry) mapFor(kind watchKind) map[string][]Watcher {
	switch kind {
	case watchData:
		return r.data
	case watchExist:
		return r.exst
	case watchChild:
		return r.chld
	default:
		return nil
	}
}

// watcherIdentity returns the underlying function's entry point, used to
// detect the same Watcher registered more than once. Func values aren't
// comparable with ==, so this is the only way to compare identity short
// of requiring callers to pass an explicit key alongside the callback.
func watcherIdentity(w Watcher) uintptr {
	return reflect.ValueOf(w).Pointer()
}

// add installs w under path for the given kind, deduplicated by watcher
// identity — registering the same Watcher on the same path twice leaves
// a single entry, per the one-registration-per-(callback,path) invariant.
// Safe to call with a nil w: it is a no-op, matching the "no watch
// requested" call shape.
func (r *watchRegistry) add(kind watchKind, path string, w Watcher) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.mapFor(kind)
	id := watcherIdentity(w)
	for _, existing := range m[path] {
		if watcherIdentity(existing) == id {
			return
		}
	}
	m[path] = append(m[path], w)
}

// fire removes and returns every watcher registered under ev.Path for
// kind — one-shot semantics. It touches only the one map named by kind
// and does not invoke the watchers; the caller delivers ev and decides
// which maps an event type fires (see Session.dispatchWatcherEvent).
func (r *watchRegistry) fire(kind watchKind, ev Event) []Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.mapFor(kind)
	ws := m[ev.Path]
	delete(m, ev.Path)
	return ws
}

// fireSession returns every watcher currently registered across all
// three maps without consuming them — EventSession notifications do
// not count against one-shot semantics because they carry no path.
func (r *watchRegistry) fireSession() []Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Watcher
	for _, m := range []map[string][]Watcher{r.data, r.exst, r.chld} {
		for _, ws := range m {
			out = append(out, ws...)
		}
	}
	return out
}

// snapshot returns the set of paths still registered per kind, for
// building a SET_WATCHES re-arm request after reconnect.
func (r *watchRegistry) snapshot() (dataWatches, existWatches, childWatches []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.data {
		dataWatches = append(dataWatches, p)
	}
	for p := range r.exst {
		existWatches = append(existWatches, p)
	}
	for p := range r.chld {
		childWatches = append(childWatches, p)
	}
	return dataWatches, existWatches, childWatches
}

// clear drops every registered watch without firing them. The Session
// does not call it; registrations survive every state transition.
func (r *watchRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string][]Watcher)
	r.exst = make(map[string][]Watcher)
	r.chld = make(map[string][]Watcher)
}
