package zk

import "fmt"

// This file is the public operation surface: a blocking form for each
// logical request kind named in §6, funnelling through doSync (AddAuth
// excepted) so the XID allocation, completion bookkeeping, and
// watch-arming rules live in exactly one place per operation. Async
// forms, built on doAsync, exist only for Create, Delete, Get and Set;
// Exists, Children, GetACL, SetACL, Sync and AddAuth have no async form.

// GetResult is the decoded payload of a successful Get/GetAsync call.
type GetResult struct {
	Data []byte
	Stat Stat
}

// ChildrenResult is the decoded payload of a successful
// Children/ChildrenAsync call.
type ChildrenResult struct {
	Children []string
	Stat     Stat
}

// ACLResult is the decoded payload of a successful GetACL/GetACLAsync call.
type ACLResult struct {
	ACL  []ACL
	Stat Stat
}

// doSync sends a request and blocks for its reply using the
// synchronous-wait completion form.
func (s *Session) doSync(op Op, path string, body any, decode func([]byte) (any, error), armWatch func(error)) (any, error) {
	c := newSyncCompletion(0, path)
	c.decode = decode
	c.armWatch = armWatch
	if err := s.sendRequest(op, body, c); err != nil {
		return nil, err
	}
	return c.wait()
}

// doAsync sends a request and invokes cb from the completion thread once
// the reply (or a cancellation) resolves it.
func (s *Session) doAsync(op Op, path string, body any, decode func([]byte) (any, error), armWatch func(error), cb func(any, error)) {
	c := newAsyncCompletion(0, path, cb)
	c.decode = decode
	c.armWatch = armWatch
	if err := s.sendRequest(op, body, c); err != nil {
		cb(nil, err)
	}
}

// --- Create -----------------------------------------------------------

func decodeCreate(body []byte, codec Codec) (any, error) {
	var r createResponse
	if err := codec.Decode(body, &r); err != nil {
		return nil, err
	}
	return r.Path, nil
}

// Create creates path with data, acl, and flags, returning the actual
// created path (which differs from path when FlagSequence is set).
func (s *Session) Create(path string, data []byte, acl []ACL, flags Flag) (string, error) {
	result, err := s.doSync(OpCreate, path, createRequest{Path: path, Data: data, ACL: acl, Flags: flags},
		func(b []byte) (any, error) { return decodeCreate(b, s.codec) }, nil)
	if err != nil {
		return "", err
	}
	p, _ := result.(string)
	return p, nil
}

// CreateAsync is the non-blocking form of Create.
func (s *Session) CreateAsync(path string, data []byte, acl []ACL, flags Flag, cb func(path string, err error)) {
	s.doAsync(OpCreate, path, createRequest{Path: path, Data: data, ACL: acl, Flags: flags},
		func(b []byte) (any, error) { return decodeCreate(b, s.codec) }, nil,
		func(result any, err error) {
			p, _ := result.(string)
			cb(p, err)
		})
}

// --- Delete -------------------------------------------------------------

// Delete removes path if its current version equals version, or
// unconditionally if version is -1.
func (s *Session) Delete(path string, version int32) error {
	_, err := s.doSync(OpDelete, path, deleteRequest{Path: path, Version: version}, nil, nil)
	return err
}

// DeleteAsync is the non-blocking form of Delete.
func (s *Session) DeleteAsync(path string, version int32, cb func(err error)) {
	s.doAsync(OpDelete, path, deleteRequest{Path: path, Version: version}, nil, nil,
		func(_ any, err error) { cb(err) })
}

// --- Exists ---------------------------------------------------------------

func decodeStat(body []byte, codec Codec) (any, error) {
	var r statResponse
	if err := codec.Decode(body, &r); err != nil {
		return nil, err
	}
	return r.Stat, nil
}

// existsArmWatch implements the §4.5 install rule for Exists: on
// success the data map is armed (the node exists now); on NO_NODE the
// exist map is armed instead; any other error arms nothing.
func existsArmWatch(watches *watchRegistry, path string, w Watcher) func(error) {
	return func(err error) {
		switch {
		case err == nil:
			watches.add(watchData, path, w)
		case err == ErrNoNode: //nolint:errorlint // ErrNoNode is a sentinel compared by identity, never wrapped by errorForCode
			watches.add(watchExist, path, w)
		}
	}
}

// Exists reports whether path exists and, if so, its Stat. watch, if
// non-nil, is armed per the table above.
func (s *Session) Exists(path string, watch Watcher) (bool, Stat, error) {
	var armWatch func(error)
	if watch != nil {
		armWatch = existsArmWatch(s.watches, path, watch)
	}
	result, err := s.doSync(OpExists, path, pathWatchRequest{Path: path, Watch: watch != nil},
		func(b []byte) (any, error) { return decodeStat(b, s.codec) }, armWatch)
	switch {
	case err == nil:
		stat, _ := result.(Stat)
		return true, stat, nil
	case err == ErrNoNode: //nolint:errorlint // sentinel comparison, see existsArmWatch
		return false, Stat{}, nil
	default:
		return false, Stat{}, err
	}
}

// ExistsW is the default-watcher overload: if watch is true, the
// Session's default watcher (bound at construction) is installed.
func (s *Session) ExistsW(path string, watch bool) (bool, Stat, error) {
	if !watch {
		return s.Exists(path, nil)
	}
	return s.Exists(path, s.defaultWatcher)
}

// --- Get ------------------------------------------------------------------

func decodeGet(body []byte, codec Codec) (any, error) {
	var r dataResponse
	if err := codec.Decode(body, &r); err != nil {
		return nil, err
	}
	return GetResult{Data: r.Data, Stat: r.Stat}, nil
}

// getArmWatch arms the data map on success only, per the Get row of the
// §4.5 install table.
func getArmWatch(watches *watchRegistry, path string, w Watcher) func(error) {
	return func(err error) {
		if err == nil {
			watches.add(watchData, path, w)
		}
	}
}

// Get returns path's data and Stat. watch, if non-nil, is armed on
// success.
func (s *Session) Get(path string, watch Watcher) (GetResult, error) {
	var armWatch func(error)
	if watch != nil {
		armWatch = getArmWatch(s.watches, path, watch)
	}
	result, err := s.doSync(OpGetData, path, pathWatchRequest{Path: path, Watch: watch != nil},
		func(b []byte) (any, error) { return decodeGet(b, s.codec) }, armWatch)
	if err != nil {
		return GetResult{}, err
	}
	r, _ := result.(GetResult)
	return r, nil
}

// GetW is the default-watcher overload of Get.
func (s *Session) GetW(path string, watch bool) (GetResult, error) {
	if !watch {
		return s.Get(path, nil)
	}
	return s.Get(path, s.defaultWatcher)
}

// GetAsync is the non-blocking form of Get.
func (s *Session) GetAsync(path string, watch Watcher, cb func(GetResult, error)) {
	var armWatch func(error)
	if watch != nil {
		armWatch = getArmWatch(s.watches, path, watch)
	}
	s.doAsync(OpGetData, path, pathWatchRequest{Path: path, Watch: watch != nil},
		func(b []byte) (any, error) { return decodeGet(b, s.codec) }, armWatch,
		func(result any, err error) {
			r, _ := result.(GetResult)
			cb(r, err)
		})
}

// --- Set --------------------------------------------------------------

// Set replaces path's data if its current version equals version (or
// unconditionally if version is -1), returning the new Stat.
func (s *Session) Set(path string, data []byte, version int32) (Stat, error) {
	result, err := s.doSync(OpSetData, path, setDataRequest{Path: path, Data: data, Version: version},
		func(b []byte) (any, error) { return decodeStat(b, s.codec) }, nil)
	if err != nil {
		return Stat{}, err
	}
	st, _ := result.(Stat)
	return st, nil
}

// SetAsync is the non-blocking form of Set.
func (s *Session) SetAsync(path string, data []byte, version int32, cb func(Stat, error)) {
	s.doAsync(OpSetData, path, setDataRequest{Path: path, Data: data, Version: version},
		func(b []byte) (any, error) { return decodeStat(b, s.codec) }, nil,
		func(result any, err error) {
			st, _ := result.(Stat)
			cb(st, err)
		})
}

// --- Children ---------------------------------------------------------

func decodeChildren(body []byte, codec Codec) (any, error) {
	var r children2Response
	if err := codec.Decode(body, &r); err != nil {
		return nil, err
	}
	return ChildrenResult{Children: r.Children, Stat: r.Stat}, nil
}

// childArmWatch arms the child map on success only, per the
// list-children row of the §4.5 install table.
func childArmWatch(watches *watchRegistry, path string, w Watcher) func(error) {
	return func(err error) {
		if err == nil {
			watches.add(watchChild, path, w)
		}
	}
}

// Children lists path's direct children and path's own Stat. watch, if
// non-nil, is armed on success.
func (s *Session) Children(path string, watch Watcher) (ChildrenResult, error) {
	var armWatch func(error)
	if watch != nil {
		armWatch = childArmWatch(s.watches, path, watch)
	}
	result, err := s.doSync(OpGetChildren2, path, pathWatchRequest{Path: path, Watch: watch != nil},
		func(b []byte) (any, error) { return decodeChildren(b, s.codec) }, armWatch)
	if err != nil {
		return ChildrenResult{}, err
	}
	r, _ := result.(ChildrenResult)
	return r, nil
}

// ChildrenW is the default-watcher overload of Children.
func (s *Session) ChildrenW(path string, watch bool) (ChildrenResult, error) {
	if !watch {
		return s.Children(path, nil)
	}
	return s.Children(path, s.defaultWatcher)
}

// --- ACL ----------------------------------------------------------------

func decodeACL(body []byte, codec Codec) (any, error) {
	var r aclResponse
	if err := codec.Decode(body, &r); err != nil {
		return nil, err
	}
	return ACLResult{ACL: r.ACL, Stat: r.Stat}, nil
}

// GetACL returns path's ACL list and Stat.
func (s *Session) GetACL(path string) (ACLResult, error) {
	result, err := s.doSync(OpGetACL, path, pathRequest{Path: path},
		func(b []byte) (any, error) { return decodeACL(b, s.codec) }, nil)
	if err != nil {
		return ACLResult{}, err
	}
	r, _ := result.(ACLResult)
	return r, nil
}

// SetACL replaces path's ACL list if its current version equals version,
// returning the new Stat.
func (s *Session) SetACL(path string, acl []ACL, version int32) (Stat, error) {
	result, err := s.doSync(OpSetACL, path, setACLRequest{Path: path, ACL: acl, Version: version},
		func(b []byte) (any, error) { return decodeStat(b, s.codec) }, nil)
	if err != nil {
		return Stat{}, err
	}
	st, _ := result.(Stat)
	return st, nil
}

// --- Sync -----------------------------------------------------------------

// Sync asks the ensemble leader to flush path's replication state before
// subsequent reads on this session observe it, returning the path the
// server echoes.
func (s *Session) Sync(path string) (string, error) {
	result, err := s.doSync(OpSync, path, pathRequest{Path: path},
		func(b []byte) (any, error) { return decodeCreate(b, s.codec) }, nil)
	if err != nil {
		return "", err
	}
	p, _ := result.(string)
	return p, nil
}

// --- AddAuth --------------------------------------------------------------

// AddAuth registers an authentication credential with the session. The
// credential is sent immediately on the current connection and
// re-sent (ahead of any application request) on every future reconnect,
// alongside the SET_WATCHES re-arm frame.
func (s *Session) AddAuth(scheme string, cert []byte) error {
	if st := s.State(); st.Terminal() {
		return fmt.Errorf("send add-auth: %w", terminalErrorFor(st))
	}
	frame, err := s.encodeRequest(AuthXID, OpSetAuth, authPacket{Scheme: scheme, Auth: cert})
	if err != nil {
		return fmt.Errorf("send add-auth: %w", err)
	}

	c := newSyncCompletion(AuthXID, "")
	s.mu.Lock()
	s.authCompletion = c
	s.pendingCred = &pendingAuth{scheme: scheme, cert: cert}
	s.outbox = append(s.outbox, frame)
	s.mu.Unlock()
	s.signalWake()

	_, err = c.wait()
	return err
}
