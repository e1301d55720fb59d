package herald

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// gcInterval is how often expired async waiters are swept (§4.3.3).
const gcInterval = 30 * time.Second

// DefaultPostTimeout is post()'s default deadline when the caller doesn't
// specify one (§4.3).
const DefaultPostTimeout = 180 * time.Second

type syncWaiter struct {
	ch chan syncOutcome
}

type syncOutcome struct {
	received *MessageReceived
	err      error
}

type postWaiter struct {
	callback      func(*MessageReceived)
	errback       func(error)
	deadline      time.Time
	hasDeadline   bool
	forgetOnFirst bool
}

// isDead reports whether the waiter's deadline has passed. The source's
// _WaitingPost.is_dead() compared `deadline > time.time()`, inverted from
// the intended check; we use the corrected `now >= deadline` (§9).
func (w *postWaiter) isDead(now time.Time) bool {
	return w.hasDeadline && !now.Before(w.deadline)
}

// Engine is Herald's correlation engine and public messaging API (§4.3).
// It owns the directory, listener registry, transport multiplexer and
// worker pool for the lifetime between Start (implicit at construction)
// and Shutdown — there is no ambient singleton, per §9's "explicit owned
// object" guidance.
type Engine struct {
	directory *Directory
	listeners *ListenerRegistry
	mux       *Multiplexer
	pool      *WorkerPool
	logger    *log.Logger

	shutdownMu sync.Mutex
	shutdown   bool

	syncMu      sync.Mutex
	syncWaiters map[string]*syncWaiter

	postMu      sync.Mutex
	postWaiters map[string]*postWaiter

	gcStop chan struct{}
	gcDone chan struct{}
}

// NewEngine wires an Engine around a directory, listener registry and
// transport multiplexer, and starts its worker pool and GC timer.
func NewEngine(directory *Directory, listeners *ListenerRegistry, mux *Multiplexer, workers int, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		directory:   directory,
		listeners:   listeners,
		mux:         mux,
		pool:        NewWorkerPool(workers),
		logger:      logger,
		syncWaiters: make(map[string]*syncWaiter),
		postWaiters: make(map[string]*postWaiter),
		gcStop:      make(chan struct{}),
		gcDone:      make(chan struct{}),
	}
	go e.gcLoop()
	return e
}

// Directory returns the engine's peer directory.
func (e *Engine) Directory() *Directory { return e.directory }

// Listeners returns the engine's listener registry.
func (e *Engine) Listeners() *ListenerRegistry { return e.listeners }

func (e *Engine) isShuttingDown() bool {
	e.shutdownMu.Lock()
	defer e.shutdownMu.Unlock()
	return e.shutdown
}

// Fire sends message to target (a peer UID) fire-and-forget (§4.3). It
// resolves target to a peer, then tries each of the peer's accesses in
// insertion order until one transport accepts the message.
func (e *Engine) Fire(target string, message *Message) (string, error) {
	if e.isShuttingDown() {
		return "", &NoTransport{Reason: "engine is shutting down"}
	}
	peer, err := e.directory.GetPeer(target)
	if err != nil {
		return "", err
	}
	return e.fireToPeer(peer, message)
}

func (e *Engine) fireToPeer(peer *Peer, message *Message) (string, error) {
	if !e.mux.Bound() {
		return "", &NoTransport{Reason: "no transport bound"}
	}
	message.setSender(e.directory.GetLocalPeer().UID())

	var lastErr error
	for _, accessID := range peer.AccessIDs() {
		t, ok := e.mux.Get(accessID)
		if !ok {
			continue
		}
		err := t.Fire(peer, message, nil)
		if err == nil {
			return message.UID, nil
		}
		if _, invalid := err.(*InvalidPeerAccess); invalid {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", &NoTransport{Reason: lastErr.Error()}
	}
	return "", &NoTransport{Reason: "no usable access for peer " + peer.UID()}
}

// FireGroup fans message out to every peer in group (§4.3). Peers are
// bucketed by access_id, buckets are tried in descending coverage order,
// and each successful transport call shrinks every other bucket by the
// peers it claims to have reached, so the same peer is never addressed
// twice once covered. The local peer is never reported as unreached.
func (e *Engine) FireGroup(group string, message *Message) (string, []*Peer, error) {
	if e.isShuttingDown() {
		return "", nil, &NoTransport{Reason: "engine is shutting down"}
	}
	if !e.mux.Bound() {
		return "", nil, &NoTransport{Reason: "no transport bound"}
	}
	message.setSender(e.directory.GetLocalPeer().UID())

	peers := e.directory.GetPeersForGroup(group)
	remaining := make(map[string]map[string]*Peer) // access_id -> uid -> peer
	for _, p := range peers {
		for _, accessID := range p.AccessIDs() {
			if remaining[accessID] == nil {
				remaining[accessID] = make(map[string]*Peer)
			}
			remaining[accessID][p.UID()] = p
		}
	}

	order := make([]string, 0, len(remaining))
	for accessID := range remaining {
		order = append(order, accessID)
	}
	sort.Slice(order, func(i, j int) bool {
		return len(remaining[order[i]]) > len(remaining[order[j]])
	})

	covered := make(map[string]struct{})
	for _, accessID := range order {
		bucket := remaining[accessID]
		if len(bucket) == 0 {
			continue
		}
		t, ok := e.mux.Get(accessID)
		if !ok {
			continue
		}
		bucketPeers := make([]*Peer, 0, len(bucket))
		for _, p := range bucket {
			bucketPeers = append(bucketPeers, p)
		}
		reached, err := t.FireGroup(group, bucketPeers, message)
		if err != nil {
			e.logger.Printf("herald: fire_group on access %s failed: %v", accessID, err)
			continue
		}
		for _, p := range reached {
			covered[p.UID()] = struct{}{}
			for _, otherBucket := range remaining {
				delete(otherBucket, p.UID())
			}
		}
		if len(covered) == len(peers) {
			break
		}
	}

	local := e.directory.GetLocalPeer()
	var unreached []*Peer
	for _, p := range peers {
		if p == local {
			continue
		}
		if _, ok := covered[p.UID()]; !ok {
			unreached = append(unreached, p)
		}
	}
	return message.UID, unreached, nil
}

// Send performs a blocking request/reply: it registers a sync waiter for
// message.UID, fires the message, then waits up to timeout for one of the
// four resolutions described in §4.3.
func (e *Engine) Send(target string, message *Message, timeout time.Duration) (*MessageReceived, error) {
	if e.isShuttingDown() {
		return nil, &NoTransport{Reason: "engine is shutting down"}
	}
	w := &syncWaiter{ch: make(chan syncOutcome, 1)}
	e.syncMu.Lock()
	e.syncWaiters[message.UID] = w
	e.syncMu.Unlock()

	removeWaiter := func() {
		e.syncMu.Lock()
		delete(e.syncWaiters, message.UID)
		e.syncMu.Unlock()
	}

	if _, err := e.Fire(target, message); err != nil {
		removeWaiter()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-w.ch:
		removeWaiter()
		if outcome.err != nil {
			return nil, outcome.err
		}
		if outcome.received == nil {
			return nil, &HeraldTimeout{Reason: "Herald stops listening"}
		}
		return outcome.received, nil
	case <-timer.C:
		removeWaiter()
		return nil, &HeraldTimeout{Reason: "Timeout reached"}
	}
}

// Post registers an asynchronous waiter for message.UID, then fires the
// message (§4.3). callback is invoked (on a worker-pool goroutine) when a
// reply arrives; errback is invoked when the waiter resolves to an error
// (no-listener or forget) or, with the asymmetry §7 calls out, NOT
// invoked when the waiter is silently reaped by GC.
func (e *Engine) Post(target string, message *Message, callback func(*MessageReceived), errback func(error), timeout time.Duration, forgetOnFirst bool) (string, error) {
	if e.isShuttingDown() {
		return "", &NoTransport{Reason: "engine is shutting down"}
	}
	if timeout <= 0 {
		timeout = DefaultPostTimeout
	}
	w := &postWaiter{
		callback:      callback,
		errback:       errback,
		deadline:      time.Now().Add(timeout),
		hasDeadline:   true,
		forgetOnFirst: forgetOnFirst,
	}
	e.postMu.Lock()
	e.postWaiters[message.UID] = w
	e.postMu.Unlock()

	if _, err := e.Fire(target, message); err != nil {
		e.postMu.Lock()
		delete(e.postWaiters, message.UID)
		e.postMu.Unlock()
		return "", err
	}
	return message.UID, nil
}

// PostGroup is Post's group-fanout analogue: it uses FireGroup's
// access-coverage algorithm and never forgets on first reply, since a
// single post to a group expects answers from multiple peers (§4.3).
func (e *Engine) PostGroup(group string, message *Message, callback func(*MessageReceived), errback func(error), timeout time.Duration) (string, []*Peer, error) {
	if e.isShuttingDown() {
		return "", nil, &NoTransport{Reason: "engine is shutting down"}
	}
	if timeout <= 0 {
		timeout = DefaultPostTimeout
	}
	w := &postWaiter{
		callback:      callback,
		errback:       errback,
		deadline:      time.Now().Add(timeout),
		hasDeadline:   true,
		forgetOnFirst: false,
	}
	e.postMu.Lock()
	e.postWaiters[message.UID] = w
	e.postMu.Unlock()

	_, unreached, err := e.FireGroup(group, message)
	if err != nil {
		e.postMu.Lock()
		delete(e.postWaiters, message.UID)
		e.postMu.Unlock()
		return "", nil, err
	}
	return message.UID, unreached, nil
}

// Forget cancels any matching sync- or async-waiter, surfacing
// ForgotMessage through it, and reports whether anything was removed.
func (e *Engine) Forget(uid string) bool {
	removed := false

	e.syncMu.Lock()
	if w, ok := e.syncWaiters[uid]; ok {
		delete(e.syncWaiters, uid)
		removed = true
		w.ch <- syncOutcome{err: &ForgotMessage{UID: uid}}
	}
	e.syncMu.Unlock()

	e.postMu.Lock()
	w, ok := e.postWaiters[uid]
	if ok {
		delete(e.postWaiters, uid)
		removed = true
	}
	e.postMu.Unlock()
	if ok && w.errback != nil {
		errback := w.errback
		e.pool.Enqueue(func() {
			e.safeCall(func() { errback(&ForgotMessage{UID: uid}) })
		})
	}

	return removed
}

// Reply answers original with a new message on subject (original.Subject
// if subject is empty), preferring the transport original arrived on.
func (e *Engine) Reply(original *MessageReceived, content any, subject string) (string, error) {
	if subject == "" {
		subject = original.Subject
	}
	reply := NewMessage(subject, content)
	reply.setRepliesTo(original.UID)
	reply.setSender(e.directory.GetLocalPeer().UID())

	if original.Access != "" {
		if t, ok := e.mux.Get(original.Access); ok {
			peer, err := e.directory.GetPeer(original.Sender)
			if err == nil {
				if fireErr := t.Fire(peer, reply, original.Extra); fireErr == nil {
					return reply.UID, nil
				}
			}
		}
	}

	uid, err := e.Fire(original.Sender, reply)
	if err != nil {
		if _, isUnknown := err.(*UnknownPeer); isUnknown {
			return "", &NoTransport{Reason: err.Error()}
		}
		return "", err
	}
	return uid, nil
}

// Handle is the entry point from transports (§4.3). Internal subjects
// (herald/error/*, herald/directory/*) are dispatched to
// handleInternal and never reach the listener registry; everything else
// goes through the notify pipeline.
func (e *Engine) Handle(received *MessageReceived) {
	if strings.HasPrefix(received.Subject, proto.SubjectErrorPrefix) ||
		strings.HasPrefix(received.Subject, proto.SubjectDirectoryPrefix) {
		e.handleInternal(received)
		return
	}
	e.notify(received)
}

func (e *Engine) handleInternal(received *MessageReceived) {
	switch {
	case strings.HasPrefix(received.Subject, proto.SubjectErrorPrefix):
		kind := strings.TrimPrefix(received.Subject, proto.SubjectErrorPrefix)
		if kind == proto.ErrorNoListener {
			e.handleNoListener(received)
		}
	case strings.HasPrefix(received.Subject, proto.SubjectDirectoryPrefix):
		kind := strings.TrimPrefix(received.Subject, proto.SubjectDirectoryPrefix)
		switch kind {
		case proto.DirectoryNewcomer:
			e.handleNewcomer(received)
		case proto.DirectoryWelcome:
			e.registerDump(received)
		case proto.DirectoryBye:
			e.directory.Unregister(received.Sender)
		}
	}
}

func (e *Engine) handleNewcomer(received *MessageReceived) {
	e.registerDump(received)
	local := e.directory.GetLocalPeer().Dump()
	if _, err := e.Reply(received, local, proto.SubjectDirectoryPrefix+proto.DirectoryWelcome); err != nil {
		e.logger.Printf("herald: reply to newcomer %s failed: %v", received.Sender, err)
	}
}

func (e *Engine) registerDump(received *MessageReceived) {
	dump, ok := AsPeerDump(received.Content)
	if !ok {
		e.logger.Printf("herald: could not decode peer dump from %s", received.Sender)
		return
	}
	if _, err := e.directory.Register(dump, nil); err != nil {
		e.logger.Printf("herald: failed to register peer %s: %v", dump.UID, err)
	}
}

func (e *Engine) handleNoListener(received *MessageReceived) {
	uid, subject := noListenerPayload(received.Content)
	if uid == "" {
		return
	}
	err := &NoListener{UID: uid, Subject: subject}

	e.syncMu.Lock()
	w, ok := e.syncWaiters[uid]
	if ok {
		delete(e.syncWaiters, uid)
	}
	e.syncMu.Unlock()
	if ok {
		w.ch <- syncOutcome{err: err}
	}

	e.postMu.Lock()
	pw, ok := e.postWaiters[uid]
	if ok {
		delete(e.postWaiters, uid)
	}
	e.postMu.Unlock()
	if ok && pw.errback != nil {
		errback := pw.errback
		e.pool.Enqueue(func() { e.safeCall(func() { errback(err) }) })
	}
}

func noListenerPayload(content any) (uid, subject string) {
	m, ok := content.(map[string]any)
	if !ok {
		return "", ""
	}
	if v, ok := m["uid"].(string); ok {
		uid = v
	}
	if v, ok := m["subject"].(string); ok {
		subject = v
	}
	return uid, subject
}

// notify implements §4.3.2: resolve a matching waiter if replyTo is set,
// then dispatch to every matched listener, issuing a no-listener error
// reply when nothing matched and the subject isn't itself internal.
func (e *Engine) notify(received *MessageReceived) {
	if received.ReplyTo != "" {
		e.resolveReply(received)
	}

	matched := e.listeners.Match(received.Subject)
	for _, l := range matched {
		l := l
		e.pool.Enqueue(func() {
			e.safeCall(func() { l.HeraldMessage(e, received) })
		})
	}

	if len(matched) == 0 && !strings.HasPrefix(received.Subject, "herald/") {
		e.replyNoListener(received)
	}
}

func (e *Engine) resolveReply(received *MessageReceived) {
	uid := received.ReplyTo

	e.syncMu.Lock()
	w, ok := e.syncWaiters[uid]
	if ok {
		delete(e.syncWaiters, uid)
	}
	e.syncMu.Unlock()
	if ok {
		w.ch <- syncOutcome{received: received}
	}

	e.postMu.Lock()
	pw, ok := e.postWaiters[uid]
	if ok && pw.forgetOnFirst {
		delete(e.postWaiters, uid)
	}
	e.postMu.Unlock()
	if ok && pw.callback != nil {
		callback := pw.callback
		e.pool.Enqueue(func() { e.safeCall(func() { callback(received) }) })
	}
}

func (e *Engine) replyNoListener(received *MessageReceived) {
	_, err := e.Reply(received, map[string]any{
		"uid":     received.UID,
		"subject": received.Subject,
	}, proto.SubjectErrorPrefix+proto.ErrorNoListener)
	if err != nil {
		e.logger.Printf("herald: could not report no-listener for %s: %v", received.Subject, err)
	}
}

// safeCall runs fn and logs (rather than propagates) any panic, so one
// faulty subscriber or callback can never poison delivery (§4.3.2, §7).
func (e *Engine) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("herald: recovered from listener/callback panic: %v", r)
		}
	}()
	fn()
}

func (e *Engine) gcLoop() {
	defer close(e.gcDone)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweepExpiredPosts()
		case <-e.gcStop:
			return
		}
	}
}

func (e *Engine) sweepExpiredPosts() {
	now := time.Now()
	e.postMu.Lock()
	defer e.postMu.Unlock()
	for uid, w := range e.postWaiters {
		if w.isDead(now) {
			delete(e.postWaiters, uid)
		}
	}
}

// Shutdown stops the GC timer, resolves every outstanding waiter (sync
// waiters with the shutdown sentinel, async waiters via their errback
// with a shutdown error), stops the worker pool, and unbinds every
// transport (§5). A shutdown already in progress is a no-op.
func (e *Engine) Shutdown() {
	e.shutdownMu.Lock()
	if e.shutdown {
		e.shutdownMu.Unlock()
		return
	}
	e.shutdown = true
	e.shutdownMu.Unlock()

	close(e.gcStop)
	<-e.gcDone

	e.syncMu.Lock()
	waiters := e.syncWaiters
	e.syncWaiters = make(map[string]*syncWaiter)
	e.syncMu.Unlock()
	for _, w := range waiters {
		w.ch <- syncOutcome{}
	}

	e.postMu.Lock()
	posts := e.postWaiters
	e.postWaiters = make(map[string]*postWaiter)
	e.postMu.Unlock()
	shutdownErr := &NoTransport{Reason: "engine shut down"}
	for _, w := range posts {
		if w.errback != nil {
			errback := w.errback
			e.safeCall(func() { errback(shutdownErr) })
		}
	}

	e.pool.Stop()

	for _, t := range e.mux.UnbindAll() {
		if closer, ok := t.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				e.logger.Printf("herald: error closing transport %s: %v", t.AccessID(), err)
			}
		}
	}
}
