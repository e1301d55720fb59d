package herald

import (
	"sync"
	"testing"
	"time"

	"github.com/ahmadshahwan/cohorte-herald/internal/proto"
)

// fakeTransport is the in-memory stand-in for the MQTT transport used by
// the source's test fixtures the teacher mirrors with mockTemplatesService
// (internal/rendezvous/templates_test.go): instead of a broker, Fire hands
// the message straight to the target engine's Handle.
type fakeTransport struct {
	accessID string
	peers    map[string]*Engine // uid -> the engine behind that uid
}

func newFakeTransport(accessID string) *fakeTransport {
	return &fakeTransport{accessID: accessID, peers: make(map[string]*Engine)}
}

func (f *fakeTransport) AccessID() string { return f.accessID }

func (f *fakeTransport) Fire(peer *Peer, message *Message, extra any) error {
	eng, ok := f.peers[peer.UID()]
	if !ok {
		return &InvalidPeerAccess{AccessID: f.accessID, PeerUID: peer.UID()}
	}
	received := &MessageReceived{
		Message: *message,
		Sender:  message.Headers[proto.HeaderSenderUID],
		ReplyTo: message.Headers[proto.HeaderRepliesTo],
		Access:  f.accessID,
	}
	go eng.Handle(received)
	return nil
}

func (f *fakeTransport) FireGroup(group string, peers []*Peer, message *Message) ([]*Peer, error) {
	var reached []*Peer
	for _, p := range peers {
		if err := f.Fire(p, message, nil); err == nil {
			reached = append(reached, p)
		}
	}
	return reached, nil
}

// funcListener adapts a plain function to the Listener interface.
type funcListener struct {
	fn func(engine *Engine, received *MessageReceived)
}

func (l funcListener) HeraldMessage(engine *Engine, received *MessageReceived) {
	l.fn(engine, received)
}

// testPeer wires one Engine to a fakeTransport, registered as uid.
type testPeer struct {
	uid       string
	engine    *Engine
	directory *Directory
	listeners *ListenerRegistry
	transport *fakeTransport
}

func newTestPeer(t *testing.T, uid string, groups []string, transport *fakeTransport) *testPeer {
	t.Helper()
	local := NewPeer(uid, uid, "", "", groups, nil)
	directory := NewDirectory(local)
	listeners := NewListenerRegistry()
	mux := NewMultiplexer(nil, nil)
	mux.Bind(transport)
	engine := NewEngine(directory, listeners, mux, 4, nil)
	transport.peers[uid] = engine
	return &testPeer{uid: uid, engine: engine, directory: directory, listeners: listeners, transport: transport}
}

// link registers each peer's local identity, with a "fake" access, in the
// other's directory, so fire() can resolve an access for it.
func link(a, b *testPeer) {
	a.directory.BindAccessDirectory(a.transport.AccessID(), fakeAccessDirectory{})
	b.directory.BindAccessDirectory(b.transport.AccessID(), fakeAccessDirectory{})

	bp := NewPeer(b.uid, b.uid, "", "", b.directory.GetLocalPeer().Groups(), nil)
	bp.SetAccess(a.transport.AccessID(), struct{}{})
	a.directory.Register(bp.Dump(), nil)

	ap := NewPeer(a.uid, a.uid, "", "", a.directory.GetLocalPeer().Groups(), nil)
	ap.SetAccess(b.transport.AccessID(), struct{}{})
	b.directory.Register(ap.Dump(), nil)
}

type fakeAccessDirectory struct{}

func (fakeAccessDirectory) LoadAccess(data any) (any, error) { return struct{}{}, nil }

func TestSendRequestReplyHappyPath(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	b := newTestPeer(t, "peer-b", nil, transport)
	link(a, b)

	b.listeners.Bind(&funcListener{fn: func(engine *Engine, received *MessageReceived) {
		if _, err := engine.Reply(received, received.Content, ""); err != nil {
			t.Errorf("reply failed: %v", err)
		}
	}}, []string{"demo/*"})

	msg := NewMessage("demo/echo", "hi")
	reply, err := a.engine.Send(b.uid, msg, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Content != "hi" {
		t.Fatalf("content = %v, want hi", reply.Content)
	}
	if reply.RepliesTo() != msg.UID {
		t.Fatalf("replies_to = %q, want %q", reply.RepliesTo(), msg.UID)
	}
}

func TestSendNoListener(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	b := newTestPeer(t, "peer-b", nil, transport)
	link(a, b)

	msg := NewMessage("nobody/home", nil)
	_, err := a.engine.Send(b.uid, msg, 2*time.Second)
	nl, ok := err.(*NoListener)
	if !ok {
		t.Fatalf("err = %v (%T), want *NoListener", err, err)
	}
	if nl.Subject != "nobody/home" {
		t.Fatalf("subject = %q", nl.Subject)
	}
}

func TestSendTimeout(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	b := newTestPeer(t, "peer-b", nil, transport)
	link(a, b)

	b.listeners.Bind(&funcListener{fn: func(*Engine, *MessageReceived) {
		// never replies
	}}, []string{"demo/*"})

	msg := NewMessage("demo/silence", nil)
	start := time.Now()
	_, err := a.engine.Send(b.uid, msg, 200*time.Millisecond)
	elapsed := time.Since(start)

	if _, ok := err.(*HeraldTimeout); !ok {
		t.Fatalf("err = %v (%T), want *HeraldTimeout", err, err)
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}

	a.engine.syncMu.Lock()
	n := len(a.engine.syncWaiters)
	a.engine.syncMu.Unlock()
	if n != 0 {
		t.Fatalf("sync waiter table not empty after timeout: %d entries", n)
	}
}

func TestFireGroupPartialCoverage(t *testing.T) {
	fake := newFakeTransport("fake")
	const otherAccessID = "other"

	a := newTestPeer(t, "peer-a", []string{"workers"}, fake)
	bEng := newTestPeer(t, "peer-b", []string{"workers"}, fake)
	cEng := newTestPeer(t, "peer-c", []string{"workers"}, fake)

	dLocal := NewPeer("peer-d", "peer-d", "", "", []string{"workers"}, nil)
	dLocal.SetAccess(otherAccessID, struct{}{})

	a.directory.BindAccessDirectory(fake.AccessID(), fakeAccessDirectory{})

	bPeer := NewPeer(bEng.uid, bEng.uid, "", "", []string{"workers"}, nil)
	bPeer.SetAccess(fake.AccessID(), struct{}{})
	a.directory.Register(bPeer.Dump(), nil)

	cPeer := NewPeer(cEng.uid, cEng.uid, "", "", []string{"workers"}, nil)
	cPeer.SetAccess(fake.AccessID(), struct{}{})
	a.directory.Register(cPeer.Dump(), nil)

	a.directory.Register(dLocal.Dump(), nil)

	var mu sync.Mutex
	received := map[string]bool{}
	markReceived := func(name string) *funcListener {
		return &funcListener{fn: func(_ *Engine, _ *MessageReceived) {
			mu.Lock()
			received[name] = true
			mu.Unlock()
		}}
	}
	bEng.listeners.Bind(markReceived("b"), []string{"broadcast/*"})
	cEng.listeners.Bind(markReceived("c"), []string{"broadcast/*"})

	_, unreached, err := a.engine.FireGroup("workers", NewMessage("broadcast/hello", nil))
	if err != nil {
		t.Fatalf("fire_group: %v", err)
	}
	if len(unreached) != 1 || unreached[0].UID() != "peer-d" {
		t.Fatalf("unreached = %v, want [peer-d]", unreached)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if !received["b"] || !received["c"] {
		t.Fatalf("received = %v, want both b and c", received)
	}
}

func TestForgetCancelsPost(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	b := newTestPeer(t, "peer-b", nil, transport)
	link(a, b)

	b.listeners.Bind(&funcListener{fn: func(*Engine, *MessageReceived) {
		// never replies before forget
	}}, []string{"demo/*"})

	var mu sync.Mutex
	var errs []error
	msg := NewMessage("demo/slow", nil)
	uid, err := a.engine.Post(b.uid, msg, func(*MessageReceived) {}, func(e error) {
		mu.Lock()
		errs = append(errs, e)
		mu.Unlock()
	}, 60*time.Second, true)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if !a.engine.Forget(uid) {
		t.Fatalf("forget returned false")
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("errback invoked %d times, want 1", len(errs))
	}
	if _, ok := errs[0].(*ForgotMessage); !ok {
		t.Fatalf("errback err = %v (%T), want *ForgotMessage", errs[0], errs[0])
	}
}

func TestShutdownResolvesOutstandingSendWithTimeout(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	b := newTestPeer(t, "peer-b", nil, transport)
	link(a, b)

	b.listeners.Bind(&funcListener{fn: func(*Engine, *MessageReceived) {
		// never replies; a.engine.Shutdown must still unblock Send below.
	}}, []string{"demo/*"})

	done := make(chan error, 1)
	go func() {
		_, err := a.engine.Send(b.uid, NewMessage("demo/slow", nil), 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.engine.Shutdown()

	select {
	case err := <-done:
		if _, ok := err.(*HeraldTimeout); !ok {
			t.Fatalf("err = %v (%T), want *HeraldTimeout", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown did not unblock the pending Send")
	}

	if _, _, err := a.engine.FireGroup("workers", NewMessage("demo/after-shutdown", nil)); err == nil {
		t.Fatalf("FireGroup after shutdown returned no error")
	}
	if _, err := a.engine.Send(b.uid, NewMessage("demo/after-shutdown", nil), time.Second); err == nil {
		t.Fatalf("Send after shutdown returned no error")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	a.engine.Shutdown()
	a.engine.Shutdown()
}

// TestUnregisterMakesPeerUnknown covers the directory step the MQTT
// transport performs when a last-will notice arrives: it calls
// Directory.Unregister directly, without a broker.
func TestUnregisterMakesPeerUnknown(t *testing.T) {
	transport := newFakeTransport("fake")
	a := newTestPeer(t, "peer-a", nil, transport)
	b := newTestPeer(t, "peer-b", nil, transport)
	link(a, b)

	a.directory.Unregister(b.uid)

	if _, err := a.directory.GetPeer(b.uid); err == nil {
		t.Fatalf("expected UnknownPeer after unregister")
	} else if _, ok := err.(*UnknownPeer); !ok {
		t.Fatalf("err = %v (%T), want *UnknownPeer", err, err)
	}
}
