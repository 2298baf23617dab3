package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmeet/internal/protocol"
	"github.com/BioHazard786/warpmeet/internal/relay"
	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/BioHazard786/warpmeet/internal/signaling"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNegotiator records calls and produces predictable descriptions.
type fakeNegotiator struct {
	local, remote string
	hooks         Hooks

	mu         sync.Mutex
	offers     int
	rollbacks  int
	remoteDesc []session.Description
	candidates []string
	tracks     []webrtc.TrackLocal
	states     []MediaState
	closed     bool
	failRemote bool
	emitLocal  int
}

func (f *fakeNegotiator) CreateOffer() (string, error) {
	f.mu.Lock()
	f.offers++
	n := f.offers
	emit := f.emitLocal
	f.mu.Unlock()

	for i := 0; i < emit; i++ {
		f.hooks.OnCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"%s-%d"}`, f.local, i)))
	}
	return fmt.Sprintf("offer %s->%s #%d", f.local, f.remote, n), nil
}

func (f *fakeNegotiator) CreateAnswer() (string, error) {
	return fmt.Sprintf("answer %s->%s", f.local, f.remote), nil
}

func (f *fakeNegotiator) SetRemoteDescription(desc session.Description, rollback bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemote {
		return errors.New("bad description")
	}
	if rollback {
		f.rollbacks++
	}
	f.remoteDesc = append(f.remoteDesc, desc)
	return nil
}

func (f *fakeNegotiator) AddCandidate(c json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, string(c))
	return nil
}

func (f *fakeNegotiator) ReplaceTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeNegotiator) SendMediaState(state MediaState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeNegotiator) CanOffer() bool { return true }

func (f *fakeNegotiator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNegotiator) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory keeps every negotiator it hands out.
type fakeFactory struct {
	local string

	mu         sync.Mutex
	negs       map[string][]*fakeNegotiator
	emitLocal  int
	failRemote bool
}

func newFakeFactory(local string) *fakeFactory {
	return &fakeFactory{local: local, negs: make(map[string][]*fakeNegotiator)}
}

func (ff *fakeFactory) New(remoteID string, role session.Role, hooks Hooks) (Negotiator, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	n := &fakeNegotiator{
		local:      ff.local,
		remote:     remoteID,
		hooks:      hooks,
		emitLocal:  ff.emitLocal,
		failRemote: ff.failRemote,
	}
	ff.negs[remoteID] = append(ff.negs[remoteID], n)
	return n, nil
}

func (ff *fakeFactory) last(remoteID string) *fakeNegotiator {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	list := ff.negs[remoteID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (ff *fakeFactory) count(remoteID string) int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.negs[remoteID])
}

// recordingSignaler captures outbound negotiation messages.
type recordingSignaler struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSignaler) add(v string) error {
	s.mu.Lock()
	s.sent = append(s.sent, v)
	s.mu.Unlock()
	return nil
}

func (s *recordingSignaler) SendOffer(to, sdp string) error  { return s.add("offer " + to) }
func (s *recordingSignaler) SendAnswer(to, sdp string) error { return s.add("answer " + to) }
func (s *recordingSignaler) SendCandidate(to string, c json.RawMessage) error {
	return s.add("candidate " + to + " " + string(c))
}

func (s *recordingSignaler) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// memTransport is an in-memory relay.Transport that delivers, in order, to a
// signaling dispatcher on its own goroutine.
type memTransport struct {
	peers signaling.Peers

	mu     sync.Mutex
	queue  []*protocol.Message
	notify chan struct{}
	done   chan struct{}
}

func newMemTransport(peers signaling.Peers) *memTransport {
	t := &memTransport{
		peers:  peers,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *memTransport) Send(msg *protocol.Message) error {
	t.mu.Lock()
	t.queue = append(t.queue, msg)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *memTransport) pump() {
	for {
		t.mu.Lock()
		if len(t.queue) > 0 {
			msg := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()
			signaling.Dispatch(t.peers, msg)
			continue
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-t.done:
			return
		}
	}
}

func (t *memTransport) stop() {
	close(t.done)
}

// relaySignaler sends through a relay.Registry as if over a socket.
type relaySignaler struct {
	registry *relay.Registry
	from     relay.Transport
}

func (s *relaySignaler) route(msg *protocol.Message) error {
	err := s.registry.Route(s.from, msg)
	if errors.Is(err, relay.ErrRecipientGone) {
		return nil
	}
	return err
}

func (s *relaySignaler) SendOffer(to, sdp string) error {
	return s.route(&protocol.Message{Type: protocol.TypeOffer, To: to, SDP: sdp})
}

func (s *relaySignaler) SendAnswer(to, sdp string) error {
	return s.route(&protocol.Message{Type: protocol.TypeAnswer, To: to, SDP: sdp})
}

func (s *relaySignaler) SendCandidate(to string, c json.RawMessage) error {
	return s.route(&protocol.Message{Type: protocol.TypeCandidate, To: to, Candidate: c})
}

// meshMember is one participant of an in-memory meeting.
type meshMember struct {
	id        string
	manager   *Manager
	factory   *fakeFactory
	transport *memTransport
}

// lateManager lets the transport exist before the manager it dispatches to.
type lateManager struct {
	mu sync.Mutex
	m  *Manager
}

func (l *lateManager) get() *Manager {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m
}

func (l *lateManager) HandleRosterOrJoin(id, name string) { l.get().HandleRosterOrJoin(id, name) }
func (l *lateManager) HandleOffer(id, name, sdp string)   { l.get().HandleOffer(id, name, sdp) }
func (l *lateManager) HandleAnswer(id, sdp string)        { l.get().HandleAnswer(id, sdp) }
func (l *lateManager) HandleLeave(id string)              { l.get().HandleLeave(id) }
func (l *lateManager) HandleCandidate(id string, c json.RawMessage) {
	l.get().HandleCandidate(id, c)
}

func newMeshMember(t *testing.T, registry *relay.Registry, id string) *meshMember {
	t.Helper()
	late := &lateManager{}
	late.mu.Lock()
	tr := newMemTransport(late)
	factory := newFakeFactory(id)
	factory.emitLocal = 2
	m := NewManager(id, Options{
		Signaler: &relaySignaler{registry: registry, from: tr},
		Factory:  factory.New,
		Logger:   discard(),
	})
	late.m = m
	late.mu.Unlock()

	t.Cleanup(func() {
		m.Close(context.Background())
		tr.stop()
	})
	return &meshMember{id: id, manager: m, factory: factory, transport: tr}
}

func (mm *meshMember) join(registry *relay.Registry, room string) {
	registry.Handle(mm.transport, &protocol.Message{
		Type:        protocol.TypeJoin,
		MeetingCode: room,
		UserID:      mm.id,
		Username:    "name-" + mm.id,
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type sessionView struct {
	role  session.Role
	state session.State
}

func viewOf(m *Manager) map[string]sessionView {
	out := make(map[string]sessionView)
	for _, info := range m.Sessions() {
		out[info.Remote] = sessionView{role: info.Role, state: info.State}
	}
	return out
}

func matches(m *Manager, want map[string]sessionView) bool {
	got := viewOf(m)
	if len(got) != len(want) {
		return false
	}
	for id, v := range want {
		if got[id] != v {
			return false
		}
	}
	return true
}
