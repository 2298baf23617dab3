package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmeet/internal/protocol"
	"github.com/BioHazard786/warpmeet/internal/relay"
	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/BioHazard786/warpmeet/internal/speaker"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) removed(remote string) (session.Reason, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == EventRemoved && ev.Remote == remote {
			return ev.Reason, true
		}
	}
	return 0, false
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fakeMedia struct {
	mu       sync.Mutex
	muted    bool
	videoOff bool
	video    webrtc.TrackLocal
	camera   webrtc.TrackLocal
	closed   bool
}

func (f *fakeMedia) SetMuted(m bool)           { f.mu.Lock(); f.muted = m; f.mu.Unlock() }
func (f *fakeMedia) SetVideoOff(v bool)        { f.mu.Lock(); f.videoOff = v; f.mu.Unlock() }
func (f *fakeMedia) Camera() webrtc.TrackLocal { return f.camera }
func (f *fakeMedia) UseVideo(t webrtc.TrackLocal) {
	f.mu.Lock()
	f.video = t
	f.mu.Unlock()
}
func (f *fakeMedia) Close() error { f.mu.Lock(); f.closed = true; f.mu.Unlock(); return nil }

func newVideoTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "warpmeet")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

type testManager struct {
	*Manager
	factory  *fakeFactory
	signaler *recordingSignaler
	events   *eventLog
}

func newTestManager(t *testing.T, local string, media LocalMedia, est *speaker.Estimator) *testManager {
	t.Helper()
	tm := &testManager{
		factory:  newFakeFactory(local),
		signaler: &recordingSignaler{},
		events:   &eventLog{},
	}
	tm.Manager = NewManager(local, Options{
		Signaler: tm.signaler,
		Factory:  tm.factory.New,
		Media:    media,
		Speaker:  est,
		OnEvent:  tm.events.add,
		Logger:   discard(),
	})
	t.Cleanup(func() { tm.Close(context.Background()) })
	return tm
}

func TestRosterOrJoinIsIdempotent(t *testing.T) {
	m := newTestManager(t, "A", nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.HandleRosterOrJoin("B", "bob")
		}()
	}
	wg.Wait()
	m.HandleRosterOrJoin("B", "bob")
	m.HandleRosterOrJoin("A", "me")
	m.HandleRosterOrJoin("", "nobody")

	if n := m.factory.count("B"); n != 1 {
		t.Fatalf("negotiators for B = %d, want 1", n)
	}
	if n := m.factory.count("A"); n != 0 {
		t.Fatal("session created for the local participant")
	}
	infos := m.Sessions()
	if len(infos) != 1 || infos[0].Remote != "B" || infos[0].Role != session.Initiator || infos[0].Name != "bob" {
		t.Fatalf("sessions = %+v", infos)
	}
	eventually(t, "offer sent", func() bool {
		sent := m.signaler.snapshot()
		return len(sent) > 0 && sent[0] == "offer B"
	})
	if n := m.events.count(EventAdded); n != 1 {
		t.Fatalf("added events = %d, want 1", n)
	}
}

func TestLocalCandidatesFollowOffer(t *testing.T) {
	m := newTestManager(t, "A", nil, nil)
	m.factory.emitLocal = 3
	m.HandleRosterOrJoin("B", "bob")

	eventually(t, "offer and candidates", func() bool { return len(m.signaler.snapshot()) == 4 })
	want := []string{
		"offer B",
		`candidate B {"candidate":"A-0"}`,
		`candidate B {"candidate":"A-1"}`,
		`candidate B {"candidate":"A-2"}`,
	}
	got := m.signaler.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent = %q, want %q", got, want)
		}
	}
}

func TestResponderAppliesCandidatesInOrder(t *testing.T) {
	m := newTestManager(t, "B", nil, nil)

	m.HandleOffer("A", "alice", "offer A->B")
	var want []string
	for i := 0; i < 10; i++ {
		c := fmt.Sprintf(`{"candidate":"c%d"}`, i)
		want = append(want, c)
		m.HandleCandidate("A", json.RawMessage(c))
	}

	eventually(t, "answer", func() bool {
		infos := m.Sessions()
		return len(infos) == 1 && infos[0].State == session.Connected
	})
	eventually(t, "candidates applied", func() bool {
		neg := m.factory.last("A")
		neg.mu.Lock()
		defer neg.mu.Unlock()
		return len(neg.candidates) == len(want)
	})

	neg := m.factory.last("A")
	neg.mu.Lock()
	defer neg.mu.Unlock()
	for i := range want {
		if neg.candidates[i] != want[i] {
			t.Fatalf("applied = %v, want %v", neg.candidates, want)
		}
	}
	if len(neg.remoteDesc) != 1 || neg.remoteDesc[0].Type != session.DescOffer {
		t.Fatalf("remote descriptions = %+v", neg.remoteDesc)
	}
	if infos := m.Sessions(); infos[0].Role != session.Responder {
		t.Fatalf("role = %v, want responder", infos[0].Role)
	}
}

func TestLateMessagesForUnknownRemoteDropped(t *testing.T) {
	m := newTestManager(t, "A", nil, nil)
	m.HandleAnswer("Z", "answer")
	m.HandleCandidate("Z", json.RawMessage(`{}`))
	m.HandleLeave("Z")
	m.HandleTransportFailure("Z")

	if n := m.factory.count("Z"); n != 0 {
		t.Fatalf("created %d sessions for unknown remote", n)
	}
	if len(m.Sessions()) != 0 {
		t.Fatalf("sessions = %+v", m.Sessions())
	}
}

func TestNegotiationFailureIsNotRetried(t *testing.T) {
	m := newTestManager(t, "B", nil, nil)
	m.factory.failRemote = true

	m.HandleOffer("A", "alice", "garbage")
	m.HandleCandidate("A", json.RawMessage(`{"candidate":"x"}`))

	time.Sleep(50 * time.Millisecond)
	infos := m.Sessions()
	if len(infos) != 1 || infos[0].State != session.Answering {
		t.Fatalf("sessions = %+v, want one answering", infos)
	}
	for _, sent := range m.signaler.snapshot() {
		if sent == "answer A" {
			t.Fatal("answer sent after failed remote description")
		}
	}

	m.HandleLeave("A")
	eventually(t, "removal", func() bool {
		_, ok := m.events.removed("A")
		return ok
	})
}

func TestLeaveAndLivenessRemoveSession(t *testing.T) {
	m := newTestManager(t, "A", nil, nil)
	m.HandleRosterOrJoin("B", "bob")
	m.HandleRosterOrJoin("C", "carol")
	m.HandleRosterOrJoin("D", "dave")

	m.HandleLeave("B")
	m.factory.last("C").hooks.OnLiveness(session.LivenessFailed)
	m.HandleTransportFailure("D")

	want := map[string]session.Reason{
		"B": session.ReasonLeft,
		"C": session.ReasonFailed,
		"D": session.ReasonTransport,
	}
	for remote, reason := range want {
		eventually(t, "removal of "+remote, func() bool {
			_, ok := m.events.removed(remote)
			return ok
		})
		if got, _ := m.events.removed(remote); got != reason {
			t.Errorf("%s removed with %v, want %v", remote, got, reason)
		}
		if !m.factory.last(remote).isClosed() {
			t.Errorf("%s transport not closed", remote)
		}
	}
	if len(m.Sessions()) != 0 {
		t.Fatalf("sessions = %+v", m.Sessions())
	}

	// A rejoining remote gets a fresh session.
	m.HandleRosterOrJoin("B", "bob")
	if n := m.factory.count("B"); n != 2 {
		t.Fatalf("negotiators for B = %d, want 2", n)
	}
}

func TestRenegotiateTrackAcrossSessions(t *testing.T) {
	m := newTestManager(t, "A", nil, nil)
	for _, id := range []string{"B", "C", "D"} {
		m.HandleRosterOrJoin(id, "")
	}

	// D's transport is already gone but its session has not been reaped yet.
	m.factory.last("D").Close()

	screen := newVideoTrack(t, "screen")
	err := m.RenegotiateTrack(screen)
	if err == nil || !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("RenegotiateTrack err = %v, want ErrTransportClosed", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Peer != "D" {
		t.Fatalf("error = %v, want a peer error for D", err)
	}

	for _, id := range []string{"B", "C"} {
		neg := m.factory.last(id)
		neg.mu.Lock()
		got := neg.tracks
		neg.mu.Unlock()
		if len(got) != 1 || got[0] != screen {
			t.Fatalf("%s tracks = %v, want the screen track", id, got)
		}
	}

	m.HandleLeave("D")
	eventually(t, "D removed", func() bool { return len(m.Sessions()) == 2 })
	if err := m.RenegotiateTrack(screen); err != nil {
		t.Fatalf("RenegotiateTrack after reaping: %v", err)
	}
}

func TestScreenShareAndMediaState(t *testing.T) {
	media := &fakeMedia{camera: newVideoTrack(t, "camera")}
	m := newTestManager(t, "A", media, nil)
	m.HandleRosterOrJoin("B", "bob")

	screen := newVideoTrack(t, "screen")
	if err := m.StartScreenShare(screen); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	if media.video != screen {
		t.Fatal("media not switched to the screen track")
	}
	if !m.LocalMediaState().Sharing {
		t.Fatal("sharing not announced")
	}

	if err := m.StopScreenShare(); err != nil {
		t.Fatalf("StopScreenShare: %v", err)
	}
	if media.video != media.camera {
		t.Fatal("media not switched back to the camera")
	}

	m.SetMediaState(true, true)
	if !media.muted || !media.videoOff {
		t.Fatal("local media not toggled")
	}

	neg := m.factory.last("B")
	neg.mu.Lock()
	tracks, states := neg.tracks, neg.states
	neg.mu.Unlock()
	if len(tracks) != 2 || tracks[0] != screen || tracks[1] != media.camera {
		t.Fatalf("tracks = %v", tracks)
	}
	last := states[len(states)-1]
	if !last.Muted || !last.VideoOff || last.Sharing {
		t.Fatalf("last announced state = %+v", last)
	}

	// Remote media state flows back as an event and into the snapshot.
	neg.hooks.OnMediaState(MediaState{Muted: true})
	if infos := m.Sessions(); !infos[0].Media.Muted {
		t.Fatalf("remote media state not recorded: %+v", infos[0])
	}
	if m.events.count(EventMediaState) != 1 {
		t.Fatal("media state event missing")
	}
}

func TestScreenShareWithoutMedia(t *testing.T) {
	m := newTestManager(t, "A", nil, nil)
	if err := m.StopScreenShare(); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("StopScreenShare err = %v, want ErrNoMedia", err)
	}
	if err := m.StartScreenShare(nil); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("StartScreenShare(nil) err = %v, want ErrNoMedia", err)
	}
}

type loudAnalyzer struct{}

func (loudAnalyzer) ByteFrequencyData(dst []byte) {
	for i := range dst {
		dst[i] = 200
	}
}

func TestRemoteAudioFeedsSpeakerEstimator(t *testing.T) {
	est := speaker.New(time.Hour, nil)
	m := newTestManager(t, "A", nil, est)
	m.HandleRosterOrJoin("B", "bob")

	m.factory.last("B").hooks.OnTrack(TrackInfo{ID: "audio", Kind: "audio", Analyzer: loudAnalyzer{}})
	if got := est.Estimate(); got != "B" {
		t.Fatalf("Estimate() = %q, want B", got)
	}
	if m.events.count(EventRemoteTrack) != 1 {
		t.Fatal("remote track event missing")
	}

	m.HandleLeave("B")
	eventually(t, "analyzer removed", func() bool { return est.Len() == 0 })
}

func TestCloseReleasesEverything(t *testing.T) {
	media := &fakeMedia{}
	m := newTestManager(t, "A", media, nil)
	for _, id := range []string{"B", "C", "D"} {
		m.HandleRosterOrJoin(id, "")
	}

	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, id := range []string{"B", "C", "D"} {
		if !m.factory.last(id).isClosed() {
			t.Errorf("%s transport still open after Close", id)
		}
		if reason, ok := m.events.removed(id); !ok || reason != session.ReasonLocal {
			t.Errorf("%s removed = %v/%v, want local", id, reason, ok)
		}
	}
	if !media.closed {
		t.Error("local media not released")
	}
	if len(m.Sessions()) != 0 {
		t.Fatalf("sessions after Close = %+v", m.Sessions())
	}

	m.HandleRosterOrJoin("E", "")
	m.HandleOffer("F", "", "offer")
	if m.factory.count("E")+m.factory.count("F") != 0 {
		t.Fatal("session created after Close")
	}
	if err := m.Close(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("second Close err = %v", err)
	}
}

func TestThreeParticipantMesh(t *testing.T) {
	registry := relay.NewRegistry(discard())
	a := newMeshMember(t, registry, "A")
	b := newMeshMember(t, registry, "B")
	c := newMeshMember(t, registry, "C")

	a.join(registry, "abc123xyz")
	b.join(registry, "ABC123XYZ")
	c.join(registry, "Abc123Xyz")

	connected := func(role session.Role) sessionView { return sessionView{role: role, state: session.Connected} }
	want := map[*meshMember]map[string]sessionView{
		a: {"B": connected(session.Initiator), "C": connected(session.Initiator)},
		b: {"A": connected(session.Responder), "C": connected(session.Initiator)},
		c: {"A": connected(session.Responder), "B": connected(session.Responder)},
	}
	for mm, w := range want {
		eventually(t, mm.id+" sessions", func() bool { return matches(mm.manager, w) })
	}
	for _, mm := range []*meshMember{a, b, c} {
		for _, other := range []string{"A", "B", "C"} {
			if other != mm.id && mm.factory.count(other) != 1 {
				t.Fatalf("%s created %d sessions for %s", mm.id, mm.factory.count(other), other)
			}
		}
	}

	// B leaves.
	registry.Handle(b.transport, &protocol.Message{Type: protocol.TypeLeave})
	b.manager.Close(context.Background())

	eventually(t, "A drops B", func() bool { return matches(a.manager, map[string]sessionView{"C": connected(session.Initiator)}) })
	eventually(t, "C drops B", func() bool { return matches(c.manager, map[string]sessionView{"A": connected(session.Responder)}) })
	for _, p := range registry.Roster("ABC123XYZ") {
		if p.UserID == "B" {
			t.Fatal("roster still lists B")
		}
	}
	if registry.Size() != 2 {
		t.Fatalf("registry size = %d, want 2", registry.Size())
	}
	if !a.factory.last("B").isClosed() || !c.factory.last("B").isClosed() {
		t.Fatal("sessions with B not closed")
	}
}

func TestGlareConvergesToOneSession(t *testing.T) {
	for i := 0; i < 20; i++ {
		registry := relay.NewRegistry(discard())
		a := newMeshMember(t, registry, "A")
		b := newMeshMember(t, registry, "B")

		if _, err := registry.Join("GLARE", &relay.Participant{ID: "A", Transport: a.transport}); err != nil {
			t.Fatalf("Join A: %v", err)
		}
		if _, err := registry.Join("GLARE", &relay.Participant{ID: "B", Transport: b.transport}); err != nil {
			t.Fatalf("Join B: %v", err)
		}

		// Both sides offer at once.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); a.manager.HandleRosterOrJoin("B", "") }()
		go func() { defer wg.Done(); b.manager.HandleRosterOrJoin("A", "") }()
		wg.Wait()

		eventually(t, "A connected", func() bool {
			return matches(a.manager, map[string]sessionView{"B": {session.Initiator, session.Connected}})
		})
		eventually(t, "B connected", func() bool {
			return matches(b.manager, map[string]sessionView{"A": {session.Responder, session.Connected}})
		})
		if a.factory.count("B") != 1 || b.factory.count("A") != 1 {
			t.Fatalf("round %d: sessions A->B %d, B->A %d", i, a.factory.count("B"), b.factory.count("A"))
		}

		negA := a.factory.last("B")
		negA.mu.Lock()
		descA := append([]session.Description(nil), negA.remoteDesc...)
		negA.mu.Unlock()
		if len(descA) != 1 || descA[0].Type != session.DescAnswer {
			t.Fatalf("round %d: A applied %+v, want a single answer", i, descA)
		}

		negB := b.factory.last("A")
		negB.mu.Lock()
		descB := append([]session.Description(nil), negB.remoteDesc...)
		negB.mu.Unlock()
		if len(descB) != 1 || descB[0].Type != session.DescOffer {
			t.Fatalf("round %d: B applied %+v, want a single offer", i, descB)
		}

		a.manager.Close(context.Background())
		b.manager.Close(context.Background())
	}
}
