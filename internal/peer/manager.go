// Package peer owns the mesh of sessions between the local participant and every
// other member of the meeting.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/BioHazard786/warpmeet/internal/speaker"
)

// Options configure a Manager. Signaler and Factory are required.
type Options struct {
	Signaler Signaler
	Factory  Factory

	// Media is optional; without it the manager only negotiates what the
	// factory provides on its own.
	Media LocalMedia

	// Speaker, when set, receives an analyzer for every inbound audio track.
	Speaker *speaker.Estimator

	// OnEvent is called from session goroutines and must not block.
	OnEvent func(Event)

	Logger *slog.Logger
}

// Manager creates, drives and tears down one session per remote participant.
type Manager struct {
	localID  string
	signaler Signaler
	factory  Factory
	media    LocalMedia
	speaker  *speaker.Estimator
	onEvent  func(Event)
	logger   *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*conn
	live       map[*conn]struct{}
	localState MediaState
	closed     bool
}

// NewManager returns a manager for the local participant localID.
func NewManager(localID string, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		localID:  localID,
		signaler: opts.Signaler,
		factory:  opts.Factory,
		media:    opts.Media,
		speaker:  opts.Speaker,
		onEvent:  opts.OnEvent,
		logger:   logger.With("peer", localID),
		sessions: make(map[string]*conn),
		live:     make(map[*conn]struct{}),
	}
}

// LocalID returns the id of the participant this manager negotiates for.
func (m *Manager) LocalID() string {
	return m.localID
}

// HandleRosterOrJoin starts negotiating with a remote learned from the initial
// roster or a join notice. It is a no-op if a session already exists.
func (m *Manager) HandleRosterOrJoin(remoteID, name string) {
	c, created := m.getOrCreate(remoteID, name, session.Initiator)
	if !created {
		return
	}
	c.post(session.Start{CanOffer: c.neg.CanOffer()})
}

// HandleOffer dispatches an offer, creating a responder session for an unknown remote.
func (m *Manager) HandleOffer(remoteID, name, sdp string) {
	c, _ := m.getOrCreate(remoteID, name, session.Responder)
	if c == nil {
		return
	}
	c.post(session.RemoteOffer{SDP: sdp})
}

// HandleAnswer dispatches an answer. Answers for unknown remotes are dropped.
func (m *Manager) HandleAnswer(remoteID, sdp string) {
	if c := m.lookup(remoteID); c != nil {
		c.post(session.RemoteAnswer{SDP: sdp})
		return
	}
	m.logger.Debug("Answer for unknown session dropped", "remote", remoteID)
}

// HandleCandidate dispatches a remote candidate. Candidates for unknown remotes are dropped.
func (m *Manager) HandleCandidate(remoteID string, candidate json.RawMessage) {
	if c := m.lookup(remoteID); c != nil {
		c.post(session.RemoteCandidate{Candidate: candidate})
		return
	}
	m.logger.Debug("Candidate for unknown session dropped", "remote", remoteID)
}

// HandleLeave tears down the session with a remote that left the meeting.
func (m *Manager) HandleLeave(remoteID string) {
	m.hangup(remoteID, session.ReasonLeft)
}

// HandleTransportFailure tears down the session whose media transport failed.
func (m *Manager) HandleTransportFailure(remoteID string) {
	m.hangup(remoteID, session.ReasonTransport)
}

// RenegotiateTrack swaps the outgoing video of every session to track. Sessions
// are updated independently; the returned error joins every per-session failure.
func (m *Manager) RenegotiateTrack(track webrtc.TrackLocal) error {
	conns := m.snapshot()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			if c.closed() {
				return
			}
			if err := c.neg.ReplaceTrack(track); err != nil {
				c.logger.Warn("Failed to replace track", "err", err)
				mu.Lock()
				errs = append(errs, NewPeerError("replace track", c.remote, err))
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// StartScreenShare makes track the outgoing video for current and future sessions.
func (m *Manager) StartScreenShare(track webrtc.TrackLocal) error {
	if track == nil {
		return NewError("start screen share", ErrNoMedia)
	}
	if m.media != nil {
		m.media.UseVideo(track)
	}
	err := m.RenegotiateTrack(track)
	m.updateLocalState(func(s *MediaState) { s.Sharing = true })
	return err
}

// StopScreenShare restores the camera track.
func (m *Manager) StopScreenShare() error {
	if m.media == nil {
		return NewError("stop screen share", ErrNoMedia)
	}
	camera := m.media.Camera()
	m.media.UseVideo(camera)
	err := m.RenegotiateTrack(camera)
	m.updateLocalState(func(s *MediaState) { s.Sharing = false })
	return err
}

// SetMediaState toggles the local tracks and announces the change to every peer.
func (m *Manager) SetMediaState(muted, videoOff bool) {
	if m.media != nil {
		m.media.SetMuted(muted)
		m.media.SetVideoOff(videoOff)
	}
	m.updateLocalState(func(s *MediaState) {
		s.Muted = muted
		s.VideoOff = videoOff
	})
}

// LocalMediaState returns the state last announced to peers.
func (m *Manager) LocalMediaState() MediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localState
}

// Sessions returns the current sessions ordered by remote id.
func (m *Manager) Sessions() []Info {
	conns := m.snapshot()
	infos := make([]Info, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Remote < infos[j].Remote })
	return infos
}

// Close hangs up every session and waits for each to finish closing, then
// releases local media. Sessions close independently of each other.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.closed = true
	m.sessions = make(map[string]*conn)
	live := make([]*conn, 0, len(m.live))
	for c := range m.live {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.post(session.Hangup{Reason: session.ReasonLocal})
	}

	var errs []error
	for _, c := range live {
		select {
		case <-c.done:
			if c.closeErr != nil {
				errs = append(errs, c.closeErr)
			}
		case <-ctx.Done():
			errs = append(errs, NewPeerError("close", c.remote, ctx.Err()))
		}
	}

	if m.speaker != nil {
		m.speaker.Stop()
	}
	if m.media != nil {
		if err := m.media.Close(); err != nil {
			errs = append(errs, NewError("close media", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lookup(remoteID string) *conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[remoteID]
}

func (m *Manager) snapshot() []*conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*conn, 0, len(m.sessions))
	for _, c := range m.sessions {
		conns = append(conns, c)
	}
	return conns
}

// getOrCreate returns the session for remoteID, creating it with role if absent.
func (m *Manager) getOrCreate(remoteID, name string, role session.Role) (*conn, bool) {
	if remoteID == "" || remoteID == m.localID {
		return nil, false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}
	if c, ok := m.sessions[remoteID]; ok {
		m.mu.Unlock()
		return c, false
	}

	c := &conn{
		manager: m,
		remote:  remoteID,
		name:    name,
		logger:  m.logger.With("remote", remoteID),
		sm:      session.New(m.localID, remoteID, role),
		box:     newMailbox(),
		done:    make(chan struct{}),
		role:    role,
		state:   session.Idle,
	}
	neg, err := m.factory(remoteID, role, m.hooks(c))
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("Failed to create peer connection", "remote", remoteID, "err", err)
		return nil, false
	}
	c.neg = neg
	m.sessions[remoteID] = c
	m.live[c] = struct{}{}
	m.mu.Unlock()

	c.logger.Debug("Session created", "role", role)
	m.emit(Event{Kind: EventAdded, Remote: remoteID, Name: name, Role: role, State: session.Idle})
	go c.run()
	return c, true
}

func (m *Manager) hooks(c *conn) Hooks {
	return Hooks{
		OnCandidate: c.sendCandidate,
		OnLiveness: func(status session.Liveness) {
			c.post(session.LivenessChanged{Status: status})
		},
		OnTrack: func(track TrackInfo) {
			if c.closed() {
				return
			}
			if track.Analyzer != nil && m.speaker != nil {
				m.speaker.Add(c.remote, track.Analyzer)
			}
			m.emit(Event{Kind: EventRemoteTrack, Remote: c.remote, Name: c.name, Track: track})
		},
		OnMediaState: func(state MediaState) {
			c.mu.Lock()
			c.media = state
			c.mu.Unlock()
			m.emit(Event{Kind: EventMediaState, Remote: c.remote, Name: c.name, Media: state})
		},
		LocalMediaState: m.LocalMediaState,
	}
}

func (m *Manager) hangup(remoteID string, reason session.Reason) {
	m.mu.Lock()
	c, ok := m.sessions[remoteID]
	if ok {
		delete(m.sessions, remoteID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	c.post(session.Hangup{Reason: reason})
}

// remove runs on the session goroutine once the session has closed.
func (m *Manager) remove(c *conn, reason session.Reason) {
	m.mu.Lock()
	if m.sessions[c.remote] == c {
		delete(m.sessions, c.remote)
	}
	delete(m.live, c)
	_, replaced := m.sessions[c.remote]
	m.mu.Unlock()

	if m.speaker != nil && !replaced {
		m.speaker.Remove(c.remote)
	}
	c.logger.Info("Session removed", "reason", reason)
	m.emit(Event{Kind: EventRemoved, Remote: c.remote, Name: c.name, Reason: reason})
}

func (m *Manager) updateLocalState(update func(*MediaState)) {
	m.mu.Lock()
	update(&m.localState)
	state := m.localState
	m.mu.Unlock()

	for _, c := range m.snapshot() {
		if err := c.neg.SendMediaState(state); err != nil && !errors.Is(err, ErrNoControl) {
			c.logger.Debug("Failed to announce media state", "err", err)
		}
	}
}

// ActiveSpeaker forwards estimator output as an event; wire it as the estimator callback.
func (m *Manager) ActiveSpeaker(remoteID string) {
	m.emit(Event{Kind: EventActiveSpeaker, Remote: remoteID})
}

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
