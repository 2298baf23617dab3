package rtc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/session"
)

// Negotiator is a peer.Negotiator over one pion PeerConnection.
//
// pion cannot roll back a local offer, so yielding in glare discards the current
// connection and answers on a fresh one. Callbacks from a discarded connection
// are ignored.
type Negotiator struct {
	api    *webrtc.API
	cfg    webrtc.Configuration
	media  *MediaSource
	hooks  peer.Hooks
	logger *slog.Logger

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	video   *webrtc.RTPSender
	control *webrtc.DataChannel
	closed  bool
}

// NewFactory returns a peer.Factory creating pion-backed negotiators. media may
// be nil, in which case only the control channel is negotiated.
func NewFactory(api *webrtc.API, cfg webrtc.Configuration, media *MediaSource, logger *slog.Logger) peer.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(remoteID string, role session.Role, hooks peer.Hooks) (peer.Negotiator, error) {
		return newNegotiator(api, cfg, media, role, hooks, logger.With("remote", remoteID))
	}
}

func newNegotiator(api *webrtc.API, cfg webrtc.Configuration, media *MediaSource, role session.Role, hooks peer.Hooks, logger *slog.Logger) (*Negotiator, error) {
	n := &Negotiator{api: api, cfg: cfg, media: media, hooks: hooks, logger: logger}
	if err := n.connect(role); err != nil {
		return nil, err
	}
	return n, nil
}

// connect builds a peer connection for role and makes it current, closing the
// one it replaces.
func (n *Negotiator) connect(role session.Role) error {
	pc, err := n.api.NewPeerConnection(n.cfg)
	if err != nil {
		return peer.NewError("create peer connection", err)
	}

	var video *webrtc.RTPSender
	if n.media != nil {
		if _, err := pc.AddTrack(n.media.Audio()); err != nil {
			pc.Close()
			return peer.NewError("add audio track", err)
		}
		video, err = pc.AddTrack(n.media.Video())
		if err != nil {
			pc.Close()
			return peer.NewError("add video track", err)
		}
		go drainRTCP(video)
	}

	var dc *webrtc.DataChannel
	if role == session.Initiator {
		dc, err = pc.CreateDataChannel(ControlLabel, nil)
		if err != nil {
			pc.Close()
			return peer.NewError("create data channel", err)
		}
	}

	pc.OnDataChannel(func(ch *webrtc.DataChannel) {
		if ch.Label() == ControlLabel {
			n.attachControl(pc, ch)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || n.hooks.OnCandidate == nil || !n.current(pc) {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		n.hooks.OnCandidate(b)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if !n.current(pc) {
			return
		}
		n.logger.Debug("Connection state changed", "state", state.String())
		if n.hooks.OnLiveness != nil {
			n.hooks.OnLiveness(liveness(state))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		n.onTrack(pc, track, receiver)
	})

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		pc.Close()
		return peer.ErrTransportClosed
	}
	old := n.pc
	n.pc, n.video, n.control = pc, video, nil
	n.mu.Unlock()

	if dc != nil {
		n.attachControl(pc, dc)
	}
	if old != nil {
		if err := old.Close(); err != nil {
			n.logger.Debug("Failed to close replaced connection", "err", err)
		}
	}
	return nil
}

func (n *Negotiator) conn() *webrtc.PeerConnection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pc
}

func (n *Negotiator) current(pc *webrtc.PeerConnection) bool {
	return n.conn() == pc
}

func liveness(state webrtc.PeerConnectionState) session.Liveness {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return session.LivenessConnected
	case webrtc.PeerConnectionStateDisconnected:
		return session.LivenessDisconnected
	case webrtc.PeerConnectionStateFailed:
		return session.LivenessFailed
	case webrtc.PeerConnectionStateClosed:
		return session.LivenessClosed
	}
	return session.LivenessNew
}

func (n *Negotiator) CreateOffer() (string, error) {
	pc := n.conn()
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", peer.NewError("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", peer.NewError("set local description", err)
	}
	return pc.LocalDescription().SDP, nil
}

func (n *Negotiator) CreateAnswer() (string, error) {
	pc := n.conn()
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", peer.NewError("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", peer.NewError("set local description", err)
	}
	return pc.LocalDescription().SDP, nil
}

// SetRemoteDescription applies desc. With rollback set and a local offer
// outstanding, the offer is abandoned by answering on a new connection.
func (n *Negotiator) SetRemoteDescription(desc session.Description, rollback bool) error {
	var sdpType webrtc.SDPType
	switch desc.Type {
	case session.DescOffer:
		sdpType = webrtc.SDPTypeOffer
	case session.DescAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return peer.WrapError("set remote description", errUnknownDescription, string(desc.Type))
	}

	pc := n.conn()
	if rollback && pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		n.logger.Debug("Discarding local offer")
		if err := n.connect(session.Responder); err != nil {
			return peer.NewError("replace peer connection", err)
		}
		pc = n.conn()
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return peer.NewError("set remote description", err)
	}
	return nil
}

var errUnknownDescription = errors.New("unknown description type")

func (n *Negotiator) AddCandidate(candidate json.RawMessage) error {
	var ice webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &ice); err != nil {
		return peer.NewError("parse ICE candidate", err)
	}
	if err := n.conn().AddICECandidate(ice); err != nil {
		return peer.NewError("add ICE candidate", err)
	}
	return nil
}

func (n *Negotiator) ReplaceTrack(track webrtc.TrackLocal) error {
	n.mu.Lock()
	closed, sender := n.closed, n.video
	n.mu.Unlock()
	if closed || n.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return peer.ErrTransportClosed
	}
	if sender == nil {
		return peer.ErrNoMedia
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return peer.NewError("replace track", err)
	}
	return nil
}

func (n *Negotiator) SendMediaState(state peer.MediaState) error {
	n.mu.Lock()
	dc := n.control
	n.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return peer.ErrNoControl
	}
	b, err := EncodeControl(TypeMediaState, state)
	if err != nil {
		return peer.NewError("encode media state", err)
	}
	return dc.Send(b)
}

// CanOffer is true once there is a track or a data channel to negotiate.
func (n *Negotiator) CanOffer() bool {
	n.mu.Lock()
	pc, hasControl := n.pc, n.control != nil
	n.mu.Unlock()
	return hasControl || len(pc.GetTransceivers()) > 0
}

func (n *Negotiator) Close() error {
	n.mu.Lock()
	n.closed = true
	pc := n.pc
	n.mu.Unlock()
	return pc.Close()
}

// ConnectionState exposes the underlying connection state.
func (n *Negotiator) ConnectionState() webrtc.PeerConnectionState {
	return n.conn().ConnectionState()
}

func (n *Negotiator) attachControl(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return
	}
	n.control = dc
	n.mu.Unlock()

	dc.OnOpen(func() {
		if n.hooks.LocalMediaState == nil || !n.current(pc) {
			return
		}
		if err := n.SendMediaState(n.hooks.LocalMediaState()); err != nil {
			n.logger.Debug("Failed to announce media state", "err", err)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !n.current(pc) {
			return
		}
		m, err := DecodeControl(msg.Data)
		if err != nil {
			n.logger.Debug("Malformed control message", "err", err)
			return
		}
		switch m.Type {
		case TypeMediaState:
			var state peer.MediaState
			if err := m.DecodePayload(&state); err != nil {
				n.logger.Debug("Malformed media state", "err", err)
				return
			}
			if n.hooks.OnMediaState != nil {
				n.hooks.OnMediaState(state)
			}
		default:
			n.logger.Debug("Unknown control message", "type", m.Type)
		}
	})
}

func (n *Negotiator) onTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	info := peer.TrackInfo{ID: track.ID(), Kind: track.Kind().String()}

	var analyzer *LevelAnalyzer
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		analyzer = NewLevelAnalyzer(audioLevelID(receiver))
		info.Analyzer = analyzer
	}

	if n.hooks.OnTrack != nil && n.current(pc) {
		n.hooks.OnTrack(info)
	}

	// Inbound RTP must be read or the receive buffer stalls the connection.
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if analyzer != nil {
			analyzer.Observe(pkt)
		}
	}
}

func audioLevelID(receiver *webrtc.RTPReceiver) uint8 {
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
