package relay

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/BioHazard786/warpmeet/internal/protocol"
)

// Transport delivers messages to exactly one connected participant.
// Send must not block; the relay calls it while holding a room lock.
type Transport interface {
	Send(msg *protocol.Message) error
}

// Participant is a member of one room, reachable through its transport.
type Participant struct {
	ID        string
	Name      string
	Transport Transport

	seq uint64
}

// Room holds the participants of one meeting.
type Room struct {
	ID string

	mu           sync.Mutex
	participants map[string]*Participant
	closed       bool
}

type membership struct {
	room        *Room
	participant *Participant
}

// Registry maps meeting codes to rooms and transports to their membership.
//
// Lock order is always room.mu before Registry.mu. Registry.mu only guards the
// two maps and is never held while acquiring a room lock.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	members map[Transport]membership
	seq     uint64

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		members: make(map[Transport]membership),
		logger:  logger,
	}
}

// Join registers p in the room and returns the roster excluding p.
// Every other member is sent a user-joined notice.
func (r *Registry) Join(roomID string, p *Participant) ([]protocol.Participant, error) {
	return r.join(roomID, p, nil)
}

// join admits p and calls respond with the roster while the room is still locked,
// so the joiner's response is queued ahead of any later notice for that room.
func (r *Registry) join(roomID string, p *Participant, respond func([]protocol.Participant)) ([]protocol.Participant, error) {
	roomID = protocol.NormalizeMeetingCode(roomID)
	if roomID == "" || p == nil || p.ID == "" || p.Transport == nil {
		return nil, ErrInvalidJoin
	}

	// A transport lives in at most one room.
	if prev, ok := r.membershipOf(p.Transport); ok {
		if prev.room.ID != roomID || prev.participant.ID != p.ID {
			r.leaveMember(prev)
		}
	}

	for {
		room := r.getOrCreateRoom(roomID)

		room.mu.Lock()
		if room.closed {
			// Deleted between lookup and lock; take the fresh one.
			room.mu.Unlock()
			continue
		}

		if existing, ok := room.participants[p.ID]; ok {
			if existing.Transport == p.Transport {
				roster := room.rosterLocked(p.ID)
				if respond != nil {
					respond(roster)
				}
				room.mu.Unlock()
				return roster, nil
			}
			r.logger.Info("Evicting stale participant", "room", roomID, "peer", p.ID)
			r.evictLocked(room, existing)
		}

		roster := room.rosterLocked(p.ID)

		r.mu.Lock()
		r.seq++
		p.seq = r.seq
		r.members[p.Transport] = membership{room: room, participant: p}
		r.mu.Unlock()
		room.participants[p.ID] = p

		if respond != nil {
			respond(roster)
		}

		notice := &protocol.Message{
			Type:     protocol.TypeUserJoined,
			UserID:   p.ID,
			Username: p.Name,
		}
		room.broadcastLocked(notice, p.ID, r.logger)

		r.logger.Info("Participant joined", "room", roomID, "peer", p.ID, "participants", len(room.participants))
		room.mu.Unlock()
		return roster, nil
	}
}

// Leave removes the participant from the room and notifies the remaining members.
func (r *Registry) Leave(roomID, participantID string) error {
	roomID = protocol.NormalizeMeetingCode(roomID)

	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotInRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.participants[participantID]
	if !ok {
		return ErrNotInRoom
	}
	r.removeLocked(room, p)
	return nil
}

// Disconnect performs the equivalent of Leave for whichever participant owns t.
// It reports whether t was a member of any room.
func (r *Registry) Disconnect(t Transport) bool {
	m, ok := r.membershipOf(t)
	if !ok {
		return false
	}
	return r.leaveMember(m)
}

// Roster returns the members of a room ordered by join time.
func (r *Registry) Roster(roomID string) []protocol.Participant {
	roomID = protocol.NormalizeMeetingCode(roomID)

	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.rosterLocked("")
}

// Size returns the number of participants across all rooms.
func (r *Registry) Size() int {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	n := 0
	for _, room := range rooms {
		room.mu.Lock()
		n += len(room.participants)
		room.mu.Unlock()
	}
	return n
}

// Rooms returns the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) membershipOf(t Transport) (membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[t]
	return m, ok
}

func (r *Registry) getOrCreateRoom(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{
			ID:           roomID,
			participants: make(map[string]*Participant),
		}
		r.rooms[roomID] = room
		r.logger.Info("Room created", "room", roomID)
	}
	return room
}

// leaveMember removes m if it is still the current record for its id.
func (r *Registry) leaveMember(m membership) bool {
	m.room.mu.Lock()
	defer m.room.mu.Unlock()

	if current, ok := m.room.participants[m.participant.ID]; !ok || current != m.participant {
		return false
	}
	r.removeLocked(m.room, m.participant)
	return true
}

// removeLocked deletes p from room, notifies the rest, and drops the room when empty.
// room.mu must be held.
func (r *Registry) removeLocked(room *Room, p *Participant) {
	delete(room.participants, p.ID)

	r.mu.Lock()
	if m, ok := r.members[p.Transport]; ok && m.participant == p {
		delete(r.members, p.Transport)
	}
	if len(room.participants) == 0 {
		room.closed = true
		if r.rooms[room.ID] == room {
			delete(r.rooms, room.ID)
		}
	}
	r.mu.Unlock()

	if room.closed {
		r.logger.Info("Room deleted", "room", room.ID)
		return
	}

	notice := &protocol.Message{
		Type:     protocol.TypeUserLeft,
		UserID:   p.ID,
		Username: p.Name,
	}
	room.broadcastLocked(notice, p.ID, r.logger)
	r.logger.Info("Participant left", "room", room.ID, "peer", p.ID, "participants", len(room.participants))
}

// evictLocked removes a participant that is being replaced by a new record with
// the same id. The room is kept alive even if it momentarily becomes empty.
func (r *Registry) evictLocked(room *Room, p *Participant) {
	delete(room.participants, p.ID)

	r.mu.Lock()
	if m, ok := r.members[p.Transport]; ok && m.participant == p {
		delete(r.members, p.Transport)
	}
	r.mu.Unlock()

	room.broadcastLocked(&protocol.Message{
		Type:     protocol.TypeUserLeft,
		UserID:   p.ID,
		Username: p.Name,
	}, p.ID, r.logger)
}

func (room *Room) rosterLocked(exclude string) []protocol.Participant {
	members := make([]*Participant, 0, len(room.participants))
	for id, p := range room.participants {
		if id != exclude {
			members = append(members, p)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	roster := make([]protocol.Participant, len(members))
	for i, p := range members {
		roster[i] = protocol.Participant{UserID: p.ID, Username: p.Name}
	}
	return roster
}

func (room *Room) broadcastLocked(msg *protocol.Message, exclude string, logger *slog.Logger) {
	for id, p := range room.participants {
		if id == exclude {
			continue
		}
		if err := p.Transport.Send(msg); err != nil {
			logger.Warn("Notice dropped", "room", room.ID, "peer", id, "type", msg.Type, "err", err)
		}
	}
}
