package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/speaker"
)

const (
	refreshInterval = 100 * time.Millisecond
	eventBuffer     = 1024
)

// Actions are the local controls the meeting view drives.
type Actions struct {
	SetMuted    func(muted bool)
	SetVideoOff func(off bool)
	ShareScreen func(on bool) error
	Leave       func()
}

// Status reports the signaling connection; it is polled on every refresh.
type Status func() bool

// MeetingUI runs the live meeting view.
type MeetingUI struct {
	program *tea.Program
	model   *meetingModel
	events  chan peer.Event
	wg      sync.WaitGroup
}

type peerEventMsg peer.Event

type refreshMsg time.Time

type participant struct {
	remote   string
	name     string
	state    string
	media    peer.MediaState
	analyzer speaker.Analyzer
}

type meetingModel struct {
	code      string
	name      string
	actions   Actions
	connected Status

	participants map[string]*participant
	speaker      string
	local        peer.MediaState
	online       bool
	notice       string

	events chan peer.Event

	spinner  spinner.Model
	meter    progress.Model
	levelBuf []byte
	quitting bool
}

// NewMeetingUI creates the view for meeting code, joined as name.
func NewMeetingUI(code, name string, actions Actions, connected Status) *MeetingUI {
	model := newMeetingModel(code, name, actions, connected)
	return &MeetingUI{model: model, program: tea.NewProgram(model), events: model.events}
}

func newMeetingModel(code, name string, actions Actions, connected Status) *meetingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &meetingModel{
		code:         code,
		name:         name,
		actions:      actions,
		connected:    connected,
		participants: make(map[string]*participant),
		events:       make(chan peer.Event, eventBuffer),
		spinner:      s,
		meter: progress.New(
			progress.WithGradient(LevelStart, LevelEnd),
			progress.WithWidth(12),
			progress.WithoutPercentage(),
		),
		levelBuf: make([]byte, speaker.Bins),
	}
}

// Run blocks until the user quits or Stop is called.
func (ui *MeetingUI) Run() error {
	ui.wg.Add(1)
	defer ui.wg.Done()
	_, err := ui.program.Run()
	return err
}

// Send forwards a session manager event to the view. It never blocks; events
// beyond the buffer are dropped.
func (ui *MeetingUI) Send(ev peer.Event) {
	select {
	case ui.events <- ev:
	default:
	}
}

// Stop ends Run.
func (ui *MeetingUI) Stop() {
	ui.program.Quit()
	ui.wg.Wait()
}

func (m *meetingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh(), m.listenForEvents())
}

func (m *meetingModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return peerEventMsg(<-m.events)
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *meetingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case peerEventMsg:
		m.apply(peer.Event(msg))
		return m, m.listenForEvents()

	case refreshMsg:
		if m.connected != nil {
			m.online = m.connected()
		}
		if m.quitting {
			return m, nil
		}
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.meter.Width = max(6, min(12, msg.Width-70))
	}
	return m, nil
}

func (m *meetingModel) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		if m.actions.Leave != nil {
			m.actions.Leave()
		}
		return m, tea.Quit

	case "m":
		m.local.Muted = !m.local.Muted
		if m.actions.SetMuted != nil {
			m.actions.SetMuted(m.local.Muted)
		}

	case "v":
		m.local.VideoOff = !m.local.VideoOff
		if m.actions.SetVideoOff != nil {
			m.actions.SetVideoOff(m.local.VideoOff)
		}

	case "s":
		want := !m.local.Sharing
		if m.actions.ShareScreen != nil {
			if err := m.actions.ShareScreen(want); err != nil {
				m.notice = fmt.Sprintf("Screen share failed: %v", err)
				return m, nil
			}
		}
		m.local.Sharing = want
		m.notice = ""
	}
	return m, nil
}

func (m *meetingModel) apply(ev peer.Event) {
	p := m.participants[ev.Remote]

	switch ev.Kind {
	case peer.EventAdded:
		if p == nil {
			p = &participant{remote: ev.Remote}
			m.participants[ev.Remote] = p
		}
		p.name = ev.Name
		p.state = ev.State.String()

	case peer.EventStateChanged:
		if p != nil {
			p.state = ev.State.String()
		}

	case peer.EventRemoteTrack:
		if p != nil && ev.Track.Analyzer != nil {
			p.analyzer = ev.Track.Analyzer
		}

	case peer.EventMediaState:
		if p != nil {
			p.media = ev.Media
		}

	case peer.EventActiveSpeaker:
		m.speaker = ev.Remote

	case peer.EventRemoved:
		delete(m.participants, ev.Remote)
		if m.speaker == ev.Remote {
			m.speaker = ""
		}
	}
}

func (m *meetingModel) rows() []RosterRow {
	ps := make([]*participant, 0, len(m.participants))
	for _, p := range m.participants {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].name != ps[j].name {
			return ps[i].name < ps[j].name
		}
		return ps[i].remote < ps[j].remote
	})

	rows := make([]RosterRow, 0, len(ps))
	for _, p := range ps {
		name := p.name
		if name == "" {
			name = p.remote
		}
		rows = append(rows, RosterRow{
			Name:     name,
			State:    p.state,
			Media:    p.media,
			Level:    m.level(p),
			Speaking: p.remote == m.speaker,
		})
	}
	return rows
}

func (m *meetingModel) level(p *participant) string {
	if p.analyzer == nil {
		return MutedStyle.Render("-")
	}
	p.analyzer.ByteFrequencyData(m.levelBuf)
	var sum int
	for _, b := range m.levelBuf {
		sum += int(b)
	}
	return m.meter.ViewAs(float64(sum) / float64(len(m.levelBuf)) / 255)
}

func (m *meetingModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Meeting %s", IconMeeting, m.code)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s %s\n\n", IconPeer, BoldStyle.Render(m.name), mediaIcons(m.local)))

	b.WriteString(RosterView(m.rows()))
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(m.notice) + "\n")
	}

	var status string
	if m.online {
		status = SuccessStyle.Render(IconConnect + " connected")
	} else {
		status = fmt.Sprintf("%s %s", m.spinner.View(), WarningStyle.Render("signaling offline"))
	}
	remotes := len(m.participants)
	noun := "participants"
	if remotes == 1 {
		noun = "participant"
	}
	b.WriteString(FooterStyle.Render(fmt.Sprintf("%s  %d other %s  %s", status, remotes, noun,
		MutedStyle.Render("m mute · v video · s share · q leave"))))

	return b.String()
}
