package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/warpmeet/internal/peer"
)

// RosterRow is one participant line in the meeting table.
type RosterRow struct {
	Name     string
	State    string
	Media    peer.MediaState
	Level    string
	Speaking bool
}

// RosterView renders the participant table.
func RosterView(rows []RosterRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Waiting for others to join...")
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		name := truncate(r.Name, 24)
		if r.Speaking {
			name = IconSpeaker + " " + name
		}
		data = append(data, []string{name, r.State, mediaIcons(r.Media), r.Level})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "State", "Media", "Level").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case col == 0 && rows[row].Speaking:
				return tableCellStyle.Inherit(SpeakingStyle)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func mediaIcons(m peer.MediaState) string {
	var parts []string
	if m.Muted {
		parts = append(parts, IconMuted)
	} else {
		parts = append(parts, IconMic)
	}
	if m.VideoOff {
		parts = append(parts, IconCamOff)
	}
	if m.Sharing {
		parts = append(parts, IconScreen)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
