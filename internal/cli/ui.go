package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dkeye/meshcall/internal/negotiation"
)

var (
	accent = lipgloss.Color("#22d3ee")
	muted  = lipgloss.Color("#6B7280")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
)

// printer writes styled lines. Every method is safe to call from the loop.
type printer struct {
	w io.Writer
}

func (p printer) info(format string, args ...any) {
	fmt.Fprintln(p.w, mutedStyle.Render(fmt.Sprintf(format, args...)))
}

func (p printer) ok(format string, args ...any) {
	fmt.Fprintln(p.w, successStyle.Render(fmt.Sprintf(format, args...)))
}

func (p printer) err(err error) {
	fmt.Fprintln(p.w, errorStyle.Render(err.Error()))
}

func (p printer) chat(from, text string) {
	fmt.Fprintf(p.w, "%s %s\n", nameStyle.Render(from+":"), text)
}

// roster renders one line per participant.
func (p printer) roster(parts []negotiation.Participant) {
	fmt.Fprintln(p.w, titleStyle.Render(fmt.Sprintf("participants (%d)", len(parts))))
	for _, part := range parts {
		var tags []string
		if part.Self {
			tags = append(tags, "you")
		}
		if part.HandRaised {
			tags = append(tags, "hand")
		}
		if part.Speaking {
			tags = append(tags, "speaking")
		}
		if part.ConnectionState != "" {
			tags = append(tags, part.ConnectionState)
		}
		line := "  " + part.DisplayName
		if string(part.PeerID) != part.DisplayName {
			line += mutedStyle.Render(" (" + string(part.PeerID) + ")")
		}
		if len(tags) > 0 {
			line += " " + mutedStyle.Render("["+strings.Join(tags, ", ")+"]")
		}
		fmt.Fprintln(p.w, line)
	}
}
