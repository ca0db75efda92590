package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/quickreach/backend/internal/syncer"
)

// renderer formats list emissions for the terminal.
type renderer struct {
	title lipgloss.Style
	muted lipgloss.Style
	item  lipgloss.Style
	cell  lipgloss.Style
	badge lipgloss.Style
}

func newRenderer() renderer {
	return renderer{
		title: lipgloss.NewStyle().Bold(true).MarginBottom(1),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		item:  lipgloss.NewStyle().Bold(true).Width(24),
		cell:  lipgloss.NewStyle().Width(14),
		badge: lipgloss.NewStyle().Bold(true).Width(10),
	}
}

func (r renderer) loading() string {
	return r.muted.Render("loading...")
}

func (r renderer) list(email string, views []syncer.RequestView) string {
	header := r.title.Render(fmt.Sprintf("Delivery requests for %s (%d)", email, len(views)))
	if len(views) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, r.muted.Render("No delivery requests yet.")) + "\n"
	}

	rows := make([]string, 0, len(views)+1)
	rows = append(rows, header)
	for _, v := range views {
		rows = append(rows, r.row(v))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...) + "\n"
}

func (r renderer) row(v syncer.RequestView) string {
	status := r.cell.Foreground(lipgloss.Color(v.StatusColor)).Render(string(v.Status))
	urgency := r.badge.Foreground(lipgloss.Color(v.UrgencyColor)).Render(string(v.Urgency))
	priority := r.cell.Render(fmt.Sprintf("P%d", v.Priority))
	route := r.muted.Render(strings.TrimSpace(fmt.Sprintf("%s -> %s", v.PickupLocation, v.DropoffLocation)))

	return lipgloss.JoinHorizontal(lipgloss.Top,
		r.item.Render(v.ItemName),
		status,
		priority,
		urgency,
		route,
	)
}
