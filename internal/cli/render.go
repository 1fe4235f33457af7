package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/ticketd/internal/ticket"
)

// RenderMarkdown renders markdown content using glamour. Plain output falls
// back to the raw text.
func RenderMarkdown(content string, width int) string {
	if !ColorsEnabled() || strings.TrimSpace(content) == "" {
		return content
	}
	if width < 40 {
		width = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}

// TicketHeader renders the one-line summary used in listings.
func TicketHeader(t *ticket.Ticket) string {
	return fmt.Sprintf("%s %s %s",
		Accent(fmt.Sprintf("#%-5d", t.Number)),
		StatusText(t.Status),
		Bolden(t.Title))
}

// TicketCard renders a ticket snapshot in a bordered card.
func TicketCard(t *ticket.Ticket, width int) string {
	var b strings.Builder
	b.WriteString(TicketHeader(t))
	b.WriteString("\n\n")

	attrs := [][2]string{
		{"type", string(t.Type)},
		{"merge to", t.MergeTo},
		{"created by", t.CreatedBy},
		{"assigned", t.AssignedTo},
		{"milestone", t.Milestone},
		{"topic", t.Topic},
		{"watchers", strings.Join(t.Watchers, ", ")},
	}
	for _, a := range attrs {
		if a[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", Muted(fmt.Sprintf("%-11s", a[0])), a[1])
	}

	if len(t.Patchsets) > 0 {
		b.WriteString("\n")
		b.WriteString(Muted("patchsets"))
		b.WriteString("\n")
		b.WriteString(PatchsetTree(t.Patchsets))
	}

	if body := strings.TrimSpace(t.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(RenderMarkdown(body, width-4), "\n"))
	}

	content := strings.TrimRight(b.String(), "\n")
	if !ColorsEnabled() {
		return content + "\n"
	}
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(StatusColor(t.Status)).
		Padding(0, 1)
	if width > 4 {
		style = style.Width(width - 2)
	}
	return style.Render(content) + "\n"
}

// PatchsetTree renders patchsets newest last as a tree.
func PatchsetTree(patchsets []*ticket.Patchset) string {
	var b strings.Builder
	for i, ps := range patchsets {
		branch := TreeBranch
		if i == len(patchsets)-1 {
			branch = TreeLastBranch
		}
		fmt.Fprintf(&b, "%s %s %s %s %s\n",
			Muted(branch),
			patchsetShape(ps.Type),
			Bolden(fmt.Sprintf("rev %d", ps.Rev)),
			shortID(ps.Tip),
			Muted(fmt.Sprintf("%s, %d commits (+%d)  %s", ps.Type, ps.TotalCommits, ps.AddedCommits, ps.Ref)))
	}
	return b.String()
}

func patchsetShape(t ticket.PatchsetType) string {
	switch t {
	case ticket.PatchsetProposal:
		return ShapeProposal
	case ticket.PatchsetFastForward:
		return ShapeFastForward
	default:
		return ShapeRewrite
	}
}

// ChangeLine renders one journal entry.
func ChangeLine(c *ticket.Change) string {
	var parts []string
	fields := make([]string, 0, len(c.Fields))
	for f := range c.Fields {
		fields = append(fields, string(f))
	}
	slices.Sort(fields)
	for _, f := range fields {
		v := c.Fields[ticket.Field(f)]
		if ticket.Field(f) == ticket.FieldBody {
			v = fmt.Sprintf("(%d bytes)", len(v))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", f, v))
	}
	if c.Patchset != nil {
		parts = append(parts, fmt.Sprintf("patchset=%d/%s", c.Patchset.Rev, c.Patchset.Type))
	}
	if len(c.Watch) > 0 {
		parts = append(parts, "watch+="+strings.Join(c.Watch, ","))
	}
	return fmt.Sprintf("%s %s %s",
		Muted(c.CreatedAt.Local().Format("2006-01-02 15:04")),
		Accent(c.CreatedBy),
		strings.Join(parts, " "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
