// Package quote renders a one-shot reconciled price for the terminal.
package quote

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/services/pricer"
	"github.com/vadiminshakov/papertrade/internal/services/pricesync"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F87"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(0, 2).
			Bold(true).
			MarginBottom(1)

	priceStyle = lipgloss.NewStyle().Foreground(special).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(warning)
	mutedStyle = lipgloss.NewStyle().Foreground(subtle)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

// Render formats the evidence behind one quote: the chosen price followed by every
// feed's answer. token may be nil.
func Render(id domain.AssetIdentity, token *pricer.TokenInfo, got pricesync.Gathered) string {
	var b strings.Builder

	title := id.String()
	if token != nil && token.Name != "" {
		title = fmt.Sprintf("%s (%s)", token.Name, id.String())
	}
	b.WriteString(headerStyle.Render(strings.ToUpper(title)))
	b.WriteString("\n")

	if !got.OK {
		b.WriteString(warnStyle.Render("no feed returned a usable price"))
		b.WriteString("\n")
	} else {
		obs := got.Result.Observation
		b.WriteString(priceStyle.Render("$" + obs.Price.String()))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  via %s at %s", obs.Provider, obs.ObservedAt.Format("15:04:05"))))
		b.WriteString("\n")
		if !got.Result.Consistent {
			b.WriteString(warnStyle.Render("feeds disagree, low confidence"))
			b.WriteString("\n")
		}
	}

	rows := make([]string, 0, len(got.Outcomes))
	for _, o := range got.Outcomes {
		switch {
		case o.Err != nil:
			rows = append(rows, fmt.Sprintf("%-12s %s", o.Adapter, warnStyle.Render("error: "+o.Err.Error())))
		default:
			rows = append(rows, fmt.Sprintf("%-12s %-20s %s", o.Adapter, o.Observation.Price.String(), mutedStyle.Render(o.Latency.String())))
		}
	}
	if len(rows) == 0 {
		rows = append(rows, mutedStyle.Render("no feed supports this asset"))
	}
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	return b.String()
}
