package telegram

import (
	"html"
	"strings"

	"verdictbot/internal/compose"
)

// renderHTML flattens the structured payload into Telegram HTML parse mode.
// All user- and config-supplied text is escaped; tags are emitted only by
// this function.
func renderHTML(p compose.Payload) string {
	var b strings.Builder

	if p.AuthorName != "" {
		b.WriteString("<b>" + esc(p.AuthorName) + "</b>\n")
	}
	b.WriteString(statusDot(p.Color) + " <b>" + esc(p.Title) + "</b>\n\n")
	b.WriteString(esc(p.Body) + "\n")

	for _, f := range p.Fields {
		b.WriteString("\n<b>" + esc(f.Label) + ":</b> " + esc(f.Value))
	}

	if p.FooterText != "" {
		b.WriteString("\n\n<i>" + esc(p.FooterText) + "</i>")
	}
	return b.String()
}

// statusDot maps the payload color to Telegram's closest visual analog.
func statusDot(c compose.Color) string {
	if c == compose.ColorGreen {
		return "\U0001F7E2" // green circle
	}
	return "\U0001F534" // red circle
}

func esc(s string) string { return html.EscapeString(s) }
