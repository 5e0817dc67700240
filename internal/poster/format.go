package poster

import (
	"fmt"
	"html"
	"strings"

	"github.com/azure/arxiv-poster-bot/internal/commentary"
	"github.com/azure/arxiv-poster-bot/internal/models"
)

// FormatMessage renders an item as a channel post. An empty comment is left out.
func FormatMessage(item models.Item, comment string) models.Message {
	authors := commentary.AuthorLine(item.Authors, "total")
	categories := strings.Join(commentary.MainCategories(item.Categories), ", ")
	date := item.PublishedAt.UTC().Format("2006-01-02")
	attention := attentionLine(item)

	var text, rich strings.Builder

	if comment != "" {
		fmt.Fprintf(&text, "🤖 %s\n\n", comment)
		fmt.Fprintf(&rich, "<p>🤖 <strong>%s</strong></p>", html.EscapeString(comment))
	}

	fmt.Fprintf(&text, "%s\n\n", item.Title)
	fmt.Fprintf(&rich, "<p><strong>%s</strong></p>", html.EscapeString(item.Title))

	fmt.Fprintf(&text, "👥 %s\n", authors)
	meta := "📅 " + date
	if categories != "" {
		meta += " | 🏷️ " + categories
	}
	fmt.Fprintf(&text, "%s\n", meta)
	fmt.Fprintf(&rich, "<p>👥 %s<br>%s", html.EscapeString(authors), html.EscapeString(meta))
	if attention != "" {
		fmt.Fprintf(&text, "%s\n", attention)
		fmt.Fprintf(&rich, "<br>%s", html.EscapeString(attention))
	}
	rich.WriteString("</p>")

	fmt.Fprintf(&text, "\n🔗 arXiv: %s", item.URL)
	fmt.Fprintf(&rich, `<p>🔗 <a href="%s">arXiv</a>`, html.EscapeString(item.URL))
	if item.PDFURL != "" {
		fmt.Fprintf(&text, " | PDF: %s", item.PDFURL)
		fmt.Fprintf(&rich, ` | <a href="%s">PDF</a>`, html.EscapeString(item.PDFURL))
	}
	rich.WriteString("</p>")

	return models.Message{Text: text.String(), HTML: rich.String()}
}

func attentionLine(item models.Item) string {
	if item.PopularityValue() <= 0 {
		return ""
	}
	line := fmt.Sprintf("📊 Altmetric: %.1f", item.PopularityValue())
	if a := item.Attention; a != nil {
		var mentions []string
		if a.Tweeters > 0 {
			mentions = append(mentions, fmt.Sprintf("%d tweets", a.Tweeters))
		}
		if a.Posts > 0 {
			mentions = append(mentions, fmt.Sprintf("%d posts", a.Posts))
		}
		if a.Reddit > 0 {
			mentions = append(mentions, fmt.Sprintf("%d Reddit", a.Reddit))
		}
		if len(mentions) > 0 {
			line += " (" + strings.Join(mentions, ", ") + ")"
		}
	}
	return line
}
