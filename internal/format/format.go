// Package format renders inquiry notifications for each delivery channel.
package format

import (
	"fmt"
	"html"
	"strings"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
)

const (
	// TelegramMaxLength is the sendMessage text limit, in characters.
	TelegramMaxLength = 4096
	// telegramCutLength leaves room for the ellipsis marker.
	telegramCutLength = 4090
	ellipsis          = "…"
)

// EmailSubject returns the subject line for the administrative email.
func EmailSubject(inquiry domain.Inquiry) string {
	return fmt.Sprintf("New request from %s", inquiry.Name)
}

// EmailBody returns the plain-text email body. Fields are written verbatim.
func EmailBody(inquiry domain.Inquiry) string {
	var b strings.Builder
	b.WriteString("A new project request has been submitted.\n\n")
	fmt.Fprintf(&b, "Name: %s\n", inquiry.Name)
	fmt.Fprintf(&b, "Company: %s\n", inquiry.Company)
	fmt.Fprintf(&b, "Phone: %s\n", inquiry.PhoneNumber)
	fmt.Fprintf(&b, "Email: %s\n", inquiry.Email)
	fmt.Fprintf(&b, "\nProject details:\n%s\n", inquiry.ProjectDetails)
	return b.String()
}

// TelegramBody returns the HTML message for the chat channel, every
// interpolated field escaped and the result bounded by TelegramMaxLength.
func TelegramBody(inquiry domain.Inquiry) string {
	var b strings.Builder
	b.WriteString("<b>New project request</b>\n\n")
	fmt.Fprintf(&b, "<b>Name:</b> %s\n", html.EscapeString(inquiry.Name))
	fmt.Fprintf(&b, "<b>Company:</b> %s\n", html.EscapeString(inquiry.Company))
	fmt.Fprintf(&b, "<b>Phone:</b> %s\n", html.EscapeString(inquiry.PhoneNumber))
	fmt.Fprintf(&b, "<b>Email:</b> %s\n", html.EscapeString(inquiry.Email))
	fmt.Fprintf(&b, "\n<b>Project details:</b>\n%s", html.EscapeString(inquiry.ProjectDetails))
	return Truncate(b.String())
}

// Truncate cuts text longer than TelegramMaxLength characters down to
// 4090 characters followed by an ellipsis. A cut that would split an escaped
// entity or a tag backs up to its start, and a <b> left open by the cut is
// closed, so the result always parses as HTML.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= TelegramMaxLength {
		return text
	}

	cut := trimPartialMarkup(string(runes[:telegramCutLength]))
	if strings.Count(cut, "<b>") > strings.Count(cut, "</b>") {
		cut += "</b>"
	}
	return cut + ellipsis
}

// longestEntity is the longest reference html.EscapeString emits ("&#39;").
const longestEntity = len("&#39;")

func trimPartialMarkup(cut string) string {
	if i := strings.LastIndexByte(cut, '&'); i >= 0 && len(cut)-i < longestEntity && !strings.Contains(cut[i:], ";") {
		cut = cut[:i]
	}
	if i := strings.LastIndexByte(cut, '<'); i >= 0 && !strings.Contains(cut[i:], ">") {
		cut = cut[:i]
	}
	return cut
}
