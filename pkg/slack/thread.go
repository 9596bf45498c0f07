package slack

import (
	"strings"

	goslack "github.com/slack-go/slack"
)

// fingerprint is the marker every message about an incident carries in its
// fallback text.
func fingerprint(incidentID string) string {
	return "incident " + incidentID
}

// normalizeText lowercases and collapses whitespace so reformatting by
// Slack does not break matching.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// mentionsIncident reports whether msg's text or any attachment carries the
// incident's fingerprint. Replies in a thread are not roots and are skipped.
func mentionsIncident(msg goslack.Message, incidentID string) bool {
	if msg.ThreadTimestamp != "" && msg.ThreadTimestamp != msg.Timestamp {
		return false
	}
	want := normalizeText(fingerprint(incidentID))
	texts := []string{msg.Text}
	for _, att := range msg.Attachments {
		texts = append(texts, att.Text, att.Fallback)
	}
	for _, t := range texts {
		if t != "" && containsWord(normalizeText(t), want) {
			return true
		}
	}
	return false
}

// containsWord is strings.Contains that refuses a match running into a
// longer ID ("incident inc-9" inside "incident inc-90").
func containsWord(s, sub string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			return false
		}
		end := i + j + len(sub)
		if end == len(s) || !isIDChar(s[end]) {
			return true
		}
		i += j + 1
	}
}

func isIDChar(b byte) bool {
	return b == '-' || b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z')
}
