package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Fire ALARM at Property", "fire alarm at property"},
		{"fire   alarm\t\tat\n\nproperty", "fire alarm at property"},
		{"  hello  ", "hello"},
		{"", ""},
		{"  [CRITICAL]   Fire alarm   (incident INC-42)  ", "[critical] fire alarm (incident inc-42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeText(tt.input), "input %q", tt.input)
	}
}

func TestMentionsIncident(t *testing.T) {
	msg := func(text, ts, threadTS string, atts ...goslack.Attachment) goslack.Message {
		return goslack.Message{Msg: goslack.Msg{Text: text, Timestamp: ts, ThreadTimestamp: threadTS, Attachments: atts}}
	}

	tests := []struct {
		name string
		msg  goslack.Message
		want bool
	}{
		{"fallback text", msg("[high] Boiler leak (incident inc-9)", "1.0", ""), true},
		{"case and spacing differ", msg("(Incident   INC-9)", "1.0", ""), true},
		{"longer id", msg("[high] Boiler leak (incident inc-90)", "1.0", ""), false},
		{"id at end of text", msg("escalated incident inc-9", "1.0", ""), true},
		{"unrelated", msg("deploy finished", "1.0", ""), false},
		{"attachment fallback", msg("", "1.0", "", goslack.Attachment{Fallback: "incident inc-9"}), true},
		{"thread root", msg("incident inc-9", "1.0", "1.0"), true},
		{"thread reply", msg("incident inc-9", "2.0", "1.0"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mentionsIncident(tt.msg, "inc-9"))
		})
	}
}
