package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/subscriber"
)

const maxBlockTextLength = 2900

var severityEmoji = map[string]string{
	events.SeverityCritical: ":rotating_light:",
	events.SeverityHigh:     ":warning:",
}

func incidentURL(incidentID, dashboardURL string) string {
	return fmt.Sprintf("%s/incidents/%s", dashboardURL, incidentID)
}

// fallbackText is the plain-text notification body; it always contains the
// fingerprint.
func fallbackText(a subscriber.Alert) string {
	return fmt.Sprintf("[%s] %s (%s)", a.Severity, a.Title, fingerprint(a.IncidentID))
}

// BuildIncidentMessage creates Block Kit blocks for an incident alert.
func BuildIncidentMessage(a subscriber.Alert, dashboardURL string) []goslack.Block {
	emoji := severityEmoji[a.Severity]
	if emoji == "" {
		emoji = ":bell:"
	}

	headerText := fmt.Sprintf("%s *%s incident*: %s", emoji, a.Severity, truncateForSlack(a.Title))
	if a.Escalated {
		headerText = fmt.Sprintf("%s *Escalated: unacknowledged %s incident*\n%s", emoji, a.Severity, truncateForSlack(a.Title))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}
	if a.PropertyID != "" {
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, "Property `"+a.PropertyID+"`", false, false),
		))
	}

	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Incident", false, false))
		btn.URL = incidentURL(a.IncidentID, dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "… _(truncated)_"
}
