package telemetry

import (
	"regexp"
	"strings"

	"github.com/agentrails/agentrailsd/internal/types"
)

// derived bundles a normalized key event with the information the
// server handler needs to decide whether to forward it (verbose gate)
// and whether it also carries an extractable prompt.
type derived struct {
	event  types.KeyEvent
	prompt string
	drop   bool
}

func eventNameAttr(attrs []keyValue) string {
	if n := attrString(attrs, "event.name"); n != "" {
		return n
	}
	return attrString(attrs, "event_name")
}

func providerThreadIDAttr(attrs []keyValue) string {
	if id := attrString(attrs, "provider_thread_id"); id != "" {
		return id
	}
	return attrString(attrs, "thread_id")
}

func fromLogRecords(records []logRecord, verbose bool) []derived {
	out := make([]derived, 0, len(records))
	for _, rec := range records {
		name := eventNameAttr(rec.Attributes)
		if name == "" {
			continue
		}
		summary := rec.Body.asString()
		if summary == "" {
			summary = attrString(rec.Attributes, "summary")
		}

		ev := types.KeyEvent{
			Source:           "otlp",
			ObservedAt:       rec.observedAtMillis(),
			EventName:        name,
			Severity:         rec.SeverityText,
			Summary:          summary,
			ProviderThreadID: providerThreadIDAttr(rec.Attributes),
			StatusHint:       StatusHint(name, summary),
		}
		if isApprovalNotification(name, rec.Attributes) {
			ev.StatusHint = types.StatusNeedsInput
		}

		d := derived{event: ev}
		if verboseOnlyEvents[name] {
			d.drop = !verbose
		}
		if name == "codex.user_prompt" || name == "claude.userpromptsubmit" || name == "cursor.beforesubmitprompt" {
			if p := ExtractPrompt(summary); p != "" {
				d.prompt = p
			}
		}
		out = append(out, d)
	}
	return out
}

func fromMetrics(metrics []metric) []derived {
	var out []derived
	for _, m := range metrics {
		for _, dp := range m.dataPoints() {
			out = append(out, derived{event: types.KeyEvent{
				Source:     "otlp",
				ObservedAt: dp.observedAtMillis(),
				EventName:  m.Name,
				StatusHint: StatusHint(m.Name, ""),
			}})
		}
	}
	return out
}

func fromSpans(spans []span) []derived {
	out := make([]derived, 0, len(spans))
	for _, s := range spans {
		summary := attrString(s.Attributes, "summary")
		out = append(out, derived{event: types.KeyEvent{
			Source:     "otlp",
			ObservedAt: s.observedAtMillis(),
			EventName:  s.Name,
			Summary:    summary,
			StatusHint: StatusHint(s.Name, summary),
		}})
	}
	return out
}

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	imageTagRe      = regexp.MustCompile(`(?is)<image[^>]*>.*?</image>`)
)

// ExtractPrompt strips image attachments and markdown image syntax from
// raw prompt text (spec.md section 4.F). Returns "" for text that is
// empty once stripped.
func ExtractPrompt(raw string) string {
	s := imageTagRe.ReplaceAllString(raw, "")
	s = markdownImageRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
