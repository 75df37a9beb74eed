package main

// Slash commands at the start of a prompt route to canned outcomes so
// specific plane paths can be exercised without a real model:
//
//	/error            HTTP 500 from the completion endpoint
//	/denied           HTTP 403 (credential-rejection path)
//	/slow [duration]  delay before the default reply (default 2s)
//	/files [note]     reply carrying two FILE blocks
//	/inline [code]    reply carrying a single fenced code block
//
// Anything else gets a deterministic prose reply echoing the prompt.

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// canned is the routed outcome for one completion request.
type canned struct {
	status int
	errMsg string
	delay  time.Duration
	text   string
}

// route selects the canned outcome for a prompt.
func route(model, prompt string) canned {
	trimmed := strings.TrimSpace(prompt)
	cmd, rest, _ := strings.Cut(trimmed, " ")

	switch cmd {
	case "/error":
		return canned{status: http.StatusInternalServerError, errMsg: "mock backend failure requested"}
	case "/denied":
		return canned{status: http.StatusForbidden, errMsg: "mock credential rejection requested"}
	case "/slow":
		delay := 2 * time.Second
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil {
			delay = d
		}
		return canned{status: http.StatusOK, delay: delay, text: proseReply(model, rest)}
	case "/files":
		return canned{status: http.StatusOK, text: filesReply(model, rest)}
	case "/inline":
		return canned{status: http.StatusOK, text: inlineReply(rest)}
	default:
		return canned{status: http.StatusOK, text: proseReply(model, trimmed)}
	}
}

func proseReply(model, prompt string) string {
	summary := strings.TrimSpace(prompt)
	if utf8.RuneCountInString(summary) > 80 {
		summary = string([]rune(summary)[:80]) + "..."
	}
	if summary == "" {
		summary = "(empty prompt)"
	}
	return fmt.Sprintf(
		"Mock reply from %s.\n\nYou asked: %s\n\nNo real model ran; this runtime exists for local development.",
		model, summary)
}

// filesReply produces a reply in the FILE-block form the update
// service applies to workspaces, so a workflow's ai_update step makes
// visible changes against this runtime.
func filesReply(model, rest string) string {
	note := strings.TrimSpace(rest)
	if note == "" {
		note = "requested via /files"
	}

	var b strings.Builder
	b.WriteString("Applying the requested change.\n\n")
	b.WriteString("FILE: MOCK_NOTES.md\n")
	b.WriteString("```\n")
	fmt.Fprintf(&b, "# Mock change\n\nGenerated by %s: %s\n", model, note)
	b.WriteString("```\n\n")
	b.WriteString("FILE: scripts/mock_touch.sh\n")
	b.WriteString("```\n")
	b.WriteString("#!/bin/sh\necho \"mock update applied\"\n")
	b.WriteString("```\n")
	return b.String()
}

func inlineReply(rest string) string {
	content := strings.TrimSpace(rest)
	if content == "" {
		content = "// mock inline replacement"
	}
	return "Here is the updated file.\n\n```\n" + content + "\n```\n"
}
