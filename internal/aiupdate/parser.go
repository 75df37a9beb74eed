// Package aiupdate applies agent-produced mutations to project
// workspaces: parsing FILE blocks out of agent replies and writing them
// atomically inside the workspace boundary.
package aiupdate

import (
	"strings"
)

// FileChange is one parsed file mutation from an agent reply.
type FileChange struct {
	Path       string `json:"path"`
	NewContent string `json:"new_content"`
}

const filePrefix = "FILE:"

// ParseFileBlocks extracts `FILE: <relpath>` + fenced-content sequences
// from an agent reply. Prose between blocks is ignored; a FILE line
// without a following fence is dropped.
func ParseFileBlocks(text string) []FileChange {
	var changes []FileChange
	lines := strings.Split(text, "\n")

	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		if !strings.HasPrefix(strings.TrimSpace(line), filePrefix) {
			i++
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), filePrefix))
		i++

		// Skip blank lines between the FILE line and its fence.
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			continue
		}
		i++ // fence open

		var content []string
		closed := false
		for i < len(lines) {
			l := strings.TrimRight(lines[i], "\r")
			if strings.TrimSpace(l) == "```" {
				closed = true
				i++
				break
			}
			content = append(content, l)
			i++
		}
		if path == "" {
			continue
		}
		if !closed && len(content) == 0 {
			continue
		}
		changes = append(changes, FileChange{
			Path:       path,
			NewContent: strings.Join(content, "\n"),
		})
	}
	return changes
}

// ExtractCode returns the first fenced block of an agent reply, or the
// whole reply trimmed when there is no fence.
func ExtractCode(text string) string {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(strings.TrimSpace(strings.TrimRight(lines[i], "\r")), "```") {
			continue
		}
		var content []string
		for j := i + 1; j < len(lines); j++ {
			l := strings.TrimRight(lines[j], "\r")
			if strings.TrimSpace(l) == "```" {
				return strings.Join(content, "\n")
			}
			content = append(content, l)
		}
		// Unclosed fence: take what follows it.
		return strings.Join(content, "\n")
	}
	return strings.TrimSpace(text)
}
