package aiupdate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fence(lines ...string) string {
	return strings.Join(lines, "\n")
}

func TestParseFileBlocks(t *testing.T) {
	reply := fence(
		"I updated two files.",
		"",
		"FILE: cmd/main.go",
		"```go",
		"package main",
		"",
		"func main() {}",
		"```",
		"Some explanation in between.",
		"FILE: pkg/util.go",
		"```",
		"package pkg",
		"```",
		"Done.",
	)

	changes := ParseFileBlocks(reply)
	require.Len(t, changes, 2)
	assert.Equal(t, "cmd/main.go", changes[0].Path)
	assert.Equal(t, "package main\n\nfunc main() {}", changes[0].NewContent)
	assert.Equal(t, "pkg/util.go", changes[1].Path)
	assert.Equal(t, "package pkg", changes[1].NewContent)
}

func TestParseFileBlocksEdgeCases(t *testing.T) {
	// A FILE line with no fence is dropped.
	assert.Empty(t, ParseFileBlocks("FILE: orphan.go\nno fence here"))

	// CRLF replies parse the same.
	crlf := strings.ReplaceAll(fence("FILE: a.txt", "```", "x", "```"), "\n", "\r\n")
	changes := ParseFileBlocks(crlf)
	require.Len(t, changes, 1)
	assert.Equal(t, "x", changes[0].NewContent)

	// A blank line between FILE and the fence is tolerated.
	spaced := fence("FILE: b.txt", "", "```", "y", "```")
	changes = ParseFileBlocks(spaced)
	require.Len(t, changes, 1)
	assert.Equal(t, "b.txt", changes[0].Path)

	// Truncated reply: unclosed fence with content still applies.
	truncated := fence("FILE: c.txt", "```", "partial content")
	changes = ParseFileBlocks(truncated)
	require.Len(t, changes, 1)
	assert.Equal(t, "partial content", changes[0].NewContent)

	assert.Empty(t, ParseFileBlocks("no file blocks at all"))
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "func a() {}",
		ExtractCode(fence("Here you go:", "```go", "func a() {}", "```", "notes")))

	// No fence: the whole reply, trimmed.
	assert.Equal(t, "plain reply", ExtractCode("  plain reply\n"))

	// Unclosed fence takes everything after it.
	assert.Equal(t, "a\nb", ExtractCode(fence("```", "a", "b")))
}
