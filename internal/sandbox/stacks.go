package sandbox

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devplane/devplane/internal/common/errors"
)

// Stack describes how one language/framework pair is realized at runtime:
// the container image used by the CONTAINER backend and the shell command
// used by the LOCAL_PTY fallback. Env entries are KEY=VALUE pairs injected
// into both backends.
type Stack struct {
	Language  string   `yaml:"language"`
	Framework string   `yaml:"framework"`
	Image     string   `yaml:"image"`
	Command   string   `yaml:"command"`
	Env       []string `yaml:"env"`
}

// builtinStacks is the fixed mapping shipped with the supervisor. A stacks
// file can replace or extend individual entries but never empties the table.
var builtinStacks = []Stack{
	{Language: "javascript", Image: "node:20-bookworm-slim", Command: "npm run dev", Env: []string{"NODE_ENV=development"}},
	{Language: "javascript", Framework: "react", Image: "node:20-bookworm-slim", Command: "npm run dev -- --port $PORT", Env: []string{"NODE_ENV=development"}},
	{Language: "javascript", Framework: "nextjs", Image: "node:20-bookworm-slim", Command: "npm run dev -- --port $PORT", Env: []string{"NODE_ENV=development"}},
	{Language: "typescript", Image: "node:20-bookworm-slim", Command: "npm run dev", Env: []string{"NODE_ENV=development"}},
	{Language: "typescript", Framework: "react", Image: "node:20-bookworm-slim", Command: "npm run dev -- --port $PORT", Env: []string{"NODE_ENV=development"}},
	{Language: "python", Image: "python:3.12-slim", Command: "python main.py", Env: []string{"PYTHONUNBUFFERED=1"}},
	{Language: "python", Framework: "django", Image: "python:3.12-slim", Command: "python manage.py runserver 0.0.0.0:$PORT", Env: []string{"PYTHONUNBUFFERED=1"}},
	{Language: "python", Framework: "flask", Image: "python:3.12-slim", Command: "flask run --host 0.0.0.0 --port $PORT", Env: []string{"PYTHONUNBUFFERED=1", "FLASK_DEBUG=1"}},
	{Language: "python", Framework: "fastapi", Image: "python:3.12-slim", Command: "uvicorn main:app --host 0.0.0.0 --port $PORT", Env: []string{"PYTHONUNBUFFERED=1"}},
	{Language: "go", Image: "golang:1.23-bookworm", Command: "go run .", Env: []string{"CGO_ENABLED=0"}},
	{Language: "rust", Image: "rust:1.79-slim", Command: "cargo run", Env: []string{"RUST_BACKTRACE=1"}},
	{Language: "ruby", Image: "ruby:3.3-slim", Command: "bundle exec ruby app.rb"},
	{Language: "ruby", Framework: "rails", Image: "ruby:3.3-slim", Command: "bundle exec rails server -b 0.0.0.0 -p $PORT"},
	{Language: "java", Framework: "spring", Image: "eclipse-temurin:21-jdk", Command: "./mvnw spring-boot:run"},
}

// StackTable resolves a project's language and framework to a Stack.
type StackTable struct {
	stacks map[string]Stack
}

// stacksFile is the on-disk override format.
type stacksFile struct {
	Stacks []Stack `yaml:"stacks"`
}

func stackKey(language, framework string) string {
	return strings.ToLower(strings.TrimSpace(language)) + "|" + strings.ToLower(strings.TrimSpace(framework))
}

// LoadStacks builds the stack table from the built-in mapping, then applies
// entries from path if it is non-empty. File entries with the same
// language/framework pair replace the built-in one; new pairs extend the
// table.
func LoadStacks(path string) (*StackTable, error) {
	t := &StackTable{stacks: make(map[string]Stack, len(builtinStacks))}
	for _, s := range builtinStacks {
		t.stacks[stackKey(s.Language, s.Framework)] = s
	}

	if path == "" {
		return t, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Internal("reading stacks file", err).WithDetail("path", path)
	}
	var file stacksFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Internal("parsing stacks file", err).WithDetail("path", path)
	}
	for _, s := range file.Stacks {
		if s.Language == "" || s.Image == "" {
			return nil, errors.Precondition("stacks file entries need at least language and image").WithDetail("path", path)
		}
		t.stacks[stackKey(s.Language, s.Framework)] = s
	}
	return t, nil
}

// Resolve returns the stack for a language/framework pair. An unknown
// framework falls back to the language's default entry; an unknown language
// is a precondition failure.
func (t *StackTable) Resolve(language, framework string) (Stack, error) {
	if s, ok := t.stacks[stackKey(language, framework)]; ok {
		return s, nil
	}
	if s, ok := t.stacks[stackKey(language, "")]; ok {
		return s, nil
	}
	return Stack{}, errors.Preconditionf("no sandbox stack for language %q", language)
}

// Len reports how many stacks the table holds.
func (t *StackTable) Len() int { return len(t.stacks) }
