// Package parser extracts card entries from markdown files.
//
// An entry starts with a "Q:" (flashcard question), "T:" (todo) or "N:"
// (note) line. A flashcard answer follows on an "A:" line and any entry may
// carry a "C:" context block. Each field runs until the next prefixed line,
// and a "---" line closes the current entry.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/topnote/internal/card"
)

// Entry is one card found in a file.
type Entry struct {
	Type    card.Type
	Content string
	Answer  string
	Context string
	// Line is the 1-based line the entry starts on.
	Line int
}

// Body returns the content with the context block appended.
func (e Entry) Body() string {
	if e.Context == "" {
		return e.Content
	}
	return e.Content + "\n\n" + e.Context
}

type field int

const (
	seeking field = iota
	readingContent
	readingAnswer
	readingContext
)

var starters = map[string]card.Type{
	"Q:": card.Flashcard,
	"T:": card.Todo,
	"N:": card.Note,
}

const (
	answerPrefix  = "A:"
	contextPrefix = "C:"
	separator     = "---"
)

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all entries. Answers attached
// to todos or notes are kept so callers can reject them.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	var current Entry
	var block []string
	state := seeking

	flush := func() {
		if len(block) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(block, "\n"))
		switch state {
		case readingContent:
			current.Content = text
		case readingAnswer:
			current.Answer = text
		case readingContext:
			current.Context = text
		}
		block = nil
	}

	finish := func() {
		flush()
		if current.Content != "" {
			entries = append(entries, current)
		}
		current = Entry{}
		state = seeking
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if strings.TrimSpace(line) == separator {
			finish()
			continue
		}

		prefix, rest, ok := splitPrefix(line)
		if !ok {
			if state != seeking {
				block = append(block, line)
			}
			continue
		}

		if t, starts := starters[prefix]; starts {
			finish()
			current = Entry{Type: t, Line: lineNo}
			state = readingContent
			block = append(block, rest)
			continue
		}

		// A: and C: outside an entry are ignored.
		if state == seeking {
			continue
		}
		flush()
		if prefix == answerPrefix {
			state = readingAnswer
		} else {
			state = readingContext
		}
		block = append(block, rest)
	}

	finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func splitPrefix(line string) (prefix, rest string, ok bool) {
	if len(line) < 2 {
		return "", "", false
	}
	prefix = line[:2]
	if _, starts := starters[prefix]; !starts && prefix != answerPrefix && prefix != contextPrefix {
		return "", "", false
	}
	return prefix, strings.TrimPrefix(line[2:], " "), true
}
