// Package command parses and replays the deferred post-processing commands
// a filter leaves behind.
//
// The command list is line oriented and has exactly two verbs:
//
//	delete <path>
//	load <path> <key>
//
// where <key> is the hex digest of a cache blob. Any other non-blank line is
// rejected with ErrUnknownCommand.
package command

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/postprocess/contenthash"
	"github.com/meigma/postprocess/journal"
)

var (
	// ErrUnknownCommand is returned for a line that matches neither verb.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingCacheEntry is returned when a load references a blob that is
	// not in the cache.
	ErrMissingCacheEntry = errors.New("missing cache entry")
)

// Command is a parsed post-processing command: Delete or Load.
type Command interface {
	// Target is the working-tree path the command acts on.
	Target() string
	String() string
	isCommand()
}

// Delete removes Path from the working tree if present.
type Delete struct {
	Path string
}

// Target implements Command.
func (c Delete) Target() string { return c.Path }

func (c Delete) String() string { return "delete " + c.Path }

func (Delete) isCommand() {}

// Load replaces Path with the cache blob stored under Key.
type Load struct {
	Path string
	Key  digest.Digest
}

// Target implements Command.
func (c Load) Target() string { return c.Path }

func (c Load) String() string { return "load " + c.Path + " " + c.Key.Encoded() }

func (Load) isCommand() {}

// Error reports the command list line a failure belongs to.
type Error struct {
	Line int
	Text string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Parse parses a single command line. Cache keys must be hex digests of
// algorithm alg.
//
// For load, the key is the last space-separated token and the path is
// everything between the verb and the key, so paths may contain spaces. A
// hex key that is not valid for alg yields ErrMissingCacheEntry; any other
// malformed line yields ErrUnknownCommand.
func Parse(line string, alg digest.Algorithm) (Command, error) {
	if rest, ok := strings.CutPrefix(line, "delete "); ok && rest != "" {
		return Delete{Path: journal.CleanPath(rest)}, nil
	}
	if rest, ok := strings.CutPrefix(line, "load "); ok {
		i := strings.LastIndexByte(rest, ' ')
		if i > 0 && i < len(rest)-1 {
			tok := rest[i+1:]
			key, err := contenthash.ParseEncoded(alg, tok)
			if err != nil {
				// A hex key of another algorithm can never be in this cache.
				if isHex(tok) {
					return nil, fmt.Errorf("%w: %w", ErrMissingCacheEntry, err)
				}
				return nil, fmt.Errorf("%w: %w", ErrUnknownCommand, err)
			}
			return Load{Path: journal.CleanPath(rest[:i]), Key: key}, nil
		}
	}
	return nil, ErrUnknownCommand
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return s != ""
}

// ParseAll parses every line read from r. Blank lines are skipped and a
// trailing carriage return is ignored. Errors are *Error values.
func ParseAll(r io.Reader, alg digest.Algorithm) ([]Command, error) {
	var cmds []Command
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := Parse(line, alg)
		if err != nil {
			return nil, &Error{Line: lineNo, Text: line, Err: err}
		}
		cmds = append(cmds, cmd)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	return cmds, nil
}
