// Package console writes progress and kernel output to a terminal.
package console

import (
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/charmbracelet/x/ansi"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'\x60]+[^\s<>"'\x60.,;:!?)\]]`)

type Options struct {
	// Hyperlinks wraps URLs in OSC 8 sequences. Enable only for terminals.
	Hyperlinks bool
}

// Sink renders status lines: carriage returns and backspaces are applied,
// escape sequences removed and URLs optionally linked.
type Sink struct {
	mu   sync.Mutex
	out  io.Writer
	opts Options
}

var _ ports.StatusSink = (*Sink)(nil)

func NewSink(out io.Writer, opts Options) *Sink {
	return &Sink{out: out, opts: opts}
}

func (s *Sink) ShowStatus(message string) {
	text := Normalize(message)
	if strings.TrimSpace(text) == "" {
		return
	}
	if s.opts.Hyperlinks {
		text = LinkURLs(text)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.out, text)
}

// Normalize strips escape sequences and resolves overwritten characters.
func Normalize(text string) string {
	return FixOverwrittenChars(ansi.Strip(text))
}

// FixOverwrittenChars applies backspaces and bare carriage returns the way a
// terminal would, keeping only what remains visible on each line.
func FixOverwrittenChars(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = overwriteLine(line)
	}
	return strings.Join(lines, "\n")
}

func overwriteLine(line string) string {
	if !strings.ContainsAny(line, "\r\b") {
		return line
	}
	var buf []rune
	col := 0
	for _, r := range line {
		switch r {
		case '\r':
			col = 0
		case '\b':
			if col > 0 {
				col--
			}
		default:
			if col < len(buf) {
				buf[col] = r
			} else {
				buf = append(buf, r)
			}
			col++
		}
	}
	return string(buf)
}

// LinkURLs wraps every http(s) URL in an OSC 8 hyperlink.
func LinkURLs(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, func(url string) string {
		return ansi.SetHyperlink(url) + url + ansi.ResetHyperlink()
	})
}
