// Package chunker splits page text into bounded, overlapping chunks for
// embedding. Chunking is deterministic: the same pages and configuration
// always produce the same chunks.
package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/blueprint/core"
)

// Strategy selects how text is split.
type Strategy string

const (
	// Fixed cuts windows of Size bytes, preferring a word boundary.
	Fixed Strategy = "fixed"
	// Sentence packs whole sentences up to Size.
	Sentence Strategy = "sentence"
	// Paragraph packs blank-line separated paragraphs up to Size.
	Paragraph Strategy = "paragraph"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// ErrInvalidConfig is returned for an unusable size, overlap or strategy.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Config controls chunk size and overlap. Sizes are measured in bytes and
// cuts always fall on UTF-8 rune boundaries.
type Config struct {
	Size     int      `yaml:"size"`
	Overlap  int      `yaml:"overlap"`
	Strategy Strategy `yaml:"strategy"`
}

// DefaultConfig returns the fixed strategy with 1000/200 sizing.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap, Strategy: Fixed}
}

// Validate reports whether the configuration can be used.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalidConfig)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, size)", ErrInvalidConfig)
	}
	switch c.Strategy {
	case Fixed, Sentence, Paragraph:
		return nil
	}
	return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
}

// Chunker splits documents according to a Config.
type Chunker struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = Fixed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		cfg:    cfg,
		logger: slog.Default().With("component", "chunker"),
	}, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits every page and numbers the chunks contiguously from zero
// across the whole document. Whitespace-only chunks are dropped.
func (c *Chunker) Chunk(pages []core.Page) []core.Chunk {
	var out []core.Chunk
	for _, page := range pages {
		for _, s := range c.split(page.Text) {
			content := page.Text[s.start:s.end]
			if strings.TrimSpace(content) == "" {
				continue
			}
			out = append(out, core.Chunk{
				Content:     content,
				PageNumber:  page.Number,
				Index:       len(out),
				StartOffset: s.start,
				EndOffset:   s.end,
			})
		}
	}
	c.logger.Debug("chunked document", "pages", len(pages), "chunks", len(out), "strategy", c.cfg.Strategy)
	return out
}

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

func (c *Chunker) split(text string) []span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	switch c.cfg.Strategy {
	case Sentence:
		return c.pack(text, sentences(text), true)
	case Paragraph:
		return c.pack(text, paragraphs(text), false)
	default:
		return c.fixed(text, 0, len(text))
	}
}

// fixed cuts text[from:to] into windows. A window breaks at its last space
// when that space lies past half the window. The next window starts
// Overlap bytes before the previous end and always advances.
func (c *Chunker) fixed(text string, from, to int) []span {
	size, overlap := c.cfg.Size, c.cfg.Overlap
	var out []span

	start := from
	for start < to {
		end := min(start+size, to)
		end = runeFloor(text, end)
		if end <= start {
			_, w := utf8.DecodeRuneInString(text[start:])
			end = start + w
		}
		if end < to {
			if sp := strings.LastIndexByte(text[start:end], ' '); sp > size/2 {
				end = start + sp + 1
			}
		}
		if s, ok := trimSpan(text, start, end); ok {
			out = append(out, s)
		}
		if end >= to {
			break
		}
		next := runeFloor(text, end-overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// pack groups units into chunks of at most Size bytes. Units larger than
// Size are cut with the fixed strategy. With carry set, trailing units of
// up to Overlap bytes are repeated at the start of the next chunk.
func (c *Chunker) pack(text string, units []span, carry bool) []span {
	size, overlap := c.cfg.Size, c.cfg.Overlap
	var out []span
	var group []span

	width := func(g []span) int {
		if len(g) == 0 {
			return 0
		}
		return g[len(g)-1].end - g[0].start
	}
	flush := func() {
		if len(group) > 0 {
			out = append(out, span{group[0].start, group[len(group)-1].end})
		}
	}

	for _, u := range units {
		if u.len() > size {
			flush()
			group = nil
			out = append(out, c.fixed(text, u.start, u.end)...)
			continue
		}
		if len(group) > 0 && u.end-group[0].start > size {
			flush()
			var kept []span
			if carry && overlap > 0 {
				for i := len(group) - 1; i > 0; i-- {
					if group[len(group)-1].end-group[i].start > overlap {
						break
					}
					kept = group[i:]
				}
			}
			group = append([]span(nil), kept...)
			if width(group) > 0 && u.end-group[0].start > size {
				group = nil
			}
		}
		group = append(group, u)
	}
	flush()
	return out
}

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// sentences returns trimmed sentence spans. A sentence ends at a run of
// terminal punctuation followed by whitespace.
func sentences(text string) []span {
	var out []span
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		end := m[0] + len(strings.TrimRightFunc(text[m[0]:m[1]], isSpace))
		if s, ok := trimSpan(text, start, end); ok {
			out = append(out, s)
		}
		start = m[1]
	}
	if s, ok := trimSpan(text, start, len(text)); ok {
		out = append(out, s)
	}
	return out
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

func paragraphs(text string) []span {
	var out []span
	start := 0
	for _, m := range paragraphBreak.FindAllStringIndex(text, -1) {
		if s, ok := trimSpan(text, start, m[0]); ok {
			out = append(out, s)
		}
		start = m[1]
	}
	if s, ok := trimSpan(text, start, len(text)); ok {
		out = append(out, s)
	}
	return out
}

func trimSpan(text string, start, end int) (span, bool) {
	seg := text[start:end]
	lead := len(seg) - len(strings.TrimLeftFunc(seg, isSpace))
	trail := len(seg) - len(strings.TrimRightFunc(seg, isSpace))
	if lead == len(seg) {
		return span{}, false
	}
	return span{start + lead, end - trail}, true
}

func runeFloor(text string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}
