// Package chunker splits document text into heading-aware, size-bounded
// chunks and assigns them deterministic ids.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/checksum"
	"github.com/starford/semdex/internal/indexconf"
)

// MaxIDSuffix bounds the "#n" counter used to disambiguate colliding ids.
const MaxIDSuffix = 64

// hashChars is how many hex characters of the content digest go into an id.
const hashChars = 12

var (
	headingRe = regexp.MustCompile(`^ {0,3}(#{1,6})(?:[ \t]+(.*?))?[ \t]*$`)
	fenceRe   = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
)

// Params controls chunking.
type Params struct {
	MaxChars        int
	OverlapChars    int
	HeadingAware    bool
	MinHeadingLevel int
}

// ParamsFrom adapts a normalized chunk configuration.
func ParamsFrom(c indexconf.ChunkConfig) Params {
	return Params{
		MaxChars:        c.MaxChars,
		OverlapChars:    c.OverlapChars,
		HeadingAware:    c.HeadingAware,
		MinHeadingLevel: c.MinHeadingLevel,
	}
}

// Chunk is a contiguous, 1-based, inclusive line range of a document.
type Chunk struct {
	StartLine int
	EndLine   int
	Heading   string
	Text      string
}

// Block is a heading-delimited region. Lines are 0-based and inclusive.
type Block struct {
	Start   int
	End     int
	Heading string
}

// SplitLines splits text on newlines, treating CRLF as LF.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// Blocks partitions lines at qualifying ATX headings. Headings inside fenced
// code are ignored. The heading line opens its own block.
func Blocks(lines []string, p Params) []Block {
	if len(lines) == 0 {
		return nil
	}
	if !p.HeadingAware {
		return []Block{{Start: 0, End: len(lines) - 1}}
	}

	var (
		out   []Block
		cur   = Block{Start: 0}
		fence string
	)
	for i, line := range lines {
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			switch {
			case fence == "":
				fence = m[1]
			case m[1][0] == fence[0] && len(m[1]) >= len(fence):
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}
		level, text, ok := parseHeading(line)
		if !ok || level < p.MinHeadingLevel {
			continue
		}
		if i > cur.Start {
			cur.End = i - 1
			out = append(out, cur)
		}
		cur = Block{Start: i, Heading: text}
	}
	cur.End = len(lines) - 1
	return append(out, cur)
}

// BlockAt returns the block containing the 0-based line idx.
func BlockAt(blocks []Block, idx int) (Block, bool) {
	for _, b := range blocks {
		if idx >= b.Start && idx <= b.End {
			return b, true
		}
	}
	return Block{}, false
}

func parseHeading(line string) (int, string, bool) {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	text := strings.TrimSpace(m[2])
	// Closing sequence: "## Title ##".
	if t := strings.TrimRight(text, "#"); t != text && (t == "" || strings.HasSuffix(t, " ") || strings.HasSuffix(t, "\t")) {
		text = strings.TrimSpace(t)
	}
	return len(m[1]), text, true
}

// Split cuts text into chunks. An empty document yields none.
func Split(text string, p Params) []Chunk {
	lines := SplitLines(text)
	if len(lines) == 0 {
		return nil
	}
	s := newSizer(lines)
	var out []Chunk
	for _, b := range Blocks(lines, p) {
		out = packBlock(out, lines, s, b, p)
	}
	return out
}

// sizer measures joined line ranges in runes.
type sizer struct {
	cum []int // cum[i] = runes of lines[:i] including one separator each
}

func newSizer(lines []string) sizer {
	cum := make([]int, len(lines)+1)
	for i, l := range lines {
		cum[i+1] = cum[i] + utf8.RuneCountInString(l) + 1
	}
	return sizer{cum: cum}
}

// span is the length of strings.Join(lines[start:end+1], "\n").
func (s sizer) span(start, end int) int {
	return s.cum[end+1] - s.cum[start] - 1
}

func packBlock(out []Chunk, lines []string, s sizer, b Block, p Params) []Chunk {
	emit := func(start, end int) {
		text := strings.TrimSpace(strings.Join(lines[start:end+1], "\n"))
		if text == "" {
			return
		}
		out = append(out, Chunk{StartLine: start + 1, EndLine: end + 1, Heading: b.Heading, Text: text})
	}

	curStart, curEnd := -1, -1
	flush := func() {
		if curStart >= 0 {
			emit(curStart, curEnd)
		}
		curStart, curEnd = -1, -1
	}

	for _, para := range paragraphs(lines, b) {
		ps, pe := para[0], para[1]
		if s.span(ps, pe) > p.MaxChars {
			flush()
			splitLong(ps, pe, s, p, emit)
			continue
		}
		if curStart >= 0 && s.span(curStart, pe) > p.MaxChars {
			flush()
		}
		if curStart < 0 {
			curStart = ps
		}
		curEnd = pe
	}
	flush()
	return out
}

// paragraphs returns the non-blank line runs of b as [start, end] pairs.
func paragraphs(lines []string, b Block) [][2]int {
	var out [][2]int
	start := -1
	for i := b.Start; i <= b.End; i++ {
		blank := strings.TrimSpace(lines[i]) == ""
		switch {
		case !blank && start < 0:
			start = i
		case blank && start >= 0:
			out = append(out, [2]int{start, i - 1})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, b.End})
	}
	return out
}

// splitLong accumulates lines of one oversized paragraph up to the budget.
// Each following chunk starts with a trailing overlap of the previous one,
// but always strictly after its start line.
func splitLong(ps, pe int, s sizer, p Params, emit func(start, end int)) {
	start := ps
	for {
		end := start
		for end < pe && s.span(start, end+1) <= p.MaxChars {
			end++
		}
		emit(start, end)
		if end >= pe {
			return
		}
		next := end + 1
		for next-1 > start && s.span(next-1, end) <= p.OverlapChars {
			next--
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
}

// AssignIDs returns one deterministic id per chunk, of the form
// "path:start-end:hash". Collisions, within chunks or against taken, get a
// "#n" suffix up to MaxIDSuffix.
func AssignIDs(relPath string, chunks []Chunk, taken func(id string) bool) ([]string, error) {
	used := make(map[string]struct{}, len(chunks))
	inUse := func(id string) bool {
		if _, ok := used[id]; ok {
			return true
		}
		return taken != nil && taken(id)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		base := fmt.Sprintf("%s:%d-%d:%s", relPath, c.StartLine, c.EndLine, checksum.Short(c.Text, hashChars))
		id := base
		for n := 1; inUse(id); n++ {
			if n > MaxIDSuffix {
				return nil, fmt.Errorf("chunker: %s: %w", base, apperr.ErrChunkIDExhausted)
			}
			id = fmt.Sprintf("%s#%d", base, n)
		}
		used[id] = struct{}{}
		ids[i] = id
	}
	return ids, nil
}
