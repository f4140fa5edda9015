package search

import (
	"strings"
	"unicode/utf8"

	"github.com/starford/semdex/internal/chunker"
)

// Ellipsis marks a window that stops short of its block.
const Ellipsis = "…"

type document struct {
	lines  []string
	blocks []chunker.Block
}

type snippet struct {
	start, end int // 1-based, inclusive
	text       string
}

// snippet expands the 1-based line range [start, end] toward the bounds of
// its heading block, always taking the shorter neighbouring line, until the
// budget is spent. Ranges that no longer exist in the file yield false.
func (d *document) snippet(start, end, budget int) (snippet, bool) {
	if start < 1 || start > len(d.lines) {
		return snippet{}, false
	}
	end = min(max(end, start), len(d.lines))
	b, ok := chunker.BlockAt(d.blocks, start-1)
	if !ok {
		b = chunker.Block{Start: 0, End: len(d.lines) - 1}
	}

	ws, we := start-1, end-1
	if we > b.End {
		b.End = we
	}
	used := 0
	for i := ws; i <= we; i++ {
		used += cost(d.lines[i])
	}
	for {
		up, down := -1, -1
		if ws > b.Start {
			up = cost(d.lines[ws-1])
		}
		if we < b.End {
			down = cost(d.lines[we+1])
		}
		switch {
		case down >= 0 && (up < 0 || down <= up) && used+down <= budget:
			we++
			used += down
		case up >= 0 && (down < 0 || up < down) && used+up <= budget:
			ws--
			used += up
		default:
			return d.render(b, ws, we, budget), true
		}
	}
}

func (d *document) render(b chunker.Block, ws, we, budget int) snippet {
	text := strings.Join(d.lines[ws:we+1], "\n")
	text = truncate(strings.TrimSpace(text), budget)
	if ws > b.Start {
		text = Ellipsis + "\n" + text
	}
	if we < b.End {
		text += "\n" + Ellipsis
	}
	return snippet{start: ws + 1, end: we + 1, text: text}
}

// cost counts the characters of a line plus its newline.
func cost(line string) int {
	return utf8.RuneCountInString(line) + 1
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + Ellipsis
}
