// Package docinfo extracts descriptive metadata (frontmatter, title, tags and
// wikilinks) from a Markdown document.
package docinfo

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\]]*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	headingRe  = regexp.MustCompile(`^ {0,3}#{1,6}[ \t]+(.+?)[ \t#]*$`)
)

// Info describes a document.
type Info struct {
	Title       string         `json:"title,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags"`
	Links       []string       `json:"links"`
	// BodyLine is the 1-based line on which the body starts.
	BodyLine int `json:"bodyLine"`
}

// Describe parses text. Invalid frontmatter is treated as body.
func Describe(text string) Info {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	fm, bodyStart := frontmatter(lines)
	body := lines[bodyStart:]

	info := Info{
		Frontmatter: fm,
		BodyLine:    bodyStart + 1,
		Links:       links(body),
		Tags:        tags(fm, body),
	}
	info.Title = title(fm, body)
	return info
}

// frontmatter returns the YAML block delimited by "---" lines at the top of
// the document and the index of the first body line.
func frontmatter(lines []string) (map[string]any, int) {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, 0
	}
	for i := 1; i < len(lines); i++ {
		l := strings.TrimSpace(lines[i])
		if l != "---" && l != "..." {
			continue
		}
		var fm map[string]any
		if err := yaml.Unmarshal([]byte(strings.Join(lines[1:i], "\n")), &fm); err != nil {
			return nil, 0
		}
		return fm, i + 1
	}
	return nil, 0
}

func links(body []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, line := range body {
		for _, m := range wikilinkRe.FindAllStringSubmatch(line, -1) {
			target, _, _ := strings.Cut(m[1], "|")
			target, _, _ = strings.Cut(target, "#")
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			if _, ok := seen[target]; !ok {
				seen[target] = struct{}{}
				out = append(out, target)
			}
		}
	}
	return out
}

// tags merges the frontmatter "tags" field (list or comma/space separated
// string) with inline #tags outside fenced code.
func tags(fm map[string]any, body []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(t string) {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t == "" {
			return
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	if raw, ok := fm["tags"]; ok {
		if list, err := cast.ToStringSliceE(raw); err == nil {
			for _, item := range list {
				for _, t := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' }) {
					add(t)
				}
			}
		}
	}

	inFence := false
	for _, line := range body {
		if strings.HasPrefix(strings.TrimSpace(line), "```") || strings.HasPrefix(strings.TrimSpace(line), "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || headingRe.MatchString(line) {
			continue
		}
		for _, m := range tagRe.FindAllStringSubmatch(line, -1) {
			add(m[1])
		}
	}
	return out
}

// title prefers the frontmatter title, then the first heading of any level.
func title(fm map[string]any, body []string) string {
	if t := strings.TrimSpace(cast.ToString(fm["title"])); t != "" {
		return t
	}
	for _, line := range body {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
