package docinfo

import (
	"reflect"
	"testing"
)

func TestDescribe_FrontmatterAndBody(t *testing.T) {
	info := Describe("---\ntitle: Hello\ntags:\n  - go\n  - search\n---\n# Heading\nBody #inline text.\n")
	if info.Title != "Hello" {
		t.Errorf("title = %q, want Hello", info.Title)
	}
	if !reflect.DeepEqual(info.Tags, []string{"go", "search", "inline"}) {
		t.Errorf("tags = %v", info.Tags)
	}
	if info.BodyLine != 7 {
		t.Errorf("bodyLine = %d, want 7", info.BodyLine)
	}
}

func TestDescribe_NoFrontmatter(t *testing.T) {
	info := Describe("Intro line\n\n## Section Title ##\ntext\n")
	if info.Frontmatter != nil {
		t.Errorf("frontmatter = %v", info.Frontmatter)
	}
	if info.Title != "Section Title" {
		t.Errorf("title = %q", info.Title)
	}
	if info.BodyLine != 1 {
		t.Errorf("bodyLine = %d", info.BodyLine)
	}
}

func TestDescribe_InvalidYAMLIsBody(t *testing.T) {
	info := Describe("---\n: invalid: yaml: {{{\n---\nBody\n")
	if info.Frontmatter != nil || info.BodyLine != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestDescribe_UnclosedFrontmatter(t *testing.T) {
	info := Describe("---\ntitle: x\nno closing line\n")
	if info.Frontmatter != nil || info.Title != "" {
		t.Errorf("info = %+v", info)
	}
}

func TestDescribe_StringTags(t *testing.T) {
	info := Describe("---\ntags: alpha, beta gamma\n---\n")
	if !reflect.DeepEqual(info.Tags, []string{"alpha", "beta", "gamma"}) {
		t.Errorf("tags = %v", info.Tags)
	}
}

func TestDescribe_Links(t *testing.T) {
	info := Describe("See [[Target|alias]], [[Other#Section]] and [[Target]] again. [[ ]]\n")
	if !reflect.DeepEqual(info.Links, []string{"Target", "Other"}) {
		t.Errorf("links = %v", info.Links)
	}
}

func TestDescribe_FencedTagsIgnored(t *testing.T) {
	info := Describe("```\n#notatag\n```\nreal #tag\n")
	if !reflect.DeepEqual(info.Tags, []string{"tag"}) {
		t.Errorf("tags = %v", info.Tags)
	}
}
