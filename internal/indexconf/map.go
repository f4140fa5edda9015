package indexconf

import (
	"encoding/json"

	"github.com/spf13/cast"
)

// legacy flat keys from earlier settings layouts, mapped onto the nested form.
var legacyKeys = map[string][2]string{
	"chunkSize":      {"chunk", "maxChars"},
	"chunkOverlap":   {"chunk", "overlapChars"},
	"headingAware":   {"chunk", "headingAware"},
	"embeddingModel": {"embedding", "model"},
	"apiBaseUrl":     {"embedding", "baseUrl"},
	"apiKey":         {"embedding", "apiKey"},
	"topK":           {"search", "topK"},
	"minScore":       {"search", "minScore"},
}

// FromMap builds a normalized Config from loosely typed input such as decoded
// YAML or JSON settings. Missing or unparseable values keep their defaults.
func FromMap(raw map[string]any) Config {
	c := Defaults()
	if raw == nil {
		return Normalize(c)
	}
	raw = foldLegacy(raw)

	setBool(raw, "enabled", &c.Enabled)
	setStrings(raw, "includeDirs", &c.IncludeDirs)
	setStrings(raw, "excludeDirs", &c.ExcludeDirs)
	setStrings(raw, "extensions", &c.Extensions)
	setInt(raw, "maxDepth", &c.MaxDepth)
	setString(raw, "libraryKey", &c.LibraryKey)
	setBool(raw, "cloudSync", &c.CloudSync)

	if m := section(raw, "chunk"); m != nil {
		setInt(m, "maxChars", &c.Chunk.MaxChars)
		setInt(m, "overlapChars", &c.Chunk.OverlapChars)
		setBool(m, "headingAware", &c.Chunk.HeadingAware)
		setInt(m, "minHeadingLevel", &c.Chunk.MinHeadingLevel)
	}
	if m := section(raw, "embedding"); m != nil {
		setString(m, "provider", &c.Embedding.Provider)
		setString(m, "baseUrl", &c.Embedding.BaseURL)
		setString(m, "apiKey", &c.Embedding.APIKey)
		setString(m, "model", &c.Embedding.Model)
		setInt(m, "batchSize", &c.Embedding.BatchSize)
		setInt(m, "timeoutMs", &c.Embedding.TimeoutMs)
	}
	if m := section(raw, "search"); m != nil {
		setInt(m, "topK", &c.Search.TopK)
		setFloat(m, "minScore", &c.Search.MinScore)
		setInt(m, "maxContextChars", &c.Search.MaxContextChars)
	}
	return Normalize(c)
}

// FromJSON decodes persisted settings. Invalid JSON yields the defaults.
func FromJSON(data []byte) Config {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Normalize(Defaults())
	}
	return FromMap(raw)
}

// ToMap renders c in the same shape FromMap accepts.
func ToMap(c Config) map[string]any {
	b, err := json.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

// Merge overlays patch onto base (nested sections merged key by key) and
// normalizes the result.
func Merge(base Config, patch map[string]any) Config {
	m := ToMap(base)
	for k, v := range foldLegacy(patch) {
		if cur, ok := m[k].(map[string]any); ok {
			if sub, err := cast.ToStringMapE(v); err == nil {
				for sk, sv := range sub {
					cur[sk] = sv
				}
				continue
			}
		}
		m[k] = v
	}
	return FromMap(m)
}

func foldLegacy(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for old, dst := range legacyKeys {
		v, ok := out[old]
		if !ok {
			continue
		}
		delete(out, old)
		sec, err := cast.ToStringMapE(out[dst[0]])
		if err != nil || sec == nil {
			sec = map[string]any{}
		}
		if _, set := sec[dst[1]]; !set {
			sec[dst[1]] = v
		}
		out[dst[0]] = sec
	}
	return out
}

func section(raw map[string]any, key string) map[string]any {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil
	}
	return m
}

func setBool(m map[string]any, key string, dst *bool) {
	if v, ok := m[key]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			*dst = b
		}
	}
}

func setInt(m map[string]any, key string, dst *int) {
	if v, ok := m[key]; ok {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(m map[string]any, key string, dst *float64) {
	if v, ok := m[key]; ok {
		if f, err := cast.ToFloat64E(v); err == nil {
			*dst = f
		}
	}
}

func setString(m map[string]any, key string, dst *string) {
	if v, ok := m[key]; ok {
		if s, err := cast.ToStringE(v); err == nil {
			*dst = s
		}
	}
}

func setStrings(m map[string]any, key string, dst *[]string) {
	if v, ok := m[key]; ok {
		if s, err := cast.ToStringSliceE(v); err == nil {
			*dst = s
		}
	}
}
