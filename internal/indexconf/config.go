// Package indexconf defines the index configuration and its normalization.
//
// Every configuration that reaches the engine has passed through Normalize,
// which never fails and is idempotent: Normalize(Normalize(c)) == Normalize(c).
package indexconf

import (
	"math"
	"path"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderVoyage = "voyage"
	ProviderOllama = "ollama"

	DefaultProvider = ProviderOpenAI
)

// Clamping bounds.
const (
	MinTopK            = 1
	MaxTopK            = 50
	MinChunkChars      = 200
	MaxChunkChars      = 20000
	MinContextChars    = 200
	MaxContextChars    = 20000
	MinDepth           = 1
	MaxDepth           = 64
	MinBatchSize       = 1
	MaxBatchSize       = 256
	MinTimeoutMs       = 1000
	MaxTimeoutMs       = 600000
	DefaultLibraryKey  = "default"
	defaultMinScore    = 0.3
	defaultHeadingLvl  = 2
	defaultChunkChars  = 1200
	defaultOverlap     = 200
	defaultContext     = 1500
	defaultTopK        = 8
	defaultDepth       = 16
	defaultBatchSize   = 16
	defaultTimeoutMs   = 30000
	maxLibraryKeyChars = 64
)

type providerInfo struct {
	baseURL   string
	model     string
	inputType bool
}

var providers = map[string]providerInfo{
	ProviderOpenAI: {baseURL: "https://api.openai.com/v1", model: "text-embedding-3-small"},
	ProviderVoyage: {baseURL: "https://api.voyageai.com/v1", model: "voyage-3", inputType: true},
	ProviderOllama: {baseURL: "http://localhost:11434/v1", model: "nomic-embed-text"},
}

var libraryKeyRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// Config is the fully-defined index configuration.
type Config struct {
	Enabled     bool            `json:"enabled"`
	IncludeDirs []string        `json:"includeDirs"`
	ExcludeDirs []string        `json:"excludeDirs"`
	Extensions  []string        `json:"extensions"`
	MaxDepth    int             `json:"maxDepth"`
	Chunk       ChunkConfig     `json:"chunk"`
	Embedding   EmbeddingConfig `json:"embedding"`
	Search      SearchConfig    `json:"search"`
	LibraryKey  string          `json:"libraryKey"`

	// CloudSync is a retired toggle. It is kept so that old persisted
	// settings still parse, and is always forced off.
	CloudSync bool `json:"cloudSync"`
}

// ChunkConfig controls the chunker.
type ChunkConfig struct {
	MaxChars        int  `json:"maxChars"`
	OverlapChars    int  `json:"overlapChars"`
	HeadingAware    bool `json:"headingAware"`
	MinHeadingLevel int  `json:"minHeadingLevel"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	BaseURL   string `json:"baseUrl"`
	APIKey    string `json:"apiKey"`
	Model     string `json:"model"`
	BatchSize int    `json:"batchSize"`
	TimeoutMs int    `json:"timeoutMs"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	TopK            int     `json:"topK"`
	MinScore        float64 `json:"minScore"`
	MaxContextChars int     `json:"maxContextChars"`
}

// Defaults returns the normalized default configuration.
func Defaults() Config {
	return Config{
		Enabled:    true,
		Extensions: []string{"md", "markdown", "txt"},
		MaxDepth:   defaultDepth,
		Chunk: ChunkConfig{
			MaxChars:        defaultChunkChars,
			OverlapChars:    defaultOverlap,
			HeadingAware:    true,
			MinHeadingLevel: defaultHeadingLvl,
		},
		Embedding: EmbeddingConfig{
			Provider:  DefaultProvider,
			BaseURL:   providers[DefaultProvider].baseURL,
			Model:     providers[DefaultProvider].model,
			BatchSize: defaultBatchSize,
			TimeoutMs: defaultTimeoutMs,
		},
		Search: SearchConfig{
			TopK:            defaultTopK,
			MinScore:        defaultMinScore,
			MaxContextChars: defaultContext,
		},
		LibraryKey: DefaultLibraryKey,
	}
}

// Normalize returns a fully populated, range-clamped copy of c.
func Normalize(c Config) Config {
	out := c

	out.IncludeDirs = normalizeDirs(c.IncludeDirs)
	out.ExcludeDirs = normalizeDirs(c.ExcludeDirs)
	out.Extensions = normalizeExtensions(c.Extensions)
	if len(out.Extensions) == 0 {
		out.Extensions = Defaults().Extensions
	}
	out.MaxDepth = clamp(c.MaxDepth, MinDepth, MaxDepth)

	out.Chunk.MaxChars = clamp(c.Chunk.MaxChars, MinChunkChars, MaxChunkChars)
	out.Chunk.OverlapChars = clamp(c.Chunk.OverlapChars, 0, out.Chunk.MaxChars/2)
	out.Chunk.MinHeadingLevel = clamp(c.Chunk.MinHeadingLevel, 1, 6)

	out.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	info, ok := providers[out.Embedding.Provider]
	if !ok {
		out.Embedding.Provider = DefaultProvider
		info = providers[DefaultProvider]
	}
	out.Embedding.BaseURL = strings.TrimRight(strings.TrimSpace(c.Embedding.BaseURL), "/")
	if out.Embedding.BaseURL == "" {
		out.Embedding.BaseURL = info.baseURL
	}
	out.Embedding.APIKey = strings.TrimSpace(c.Embedding.APIKey)
	out.Embedding.Model = strings.TrimSpace(c.Embedding.Model)
	if out.Embedding.Model == "" {
		out.Embedding.Model = info.model
	}
	out.Embedding.BatchSize = clamp(c.Embedding.BatchSize, MinBatchSize, MaxBatchSize)
	out.Embedding.TimeoutMs = clamp(c.Embedding.TimeoutMs, MinTimeoutMs, MaxTimeoutMs)

	out.Search.TopK = clamp(c.Search.TopK, MinTopK, MaxTopK)
	out.Search.MinScore = clampFloat(c.Search.MinScore, -1, 1, defaultMinScore)
	out.Search.MaxContextChars = clamp(c.Search.MaxContextChars, MinContextChars, MaxContextChars)

	out.LibraryKey = normalizeLibraryKey(c.LibraryKey)
	out.CloudSync = false
	return out
}

// SupportsInputType reports whether the configured provider distinguishes
// query embeddings from document embeddings.
func (c Config) SupportsInputType() bool {
	return providers[c.Embedding.Provider].inputType
}

// Validate validates a normalized configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Extensions, validation.Required),
		validation.Field(&c.MaxDepth, validation.Min(MinDepth), validation.Max(MaxDepth)),
		validation.Field(&c.Chunk),
		validation.Field(&c.Embedding),
		validation.Field(&c.Search),
		validation.Field(&c.LibraryKey, validation.Required, validation.Match(regexp.MustCompile(`^[a-z0-9._-]+$`))),
		validation.Field(&c.CloudSync, validation.In(false)),
	)
}

// Validate validates the chunk configuration.
func (c ChunkConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxChars, validation.Min(MinChunkChars), validation.Max(MaxChunkChars)),
		validation.Field(&c.OverlapChars, validation.Min(0), validation.Max(c.MaxChars/2)),
		validation.Field(&c.MinHeadingLevel, validation.Min(1), validation.Max(6)),
	)
}

// Validate validates the embedding configuration.
func (c EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOpenAI, ProviderVoyage, ProviderOllama)),
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.BatchSize, validation.Min(MinBatchSize), validation.Max(MaxBatchSize)),
		validation.Field(&c.TimeoutMs, validation.Min(MinTimeoutMs), validation.Max(MaxTimeoutMs)),
	)
}

// Validate validates the search configuration.
func (c SearchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TopK, validation.Min(MinTopK), validation.Max(MaxTopK)),
		validation.Field(&c.MinScore, validation.Min(-1.0), validation.Max(1.0)),
		validation.Field(&c.MaxContextChars, validation.Min(MinContextChars), validation.Max(MaxContextChars)),
	)
}

// InScope reports whether relPath passes the extension, directory and depth
// filters. relPath uses forward slashes and is relative to the vault root.
func (c Config) InScope(relPath string) bool {
	p := cleanRel(relPath)
	if p == "" {
		return false
	}
	lower := strings.ToLower(p)

	ext := strings.TrimPrefix(path.Ext(lower), ".")
	if ext == "" || !contains(c.Extensions, ext) {
		return false
	}
	if strings.Count(lower, "/") > c.MaxDepth {
		return false
	}
	dir := path.Dir(lower)
	return c.DirInScope(dir)
}

// DirInScope reports whether files under dir may be indexed. It is used to
// prune directory walks; "." is the vault root.
func (c Config) DirInScope(dir string) bool {
	d := strings.ToLower(cleanRel(dir))
	for _, ex := range c.ExcludeDirs {
		if underPrefix(d, ex) {
			return false
		}
	}
	if len(c.IncludeDirs) == 0 {
		return true
	}
	for _, in := range c.IncludeDirs {
		if underPrefix(d, in) {
			return true
		}
	}
	return false
}

// MayContain reports whether a directory walk should descend into dir: either
// dir is in scope, or an include prefix lies below it.
func (c Config) MayContain(dir string) bool {
	d := strings.ToLower(cleanRel(dir))
	if d != "" && strings.Count(d, "/")+1 > c.MaxDepth {
		return false
	}
	for _, ex := range c.ExcludeDirs {
		if underPrefix(d, ex) {
			return false
		}
	}
	if len(c.IncludeDirs) == 0 || d == "" {
		return true
	}
	for _, in := range c.IncludeDirs {
		if underPrefix(d, in) || underPrefix(in, d) {
			return true
		}
	}
	return false
}

func underPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func cleanRel(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

func normalizeDirs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.ReplaceAll(d, "\\", "/")
		d = strings.TrimPrefix(d, "./")
		d = strings.Trim(d, "/")
		if d == "" || d == "." {
			continue
		}
		d = cleanRel(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func normalizeExtensions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		e = strings.TrimLeft(e, "*.")
		if e == "" || strings.ContainsAny(e, "/\\ ") {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func normalizeLibraryKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = libraryKeyRe.ReplaceAllString(k, "-")
	k = strings.Trim(k, "-.")
	if len(k) > maxLibraryKeyChars {
		k = strings.Trim(k[:maxLibraryKeyChars], "-.")
	}
	if k == "" {
		return DefaultLibraryKey
	}
	return k
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, v))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
