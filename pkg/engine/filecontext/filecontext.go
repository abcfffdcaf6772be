// Package filecontext implements the File Context Provider: an on-demand
// metadata lookup by doc id, fronted by a bounded, TTL-aware cache. The
// cache shape is grounded on the teacher's pricing.Client (a map of string
// key to timestamped record, checked against a TTL on every read), but the
// teacher's unbounded map and file-backed persistence are replaced with
// hashicorp/golang-lru/v2's expirable LRU so the cache can never grow
// without bound and never needs disk I/O of its own. Every cache-miss fetch
// is bounded by retry.go's withRetry, the §5 per-call timeout and
// backoff-retry contract.
package filecontext

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Sensitivity is the coarse file classification the Intent Classifier and
// Severity Resolver key off of.
type Sensitivity string

const (
	SensitivityLow     Sensitivity = "low"
	SensitivityMedium  Sensitivity = "medium"
	SensitivityHigh    Sensitivity = "high"
	SensitivityUnknown Sensitivity = "unknown"
)

// FileContext is the cache entry and the enrichment handed to the rest of
// the engine.
type FileContext struct {
	DocID                  string
	Title                  string
	Owner                  string
	ParentFolderID         string
	Labels                 []string
	Sensitivity            Sensitivity
	SharedExternallyBefore bool
	NotFound               bool
	FetchedAt              time.Time
}

// Provider is the narrow, external collaborator this package wraps: the
// actual file-service client. Its construction (auth, transport) is out of
// scope here, matching the spec's treatment of audit/file-service clients
// as injected dependencies.
type Provider interface {
	Fetch(ctx context.Context, docID string) (FileContext, error)
}

// Config controls sensitivity derivation and cache shape, per §4.2.
type Config struct {
	SensitiveLabels []string
	HighRiskOUs     []string
	CacheSize       int
	TTL             time.Duration
	NegativeTTL     time.Duration
}

// DefaultConfig returns the spec's defaults: 1h positive TTL, 5m negative
// TTL, a 10,000-entry cache.
func DefaultConfig() Config {
	return Config{
		CacheSize:   10_000,
		TTL:         time.Hour,
		NegativeTTL: 5 * time.Minute,
	}
}

type cacheEntry struct {
	ctx FileContext
}

// CachingProvider wraps a Provider with a bounded, TTL-respecting cache.
// Thread-safe for concurrent reads: the underlying expirable.LRU holds its
// own internal mutex, so correlator workers sharing one actor's doc lookups
// never race.
type CachingProvider struct {
	provider Provider
	cfg      Config
	cache    *lru.LRU[string, cacheEntry]
	logger   *slog.Logger
}

// New wraps provider with the cache described by cfg.
func New(provider Provider, cfg Config, logger *slog.Logger) *CachingProvider {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultConfig().NegativeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	// expirable.LRU applies a single TTL to every entry; since negative
	// results need a shorter TTL than positive ones, store the longer of
	// the two here and re-check the entry's own FetchedAt/NotFound on
	// every read, evicting early when the shorter negative TTL has
	// elapsed.
	ttl := cfg.TTL
	if cfg.NegativeTTL > ttl {
		ttl = cfg.NegativeTTL
	}

	return &CachingProvider{
		provider: provider,
		cfg:      cfg,
		cache:    lru.NewLRU[string, cacheEntry](cfg.CacheSize, nil, ttl),
		logger:   logger,
	}
}

// Get returns the FileContext for docID, satisfying from cache when fresh.
// On a provider error it returns a synthetic unknown context and logs,
// per §4.2: enrichment failure must never fail the finding.
func (p *CachingProvider) Get(ctx context.Context, docID string) FileContext {
	if entry, ok := p.cache.Get(docID); ok {
		ttl := p.cfg.TTL
		if entry.ctx.NotFound {
			ttl = p.cfg.NegativeTTL
		}
		if time.Since(entry.ctx.FetchedAt) < ttl {
			return entry.ctx
		}
	}

	fc, err := withRetry(ctx, func(ctx context.Context) (FileContext, error) {
		return p.provider.Fetch(ctx, docID)
	})
	if err != nil {
		p.logger.Warn("filecontext: fetch failed after retry, using unknown context", "doc_id", docID, "error", err)
		return FileContext{
			DocID:       docID,
			Sensitivity: SensitivityUnknown,
			Labels:      []string{},
			FetchedAt:   time.Now(),
		}
	}

	fc.DocID = docID
	fc.FetchedAt = time.Now()
	fc.Sensitivity = p.deriveSensitivity(fc)
	p.cache.Add(docID, cacheEntry{ctx: fc})
	return fc
}

// deriveSensitivity implements §4.2's derivation order: an explicit
// sensitive label wins, then OU membership, then any classification
// label at all, else low.
func (p *CachingProvider) deriveSensitivity(fc FileContext) Sensitivity {
	sensitiveSet := toSet(p.cfg.SensitiveLabels)
	for _, l := range fc.Labels {
		if sensitiveSet[l] {
			return SensitivityHigh
		}
	}

	if len(p.cfg.HighRiskOUs) > 0 {
		ouSet := toSet(p.cfg.HighRiskOUs)
		if ouSet[fc.Owner] {
			return SensitivityHigh
		}
	}

	if len(fc.Labels) > 0 {
		return SensitivityMedium
	}
	return SensitivityLow
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
