package reference

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/repochat-ai/assistant-platform/internal/github"
	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
	"github.com/repochat-ai/assistant-platform/pkg/metrics"
)

// ErrNotFound is returned when no resolution strategy yields content.
var ErrNotFound = errors.New("reference: file not found")

// Source names the strategy that produced a resolution.
type Source string

const (
	SourceCache   Source = "cache"
	SourcePage    Source = "page"
	SourceNetwork Source = "network"
	SourceLinks   Source = "links"
)

// Resolution is resolved file content plus where it came from.
type Resolution struct {
	Path    string
	Content string
	Source  Source
}

// Resolver turns (repository, path) into file text. Strategies in
// priority order: cache, the file open in the host page, raw fetch on
// the requested branch with a main/master fallback, and finally a
// corrected-path retry against the page's visible file links.
type Resolver struct {
	github *github.Client
	page   PageView
	cache  *Cache
	log    *logger.Logger
}

// NewResolver wires a resolver. page may be nil when no extension
// snapshot is available.
func NewResolver(gh *github.Client, page PageView, cache *Cache, log *logger.Logger) *Resolver {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Resolver{github: gh, page: page, cache: cache, log: log}
}

// Resolve returns file content for path within repo. A nil error means
// content was found; ErrNotFound means every strategy came up empty;
// any other error is transient (network, rate limit). Failures here
// never abort message sending, callers degrade to the raw @path token.
func (r *Resolver) Resolve(ctx context.Context, repo model.Repository, path string) (*Resolution, error) {
	key := Key(repo, path)

	if content, ok := r.cache.Get(key); ok {
		metrics.RecordResolution(string(SourceCache))
		return &Resolution{Path: path, Content: content, Source: SourceCache}, nil
	}

	if res := r.resolveFromPage(key, path); res != nil {
		return res, nil
	}

	res, transientErr := r.resolveOverNetwork(ctx, repo, key, path, path, SourceNetwork)
	if res != nil {
		return res, nil
	}

	if linked := r.matchVisibleLink(path); linked != "" && linked != path {
		linkRes, linkErr := r.resolveOverNetwork(ctx, repo, key, path, linked, SourceLinks)
		if linkRes != nil {
			return linkRes, nil
		}
		if transientErr == nil {
			transientErr = linkErr
		}
	}

	metrics.RecordResolution("miss")
	if transientErr != nil {
		return nil, transientErr
	}
	return nil, ErrNotFound
}

// ResolveAll resolves paths concurrently. Unresolvable paths are simply
// absent from the result; each lookup is independent and idempotent.
func (r *Resolver) ResolveAll(ctx context.Context, repo model.Repository, paths []string) map[string]*Resolution {
	results := make(map[string]*Resolution, len(paths))
	if len(paths) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			res, err := r.Resolve(ctx, repo, p)
			if err != nil {
				r.log.Debug("reference unresolved", "repo", repo.String(), "path", p, "error", err)
				return
			}
			mu.Lock()
			results[p] = res
			mu.Unlock()
		}(path)
	}
	wg.Wait()
	return results
}

// ClearCache drops all cached file content.
func (r *Resolver) ClearCache() {
	r.cache.Clear()
	metrics.FileCacheSize.Set(0)
}

// CacheLen reports the number of cached files.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

func (r *Resolver) resolveFromPage(key, path string) *Resolution {
	if r.page == nil {
		return nil
	}
	pagePath := r.page.CurrentFilePath()
	if pagePath == "" || !pathsMatch(pagePath, path) {
		return nil
	}
	text := r.page.CurrentFileText()
	if text == "" {
		return nil
	}

	r.store(key, text)
	metrics.RecordResolution(string(SourcePage))
	return &Resolution{Path: path, Content: text, Source: SourcePage}
}

// resolveOverNetwork fetches fetchPath on the requested branch, falling
// back to the alternate conventional default branch on 404. Content is
// cached under the originally requested key regardless of which branch
// finally served it.
func (r *Resolver) resolveOverNetwork(ctx context.Context, repo model.Repository, key, path, fetchPath string, source Source) (*Resolution, error) {
	if r.github == nil {
		return nil, nil
	}

	var transientErr error
	for _, branch := range branchCandidates(repo.Branch) {
		content, err := r.github.FetchRawFile(ctx, repo.Owner, repo.Name, branch, fetchPath)
		if err == nil {
			r.store(key, content)
			metrics.RecordResolution(string(source))
			return &Resolution{Path: path, Content: content, Source: source}, nil
		}
		if errors.Is(err, github.ErrFileNotFound) {
			continue
		}
		transientErr = err
	}
	return nil, transientErr
}

func (r *Resolver) matchVisibleLink(path string) string {
	if r.page == nil {
		return ""
	}
	for _, link := range r.page.VisibleFileLinks() {
		if pathsMatch(link, path) {
			return link
		}
	}
	return ""
}

func (r *Resolver) store(key, content string) {
	r.cache.Put(key, content)
	metrics.FileCacheSize.Set(float64(r.cache.Len()))
}

// pathsMatch reports whether a and b name the same file, allowing one
// to be a segment-aligned suffix of the other ("utils.go" matches
// "pkg/utils.go" but not "myutils.go").
func pathsMatch(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

func branchCandidates(branch string) []string {
	switch branch {
	case "", "main":
		return []string{"main", "master"}
	case "master":
		return []string{"master", "main"}
	default:
		return []string{branch, "main", "master"}
	}
}
