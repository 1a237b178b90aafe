package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/resilience"
)

// uploadConcurrency bounds concurrent uploads to respect blob-store API
// ceilings. Uploads run in fixed-size waves with a short pause between
// waves.
const (
	uploadConcurrency = 3
	uploadWavePause   = 200 * time.Millisecond
)

// Cache memoizes uploads per document id for the lifetime of one extraction
// run (or a configured TTL for longer-lived caches). Concurrent callers
// asking for the same document share a single upload.
type Cache struct {
	uploader Uploader
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	ref  Uploaded
	err  error
}

// NewCache creates a Cache over the given uploader. A ttl of 0 means entries
// live for the cache's lifetime.
func NewCache(uploader Uploader, ttl time.Duration) *Cache {
	return &Cache{
		uploader: uploader,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

// Get returns the remote reference for the document, uploading it on first
// use. Later phases reuse the reference instead of resending bytes.
func (c *Cache) Get(ctx context.Context, doc model.PreparedDocument) (Uploaded, error) {
	c.mu.Lock()
	entry, ok := c.entries[doc.ID]
	if ok && c.ttl > 0 && !entry.ref.UploadedAt.IsZero() && time.Since(entry.ref.UploadedAt) > c.ttl {
		delete(c.entries, doc.ID)
		ok = false
	}
	if !ok {
		entry = &cacheEntry{}
		c.entries[doc.ID] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.ref, entry.err = c.upload(ctx, doc)
		if entry.err != nil {
			// Failed uploads are not cached; the next caller retries.
			c.mu.Lock()
			if c.entries[doc.ID] == entry {
				delete(c.entries, doc.ID)
			}
			c.mu.Unlock()
		}
	})
	return entry.ref, entry.err
}

// Lookup returns the cached reference without uploading.
func (c *Cache) Lookup(documentID string) (Uploaded, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[documentID]
	if !ok || entry.ref.UploadedAt.IsZero() {
		return Uploaded{}, false
	}
	if c.ttl > 0 && time.Since(entry.ref.UploadedAt) > c.ttl {
		return Uploaded{}, false
	}
	return entry.ref, true
}

func (c *Cache) upload(ctx context.Context, doc model.PreparedDocument) (Uploaded, error) {
	key := fmt.Sprintf("extractions/%s/%s", doc.ID, doc.Name)

	uri, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		return c.uploader.Upload(ctx, key, doc.RawBytes, doc.MimeType)
	})
	if err != nil {
		return Uploaded{}, err
	}

	zap.L().Info("upload: document stored",
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int("bytes", len(doc.RawBytes)),
	)

	return Uploaded{
		DocumentID: doc.ID,
		RemoteURI:  uri,
		MimeType:   doc.MimeType,
		UploadedAt: time.Now(),
	}, nil
}

// UploadAll uploads every document in fixed-size waves, pausing briefly
// between waves. A single document's upload failure is logged and skipped;
// the remaining documents still upload. Returns references keyed by
// document id.
func (c *Cache) UploadAll(ctx context.Context, docs []model.PreparedDocument) map[string]Uploaded {
	var pending []model.PreparedDocument
	for _, doc := range docs {
		if len(doc.RawBytes) > 0 {
			pending = append(pending, doc)
		}
	}

	var mu sync.Mutex
	refs := make(map[string]Uploaded, len(pending))

	for start := 0; start < len(pending); start += uploadConcurrency {
		end := min(start+uploadConcurrency, len(pending))

		g, gctx := errgroup.WithContext(ctx)
		for _, doc := range pending[start:end] {
			g.Go(func() error {
				ref, err := c.Get(gctx, doc)
				if err != nil {
					zap.L().Warn("upload: document upload failed",
						zap.String("document_id", doc.ID),
						zap.Error(err),
					)
					return nil // isolate per-document failures
				}
				mu.Lock()
				refs[doc.ID] = ref
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end == len(pending) {
			break
		}
		select {
		case <-ctx.Done():
			return refs
		case <-time.After(uploadWavePause):
		}
	}
	return refs
}
