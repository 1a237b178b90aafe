package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/ocr"
	"github.com/sells-group/menu-extract/internal/pipeline"
	"github.com/sells-group/menu-extract/internal/prepare"
	"github.com/sells-group/menu-extract/internal/ratelimit"
	"github.com/sells-group/menu-extract/internal/upload"
	anthropicpkg "github.com/sells-group/menu-extract/pkg/anthropic"
)

// pipelineEnv bundles the wired pipeline with the pieces commands need
// individually.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Preparer *prepare.Preparer
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr extractor")
	}
	preparer := prepare.New(extractor, prepare.Options{
		PDFMinTextChars: cfg.Extraction.PDFMinTextChars,
	})

	uploader, err := upload.NewS3Uploader(ctx, cfg.Upload)
	if err != nil {
		return nil, eris.Wrap(err, "init uploader")
	}
	ttl := time.Duration(cfg.Extraction.CacheTTLMins) * time.Minute
	uploads := upload.NewCache(uploader, ttl)

	limiter := ratelimit.New(tierConfigs(cfg.RateLimits))
	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	return &pipelineEnv{
		Pipeline: pipeline.New(cfg, aiClient, preparer, uploads, limiter, model.DefaultVocabulary()),
		Preparer: preparer,
	}, nil
}

func tierConfigs(raw map[string]ratelimit.TierConfig) map[model.Tier]ratelimit.TierConfig {
	out := make(map[model.Tier]ratelimit.TierConfig, len(raw))
	for name, tc := range raw {
		out[model.Tier(name)] = tc
	}
	return out
}

// loadDocuments builds the document list from a JSON manifest, local file
// paths, or both. Local files are inlined as base64 with the MIME type
// derived from the extension.
func loadDocuments(manifestPath string, paths []string) ([]model.DocumentMeta, error) {
	var docs []model.DocumentMeta

	if manifestPath != "" {
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, eris.Wrapf(err, "read manifest %s", manifestPath)
		}
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, eris.Wrapf(err, "parse manifest %s", manifestPath)
		}
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
		docs = append(docs, model.DocumentMeta{
			ID:       uuid.NewString(),
			Name:     filepath.Base(path),
			MimeType: mimeType,
			Content:  base64.StdEncoding.EncodeToString(data),
		})
	}

	if len(docs) == 0 {
		return nil, eris.New("no documents: pass --manifest or file paths")
	}
	return docs, nil
}
