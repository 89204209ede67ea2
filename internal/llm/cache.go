package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spherical/table-extractor/internal/cache"
	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/observability"
)

// CachedInferencer serves repeated (model, instruction, image) requests from
// a cache. Only successful replies are stored.
type CachedInferencer struct {
	next   domain.Inferencer
	cache  cache.Client
	model  string
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedInferencer wraps next with a reply cache.
func NewCachedInferencer(next domain.Inferencer, c cache.Client, ttl time.Duration, logger *observability.Logger) *CachedInferencer {
	if logger == nil {
		logger = observability.Nop()
	}
	model := ""
	if named, ok := next.(ModelNamer); ok {
		model = named.Model()
	}
	return &CachedInferencer{
		next:   next,
		cache:  c,
		model:  model,
		ttl:    ttl,
		logger: logger,
	}
}

// Infer returns a cached reply when present, otherwise calls through.
// Cache failures are logged and never fail the request.
func (c *CachedInferencer) Infer(ctx context.Context, req domain.InferenceRequest) (string, error) {
	key := c.key(req)

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug().Str("key", key).Msg("Inference cache hit")
		return string(cached), nil
	case !errors.Is(err, cache.ErrCacheMiss):
		c.logger.Warn().Err(err).Msg("Inference cache read failed")
	}

	reply, err := c.next.Infer(ctx, req)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, []byte(reply), c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("Inference cache write failed")
	}
	return reply, nil
}

// Model reports the wrapped client's model id.
func (c *CachedInferencer) Model() string {
	return c.model
}

func (c *CachedInferencer) key(req domain.InferenceRequest) string {
	h := sha256.New()
	for _, part := range []string{c.model, req.Instruction, req.Image.MimeType, req.Image.Base64} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return cache.Key("infer", hex.EncodeToString(h.Sum(nil)))
}
