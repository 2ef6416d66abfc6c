package config

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/locilabs/loci/coordinator"
	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/isolation"
	"github.com/locilabs/loci/offload"
	"github.com/locilabs/loci/store/memstore"
	"github.com/locilabs/loci/store/sqlitestore"
	"github.com/locilabs/loci/summarize/claude"
	"github.com/locilabs/loci/summarize/extractive"
)

// Build wires a coordinator from the configuration. The returned cleanup
// function closes the storage backends and the coordinator's cache.
func (c *Config) Build() (*coordinator.Coordinator, func(), error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	embedder, err := buildEmbedder(c.Embedder)
	if err != nil {
		return nil, nil, err
	}

	var blobs core.BlobStore
	switch c.Store.Kind {
	case "sqlite":
		blobs, err = sqlitestore.Open(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
	default:
		blobs = memstore.NewBlobStore()
	}

	var summarizer core.Summarizer
	switch c.Summarizer.Kind {
	case "claude":
		// The SDK reads ANTHROPIC_API_KEY from the environment.
		client := anthropic.NewClient()
		summarizer, err = claude.New(&client, claude.Config{
			Model:     c.Summarizer.Model,
			MaxTokens: c.Summarizer.MaxTokens,
		})
		if err != nil {
			blobs.Close()
			return nil, nil, err
		}
	default:
		summarizer = extractive.New(c.Summarizer.MaxSentences)
	}

	iso := isolation.New(c.Isolation)
	off := offload.New(blobs, embedder, summarizer, c.Offload)
	index := memstore.NewIndex()

	coord, err := coordinator.New(iso, off, index, blobs, embedder, c.Coordinator)
	if err != nil {
		blobs.Close()
		return nil, nil, fmt.Errorf("build coordinator: %w", err)
	}

	cleanup := func() {
		coord.Close()
		index.Close()
		blobs.Close()
	}
	return coord, cleanup, nil
}
