//go:build onnx

package config

import (
	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/embedder/mock"
	"github.com/locilabs/loci/embedder/onnx"
)

func buildEmbedder(cfg EmbedderConfig) (core.Embedder, error) {
	if cfg.Kind != "onnx" {
		return mock.New(), nil
	}
	return onnx.New(onnx.Config{
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		LibraryPath:   cfg.LibraryPath,
	})
}
