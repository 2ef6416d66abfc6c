//go:build !onnx

package config

import (
	"fmt"

	"github.com/locilabs/loci/core"
	"github.com/locilabs/loci/embedder/mock"
)

func buildEmbedder(cfg EmbedderConfig) (core.Embedder, error) {
	if cfg.Kind == "onnx" {
		return nil, fmt.Errorf("%w: binary built without the onnx tag", core.ErrInvalidConfig)
	}
	return mock.New(), nil
}
