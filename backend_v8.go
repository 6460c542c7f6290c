//go:build v8

package jscore

import (
	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/v8engine"
)

// Engine names the backend compiled into this binary.
const Engine = "v8"

func newRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return v8engine.New(cfg)
}
