//go:build !v8

package jscore

import (
	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/quickjs"
)

// Engine names the backend compiled into this binary.
const Engine = "quickjs"

func newRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return quickjs.New(cfg)
}
