package webapi

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// mainModuleGlobal receives the exports of an ES main module.
const mainModuleGlobal = "__jscore_main"

// publishExportsJS copies the main module's named exports onto globalThis
// (without overwriting existing globals) so an init script such as
// "initCore()" can reach them.
var publishExportsJS = fmt.Sprintf(`
;(function() {
	var m = globalThis.%[1]s;
	if (!m || typeof m !== 'object') return;
	Object.keys(m).forEach(function(k) {
		if (k !== 'default' && !(k in globalThis)) globalThis[k] = m[k];
	});
})();
`, mainModuleGlobal)

var esmSyntax = regexp.MustCompile(`(?m)^\s*(import(\s+|\s*[{*'"])|export\s)`)

// MainModule describes the bootstrap script.
type MainModule struct {
	Path   string // file on disk; imports are resolved relative to it
	Source string // inline source, used when Path is empty
	Bundle bool   // resolve imports with esbuild
}

// IsModule reports whether source uses ES module syntax and therefore has
// to be converted before it can run as a classic script.
func IsModule(source string) bool {
	return esmSyntax.MatchString(source)
}

// PrepareMainModule turns the main module into a classic script. Plain
// scripts are returned untouched so their top-level declarations stay
// global. ES modules are converted to an IIFE whose exports land in
// globalThis.__jscore_main and are then published as globals. With Bundle
// set and a Path, imports are inlined.
func PrepareMainModule(m MainModule) (code, name string, err error) {
	source := m.Source
	name = "main.js"
	if m.Path != "" {
		raw, err := os.ReadFile(m.Path)
		if err != nil {
			return "", "", fmt.Errorf("reading main module: %w", err)
		}
		source = string(raw)
		name = filepath.Base(m.Path)
	}

	if !IsModule(source) {
		return source, name, nil
	}

	if m.Bundle && m.Path != "" {
		code, err = bundle(m.Path)
	} else {
		code, err = transform(source, name)
	}
	if err != nil {
		return "", "", err
	}
	return code + publishExportsJS, name, nil
}

func bundle(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		GlobalName:    "globalThis." + mainModuleGlobal,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2022,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %s: %s", filepath.Base(path), joinMessages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s produced no output", filepath.Base(path))
	}
	return string(result.OutputFiles[0].Contents), nil
}

func transform(source, name string) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Format:     esbuild.FormatIIFE,
		GlobalName: "globalThis." + mainModuleGlobal,
		Target:     esbuild.ES2022,
		Sourcefile: name,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("transforming %s: %s", name, joinMessages(result.Errors))
	}
	return string(result.Code), nil
}

func joinMessages(msgs []esbuild.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "; ")
}
