//go:build !v8

package webapi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsModule(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"var core = {};", false},
		{"import { x } from './x.js';", true},
		{"import * as lib from 'lib';", true},
		{"import './side-effect.js';", true},
		{"import{a}from'./a.js'", true},
		{"export const core = {};", true},
		{"  export default function() {}", true},
		{"var important = 1;", false},
		{"// import nothing\nvar a = 1;", false},
		{"var exported = true;", false},
	}
	for _, tt := range tests {
		if got := IsModule(tt.source); got != tt.want {
			t.Errorf("IsModule(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestPrepareMainModule_PlainScriptUntouched(t *testing.T) {
	src := "var core = { version: function() { return '1.0'; } };"
	code, name, err := PrepareMainModule(MainModule{Source: src})
	if err != nil {
		t.Fatalf("PrepareMainModule: %v", err)
	}
	if code != src {
		t.Errorf("plain script was rewritten:\n%s", code)
	}
	if name != "main.js" {
		t.Errorf("name = %q, want main.js", name)
	}
}

func TestPrepareMainModule_ModulePublishesExports(t *testing.T) {
	src := `export function initCore() { globalThis.core = { ready: true }; }
export const VERSION = "2.1";
export default { ignored: true };`

	code, _, err := PrepareMainModule(MainModule{Source: src})
	if err != nil {
		t.Fatalf("PrepareMainModule: %v", err)
	}

	rt, _ := newTestRuntime(t, nil)
	if err := rt.Eval(code); err != nil {
		t.Fatalf("evaluating transformed module: %v", err)
	}
	if got := evalSync(t, rt, "VERSION"); got != "2.1" {
		t.Errorf("VERSION = %q", got)
	}
	evalSync(t, rt, "initCore()")
	if got := evalSync(t, rt, "core.ready"); got != "true" {
		t.Errorf("core.ready = %q", got)
	}
	if got := evalSync(t, rt, "typeof globalThis['default']"); got != "undefined" {
		t.Errorf("default export leaked as a global: %q", got)
	}
}

func TestPrepareMainModule_ExportsDoNotOverwriteGlobals(t *testing.T) {
	code, _, err := PrepareMainModule(MainModule{Source: "export const console = 1;"})
	if err != nil {
		t.Fatalf("PrepareMainModule: %v", err)
	}
	rt, _ := newTestRuntime(t, nil)
	if err := rt.Eval(code); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := evalSync(t, rt, "typeof console.log"); got != "function" {
		t.Errorf("console was overwritten: typeof console.log = %q", got)
	}
}

func TestPrepareMainModule_Bundle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lib.js"), `export function greet(n) { return "hello " + n; }`)
	writeFile(t, filepath.Join(dir, "main.js"), `import { greet } from "./lib.js";
export const core = { greet };`)

	code, name, err := PrepareMainModule(MainModule{Path: filepath.Join(dir, "main.js"), Bundle: true})
	if err != nil {
		t.Fatalf("PrepareMainModule: %v", err)
	}
	if name != "main.js" {
		t.Errorf("name = %q", name)
	}

	rt, _ := newTestRuntime(t, nil)
	if err := rt.Eval(code); err != nil {
		t.Fatalf("evaluating bundle: %v", err)
	}
	if got := evalSync(t, rt, "core.greet('bob')"); got != "hello bob" {
		t.Errorf("core.greet = %q", got)
	}
}

func TestPrepareMainModule_Errors(t *testing.T) {
	if _, _, err := PrepareMainModule(MainModule{Path: filepath.Join(t.TempDir(), "missing.js")}); err == nil {
		t.Error("missing file accepted")
	}

	_, _, err := PrepareMainModule(MainModule{Source: "export const = ;"})
	if err == nil || !strings.Contains(err.Error(), "main.js") {
		t.Errorf("syntax error = %v, want it located in main.js", err)
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.js"), `import { nope } from "./absent.js"; export const core = nope;`)
	if _, _, err := PrepareMainModule(MainModule{Path: filepath.Join(dir, "main.js"), Bundle: true}); err == nil {
		t.Error("unresolvable import accepted")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
