package webapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/eventloop"
)

var errInvalidBase64 = errors.New("invalid base64 string")

// encodingJS exposes atob/btoa with the WHATWG argument checks in JS and the
// codec itself in Go.
const encodingJS = `
(function() {
	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires at least 1 argument(s)');
		return __btoa(String(data));
	};
	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError('atob requires at least 1 argument(s)');
		return __atob(String(data));
	};
})();
`

// latin1Encode maps every character of s to one byte. Characters above
// U+00FF cannot be represented.
func latin1Encode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, errors.New("string contains characters outside of the Latin1 range")
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// latin1Decode is the inverse of latin1Encode.
func latin1Decode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// Btoa encodes a Latin1 string as standard base64.
func Btoa(s string) (string, error) {
	raw, err := latin1Encode(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Atob decodes forgiving base64: ASCII whitespace is ignored and padding is
// optional.
func Atob(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(s, "=")
		s = strings.TrimSuffix(s, "=")
	}
	if len(s)%4 == 1 || strings.ContainsRune(s, '=') {
		return "", errInvalidBase64
	}
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return "", errInvalidBase64
	}
	return latin1Decode(raw), nil
}

// SetupEncoding registers atob and btoa.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__btoa", Btoa); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__atob", Atob); err != nil {
		return err
	}
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
