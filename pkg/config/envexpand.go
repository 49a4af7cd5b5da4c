package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes environment variables referenced as {{.VAR_NAME}}
// in raw config bytes. Template syntax keeps literal $ untouched, so keyword
// conditions and channel secrets containing $ survive expansion as written.
// Unknown variables expand to the empty string; config validation catches
// required fields left blank.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Malformed template syntax: hand back the raw bytes and let the
		// YAML decoder report anything genuinely broken.
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, env); err != nil {
		return data
	}
	return out.Bytes()
}
