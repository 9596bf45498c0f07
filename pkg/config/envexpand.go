package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR}} references in YAML content with values from
// the process environment. Shell-style $VAR and ${VAR} are left alone, so cron
// strings and secrets containing '$' survive untouched.
//
// Unset variables expand to "". Content that is not a valid template is
// returned as-is and left for the YAML parser to reject.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("hearth").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
