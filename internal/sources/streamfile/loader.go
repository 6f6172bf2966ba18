// Package streamfile reads the optional YAML file that seeds the stream
// configuration on a fresh installation.
package streamfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"gopkg.in/yaml.v3"
)

// Loader handles loading and parsing of the stream file.
type Loader struct {
	filePath string
	lookup   func(string) (string, bool)
}

func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath, lookup: os.LookupEnv}
}

// Load reads, expands and parses the file. The result is normalised but not
// validated.
func (l *Loader) Load() (domain.StreamConfig, error) {
	var cfg domain.StreamConfig

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read stream file: %w", err)
	}

	data, err = expandTemplateVariables(data, l.lookup)
	if err != nil {
		return cfg, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse stream yaml: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// expandTemplateVariables replaces {{NAME}} with the environment value of
// NAME, so secrets like the stream key can stay out of the file.
// Example: stream_key: "{{YOUTUBE_KEY}}"
func expandTemplateVariables(data []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := templateVar.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(templateVar.FindSubmatch(m)[1])
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return nil
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("stream file references unset variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
