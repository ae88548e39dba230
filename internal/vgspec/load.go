package vgspec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Format is the source syntax of a document file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
// Unknown extensions are read as JSON (".vg.json" and ".json" included).
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".cue":
		return FormatCUE
	default:
		return FormatJSON
	}
}

// Load reads and parses a document file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc, err := LoadBytes(data, FormatFromPath(path), path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadBytes parses a document in the given format. filename is used for
// CUE error positions and may be empty.
func LoadBytes(data []byte, format Format, filename string) (*Document, error) {
	switch format {
	case FormatJSON:
		return Parse(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatCUE:
		return parseCUE(data, filename)
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

func parseYAML(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	plain, err := jsonCompatible(raw)
	if err != nil {
		return nil, err
	}
	// Round trip through JSON so numbers become json.Number like Parse.
	b, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("re-encode yaml: %w", err)
	}
	return Parse(b)
}

// jsonCompatible converts yaml's map[any]any nodes to map[string]any.
func jsonCompatible(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			conv, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml key %v is not a string", k)
			}
			conv, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			conv, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	default:
		return v, nil
	}
}

func parseCUE(data []byte, filename string) (*Document, error) {
	ctx := cuecontext.New()

	var opts []cue.BuildOption
	if filename != "" {
		opts = append(opts, cue.Filename(filename))
	}
	v := ctx.CompileBytes(data, opts...)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	b, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return Parse(b)
}

func formatCUEError(err error) error {
	return fmt.Errorf("cue: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
}
