package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format is the syntax of a schedule file.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// DetectFormat picks the decoder from the file extension. TOML is the
// default because it is what existing schedule files are written in.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

// ReadFile reads and decodes the file at path.
func ReadFile(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(DetectFormat(path), b)
}

// Decode turns raw bytes of the given format into a Document.
func Decode(format Format, data []byte) (Document, error) {
	switch format {
	case FormatYAML:
		return decodeYAML(data)
	case FormatJSON:
		return decodeJSON(data)
	case FormatTOML:
		return decodeTOML(data)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}
