package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.toml
var defaultPack embed.FS

const defaultPackDir = "defaults"

// ConfigSource describes file, directory, or embedded config source.
// Params: at most one of file path or directory path; WithDefaults layers the source over the embedded pack.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File         string
	Dir          string
	WithDefaults bool
}

// Embedded reports whether source resolves to the embedded rule pack only.
func (s ConfigSource) Embedded() bool {
	return s.File == "" && s.Dir == ""
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments, overlay flag.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string, withDefaults bool) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath, WithDefaults: withDefaults}, nil
	}
	if dirPath != "" {
		return ConfigSource{Dir: dirPath, WithDefaults: withDefaults}, nil
	}
	return ConfigSource{WithDefaults: true}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file, directory, or embedded mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var merged rawConfig
	if src.Embedded() || src.WithDefaults {
		pack, err := loadFS(defaultPack, defaultPackDir)
		if err != nil {
			return Config{}, fmt.Errorf("load embedded rule pack: %w", err)
		}
		mergeRawConfig(&merged, pack)
	}

	switch {
	case src.File != "":
		fragment, err := loadFile(src.File)
		if err != nil {
			return Config{}, err
		}
		mergeRawConfig(&merged, fragment)
	case src.Dir != "":
		fragment, err := loadFS(os.DirFS(src.Dir), ".")
		if err != nil {
			return Config{}, fmt.Errorf("config dir %q: %w", src.Dir, err)
		}
		mergeRawConfig(&merged, fragment)
	}

	cfg, err := normalizeRawConfig(merged)
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDefault loads the embedded rule pack.
// Params: none.
// Returns: validated default config.
func LoadDefault() (Config, error) {
	return LoadSnapshot(ConfigSource{})
}

// loadFile reads one TOML or YAML configuration file.
// Params: file path to config snapshot.
// Returns: decoded raw config or read/decode error.
func loadFile(filePath string) (rawConfig, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		return rawConfig{}, fmt.Errorf("read config file %q: %w", filePath, err)
	}
	raw, err := decodeFragment(filepath.Ext(filePath), body)
	if err != nil {
		return rawConfig{}, fmt.Errorf("decode config file %q: %w", filePath, err)
	}
	return raw, nil
}

// loadFS reads and merges config fragments from one directory of a file system.
// Params: file system and directory inside it.
// Returns: merged raw config or load/decode error.
func loadFS(fsys fs.FS, dir string) (rawConfig, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return rawConfig{}, fmt.Errorf("read config dir: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
			files = append(files, path.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return rawConfig{}, errors.New("no .toml/.yaml files found")
	}
	sort.Strings(files)

	var merged rawConfig
	for _, file := range files {
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return rawConfig{}, fmt.Errorf("read config file %q: %w", file, err)
		}
		fragment, err := decodeFragment(path.Ext(file), body)
		if err != nil {
			return rawConfig{}, fmt.Errorf("decode config file %q: %w", file, err)
		}
		mergeRawConfig(&merged, fragment)
	}
	return merged, nil
}

// decodeFragment decodes one fragment by extension.
// Params: file extension and body.
// Returns: raw config or decode error.
func decodeFragment(ext string, body []byte) (rawConfig, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		converted, err := yamlToTOML(body)
		if err != nil {
			return rawConfig{}, err
		}
		body = converted
	default:
		if err := rejectUnsupportedSyntax(body); err != nil {
			return rawConfig{}, err
		}
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return rawConfig{}, err
	}
	return raw, nil
}

// rejectUnsupportedSyntax checks forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when array-of-tables is used for named sections.
func rejectUnsupportedSyntax(body []byte) error {
	if match := legacyArrayTablePattern.FindSubmatch(body); match != nil {
		section := string(match[1])
		return fmt.Errorf("[[%s]] array format is not supported; use [%s.<name>] tables with explicit order", section, section)
	}
	return nil
}

// yamlToTOML re-encodes a YAML fragment as TOML so both formats share one decoder.
// Params: YAML document body.
// Returns: TOML body or conversion error.
func yamlToTOML(body []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc == nil {
		return []byte{}, nil
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml to toml: %w", err)
	}
	return out, nil
}
