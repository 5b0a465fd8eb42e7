// Package config loads cortex configuration from YAML and validates it
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE []byte

// Config is the environment surface a cortex consumes. Backend parameters
// are carried opaquely in URL.
type Config struct {
	// URL selects the backend: mem://, pebble:///dir, sqlite:///file or a
	// postgres:// connection string.
	URL string `json:"url" yaml:"url"`

	// AllowVersionUpdates gates versioned migrations.
	AllowVersionUpdates bool `json:"allow_version_updates" yaml:"allow_version_updates"`

	// PoolSize bounds the connection pool of SQL backends.
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// XactSize is the queued-event watermark of a transaction.
	XactSize int `json:"xact_size" yaml:"xact_size"`

	CompressSavefile bool `json:"compress_savefile" yaml:"compress_savefile"`
}

// Default returns the configuration of an in-memory cortex.
func Default() Config {
	return Config{
		URL:                 "mem://",
		AllowVersionUpdates: true,
		PoolSize:            4,
		XactSize:            1000,
	}
}

// Error is a schema violation with its position in the input.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	return Parse(data, path)
}

// Parse validates YAML data and fills in schema defaults. name labels
// positions in errors.
func Parse(data []byte, name string) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrapf(err, "parse %s", name)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	cctx := cuecontext.New()
	schema := cctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, errors.Wrap(err, "compile config schema")
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(cctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err, name)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// formatCUEError reports the first schema violation.
func formatCUEError(err error, name string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	field := name
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	e := &Error{Field: field, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
