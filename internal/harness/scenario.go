package harness

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Scenario is one conformance scenario.
type Scenario struct {
	// Name names the golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// XactSize overrides the transaction watermark. Zero keeps the default.
	XactSize int `yaml:"xact_size,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpAdd         = "add"
	OpSet         = "set"
	OpDelIden     = "del_iden"
	OpDelIdenProp = "del_iden_prop"
	OpDelProp     = "del_prop"
	OpDelJoin     = "del_join"
	OpBlobSet     = "blob_set"
	OpBlobDel     = "blob_del"
)

// Step is one mutation.
type Step struct {
	Op      string    `yaml:"op"`
	Rows    []RowSpec `yaml:"rows,omitempty"`
	Iden    string    `yaml:"iden,omitempty"`
	Prop    string    `yaml:"prop,omitempty"`
	Value   any       `yaml:"value,omitempty"`
	MinTime uint64    `yaml:"min_time,omitempty"`
	MaxTime uint64    `yaml:"max_time,omitempty"`
	Key     string    `yaml:"key,omitempty"`
	Blob    string    `yaml:"blob,omitempty"`

	// Error names the error kind the step must fail with. See errorKinds.
	Error string `yaml:"error,omitempty"`
}

// RowSpec is a row with an aliased identity.
type RowSpec struct {
	Iden  string `yaml:"iden"`
	Prop  string `yaml:"prop"`
	Value any    `yaml:"value"`
	Time  uint64 `yaml:"time"`
}

// Assertion types.
const (
	AssertRowsByIden  = "rows_by_iden"
	AssertRowsByProp  = "rows_by_prop"
	AssertSizeByProp  = "size_by_prop"
	AssertJoinByProp  = "join_by_prop"
	AssertRange       = "range"
	AssertSizeByRange = "size_by_range"
	AssertBlob        = "blob"
	AssertBlobAbsent  = "blob_absent"
	AssertBlobKeys    = "blob_keys"
)

// Assertion checks the state after the steps ran.
type Assertion struct {
	Type string `yaml:"type"`

	// Query fields
	Iden    string `yaml:"iden,omitempty"`
	Prop    string `yaml:"prop,omitempty"`
	Value   any    `yaml:"value,omitempty"`
	MinTime uint64 `yaml:"min_time,omitempty"`
	MaxTime uint64 `yaml:"max_time,omitempty"`
	Limit   int    `yaml:"limit,omitempty"`

	// Range handler name and arguments
	Name string `yaml:"name,omitempty"`
	Args []any  `yaml:"args,omitempty"`

	Key string `yaml:"key,omitempty"`

	// Expectations. Count and Values are optional for row queries; Count is
	// required for sizes.
	Count  *int     `yaml:"count,omitempty"`
	Values []any    `yaml:"values,omitempty"`
	Blob   string   `yaml:"blob,omitempty"`
	Keys   []string `yaml:"keys,omitempty"`
	Error  string   `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario file")
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Wrap(err, "parse scenario")
	}
	if err := validateScenario(&sc); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}
	return &sc, nil
}

var knownOps = map[string]bool{
	OpAdd: true, OpSet: true, OpDelIden: true, OpDelIdenProp: true,
	OpDelProp: true, OpDelJoin: true, OpBlobSet: true, OpBlobDel: true,
}

var knownAssertions = map[string]bool{
	AssertRowsByIden: true, AssertRowsByProp: true, AssertSizeByProp: true,
	AssertJoinByProp: true, AssertRange: true, AssertSizeByRange: true,
	AssertBlob: true, AssertBlobAbsent: true, AssertBlobKeys: true,
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	for i, st := range s.Steps {
		if !knownOps[st.Op] {
			return errors.Newf("steps[%d]: unknown op %q", i, st.Op)
		}
		if st.Op == OpAdd && len(st.Rows) == 0 {
			return errors.Newf("steps[%d]: add needs rows", i)
		}
		if st.Error != "" {
			if _, ok := errorKinds[st.Error]; !ok {
				return errors.Newf("steps[%d]: unknown error kind %q", i, st.Error)
			}
		}
	}
	for i, a := range s.Assertions {
		if !knownAssertions[a.Type] {
			return errors.Newf("assertions[%d]: unknown type %q", i, a.Type)
		}
		if (a.Type == AssertSizeByProp || a.Type == AssertSizeByRange) && a.Count == nil && a.Error == "" {
			return errors.Newf("assertions[%d]: %s needs count", i, a.Type)
		}
		if a.Error != "" {
			if _, ok := errorKinds[a.Error]; !ok {
				return errors.Newf("assertions[%d]: unknown error kind %q", i, a.Error)
			}
		}
	}
	return nil
}
