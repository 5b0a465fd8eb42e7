package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONRender(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	called := false
	err := formatter.Render(map[string]int{"rows": 3}, func(io.Writer) { called = true })
	require.NoError(t, err)
	assert.False(t, called)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"rows": float64(3)}, resp.Data)
}

func TestOutputFormatter_TextRender(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Render(nil, func(w io.Writer) { fmt.Fprintln(w, "3 rows") })
	require.NoError(t, err)
	assert.Equal(t, "3 rows\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("E_CHECK", "store is inconsistent", []string{"rows"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CHECK", resp.Error.Code)
	assert.Equal(t, "store is inconsistent", resp.Error.Message)
	assert.Equal(t, []any{"rows"}, resp.Data)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("E_CHECK", "store is inconsistent", nil))
	assert.Equal(t, "Error [E_CHECK]: store is inconsistent\n", buf.String())
}

func TestExitError(t *testing.T) {
	base := errors.New("disk gone")
	err := WrapExitError(ExitCommandError, "open store", base)
	assert.Equal(t, "open store: disk gone", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Equal(t, ExitCommandError, GetExitCode(errors.Wrap(err, "stat")))

	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
	assert.Equal(t, ExitFailure, GetExitCode(base))
}
