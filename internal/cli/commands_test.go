package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/testutil"
)

func sqliteURL(t *testing.T) string {
	return "sqlite://" + filepath.Join(t.TempDir(), "cortex.db")
}

// seedSavefile writes a savefile adding three rows.
func seedSavefile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.sav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := savefile.NewWriter(f, false)
	require.NoError(t, err)
	rows := []storage.Row{
		testutil.Row(testutil.Iden(1), "kind", "host", 10),
		testutil.Row(testutil.Iden(2), "kind", "user", 20),
		testutil.Row(testutil.Iden(1), "size", 7, 30),
	}
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpAddRows, Rows: savefile.FromRows(rows)}))
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpSetBlob, Key: "sync:cursor", Blob: []byte("42")}))
	require.NoError(t, w.Close())
	return path
}

func TestBlobCommands(t *testing.T) {
	url := sqliteURL(t)

	out, err := execute(t, "--url", url, "blob", "set", "sync:cursor", "42")
	require.NoError(t, err)
	assert.Equal(t, "set sync:cursor\n", out)

	out, err = execute(t, "--url", url, "blob", "get", "sync:cursor")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	out, err = execute(t, "--url", url, "blob", "list")
	require.NoError(t, err)
	assert.Equal(t, "cortex:created\nsync:cursor\n", out)

	out, err = execute(t, "--url", url, "blob", "del", "sync:cursor")
	require.NoError(t, err)
	assert.Equal(t, "deleted sync:cursor (was 42)\n", out)

	_, err = execute(t, "--url", url, "blob", "get", "sync:cursor")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, storage.ErrNoSuchName)

	_, err = execute(t, "--url", url, "blob", "del", "sync:cursor")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestBlobList_JSON(t *testing.T) {
	out, err := execute(t, "--url", sqliteURL(t), "--format", "json", "blob", "list")
	require.NoError(t, err)

	var resp struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"cortex:created"}, resp.Data)
}

func TestLoadDumpStat(t *testing.T) {
	url := sqliteURL(t)

	out, err := execute(t, "--url", url, "load", seedSavefile(t))
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 2 records")

	out, err = execute(t, "--url", url, "dump", "kind")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, testutil.Iden(1).String()+"\tkind\t\"host\"\t10", lines[0])
	assert.Equal(t, testutil.Iden(2).String()+"\tkind\t\"user\"\t20", lines[1])

	out, err = execute(t, "--url", url, "dump", "size", "--value", "7", "--int")
	require.NoError(t, err)
	assert.Equal(t, testutil.Iden(1).String()+"\tsize\t7\t30\n", out)

	out, err = execute(t, "--url", url, "dump", "kind", "--min-time", "15")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out, err = execute(t, "--url", url, "--format", "json", "stat", "--prop", "kind", "--prop", "size")
	require.NoError(t, err)
	var resp struct {
		Data StatResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, url, resp.Data.URL)
	assert.Equal(t, int64(-1), resp.Data.Version)
	assert.NotZero(t, resp.Data.Created)
	assert.Equal(t, 2, resp.Data.Blobs)
	assert.Equal(t, []PropCount{{Prop: "kind", Rows: 2}, {Prop: "size", Rows: 1}}, resp.Data.Props)

	out, err = execute(t, "--url", url, "stat")
	require.NoError(t, err)
	assert.Contains(t, out, "version: -1")
	assert.Contains(t, out, "blobs:   2")
}

func TestDump_JSON(t *testing.T) {
	url := sqliteURL(t)
	_, err := execute(t, "--url", url, "load", seedSavefile(t))
	require.NoError(t, err)

	out, err := execute(t, "--url", url, "--format", "json", "dump", "size")
	require.NoError(t, err)
	var resp struct {
		Data []DumpRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, DumpRow{Identity: testutil.Iden(1).String(), Prop: "size", Value: float64(7), Time: 30}, resp.Data[0])
}

func TestDump_BadIntValue(t *testing.T) {
	_, err := execute(t, "--url", sqliteURL(t), "dump", "size", "--value", "seven", "--int")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "bad --value")
}

func TestDumpOut_LoadsIntoAnotherStore(t *testing.T) {
	src, dst := sqliteURL(t), "pebble://"+filepath.Join(t.TempDir(), "pebble")
	_, err := execute(t, "--url", src, "load", seedSavefile(t))
	require.NoError(t, err)

	cfgPath := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("url: "+src+"\ncompress_savefile: true\n"), 0o600))
	sav := filepath.Join(t.TempDir(), "kind.sav")
	_, err = execute(t, "--config", cfgPath, "dump", "kind", "--out", sav)
	require.NoError(t, err)

	data, err := os.ReadFile(sav)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, data[:4], "savefile should be zstd compressed")

	out, err := execute(t, "--url", dst, "load", sav)
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1 records")

	want, err := execute(t, "--url", src, "dump", "kind")
	require.NoError(t, err)
	got, err := execute(t, "--url", dst, "dump", "kind")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := execute(t, "--url", sqliteURL(t), "load", filepath.Join(t.TempDir(), "nope.sav"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open savefile")
}

func TestLoad_FailedRecordAppliesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.sav")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := savefile.NewWriter(f, false)
	require.NoError(t, err)
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpSetBlob, Key: "a", Blob: []byte("1")}))
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpDelBlob, Key: "missing"}))
	require.NoError(t, f.Close())

	url := sqliteURL(t)
	_, err = execute(t, "--url", url, "load", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, "--url", url, "blob", "list")
	require.NoError(t, err)
	assert.Equal(t, "cortex:created\n", out)
}

func TestCheck(t *testing.T) {
	out, err := execute(t, "--url", "pebble://"+filepath.Join(t.TempDir(), "pebble"), "check")
	require.NoError(t, err)
	assert.Contains(t, out, "consistent")

	_, err = execute(t, "--url", sqliteURL(t), "check")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, storage.ErrNotImplemented)
}
