package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-marczewski/aifred/internal/memory"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2", 3},
		{"2^3*2", 16},
		{"-2^2", -4},
		{"2^-1", 0.5},
		{"2^3^2", 512},
		{"(1+2)*3", 9},
		{"7 % 3", 1},
		{"10 / 4", 2.5},
		{"-(3 - 5)", 2},
		{"1.5 * 2", 3},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		expr string
		msg  string
	}{
		{"", "expression is required"},
		{"   ", "expression is required"},
		{strings.Repeat("1+", 101) + "1", "expression is too long"},
		{"2 + x", "expression contains unsupported characters"},
		{"1/0", "expression result is not a finite number"},
		{"0/0", "expression result is not a finite number"},
		{"1 +", "unexpected end of expression"},
		{"(1 + 2", "missing closing parenthesis"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			_, err := Evaluate(tt.expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCalculatorCall(t *testing.T) {
	out, err := Calculator{}.Call(context.Background(), `{"expression":" 6*7 "}`)
	require.NoError(t, err)
	res := decode(t, out)
	assert.Equal(t, "6*7", res["expression"])
	assert.Equal(t, 42.0, res["result"])
}

func TestDiceClampsArguments(t *testing.T) {
	max := Dice{Intn: func(n int) int { return n - 1 }}

	out, err := max.Call(context.Background(), `{"sides": 100000, "count": 50}`)
	require.NoError(t, err)
	res := decode(t, out)
	assert.Equal(t, 1000.0, res["sides"])
	assert.Equal(t, 20.0, res["count"])
	assert.Len(t, res["rolls"], 20)
	assert.Equal(t, 20000.0, res["total"])

	out, err = max.Call(context.Background(), `{"sides": "12.9", "count": 0}`)
	require.NoError(t, err)
	res = decode(t, out)
	assert.Equal(t, 12.0, res["sides"])
	assert.Equal(t, 1.0, res["count"])
	assert.Equal(t, []any{12.0}, res["rolls"])
}

func TestDiceDefaults(t *testing.T) {
	var seen []int
	d := Dice{Intn: func(n int) int {
		seen = append(seen, n)
		return 0
	}}

	out, err := d.Call(context.Background(), `not json`)
	require.NoError(t, err)
	res := decode(t, out)
	assert.Equal(t, 6.0, res["sides"])
	assert.Equal(t, 1.0, res["count"])
	assert.Equal(t, 1.0, res["total"])
	assert.Equal(t, []int{6}, seen)
}

func TestDiceRealRandomInRange(t *testing.T) {
	out, err := Dice{}.Call(context.Background(), `{"sides": 4, "count": 20}`)
	require.NoError(t, err)
	res := decode(t, out)
	for _, r := range res["rolls"].([]any) {
		v := r.(float64)
		assert.GreaterOrEqual(t, v, 1.0)
		assert.LessOrEqual(t, v, 4.0)
	}
}

func TestClock(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	c := Clock{Now: func() time.Time { return fixed }}

	out, err := c.Call(context.Background(), `{"timezone":"America/New_York"}`)
	require.NoError(t, err)
	res := decode(t, out)
	assert.Equal(t, "America/New_York", res["timezone"])
	assert.Equal(t, "Sunday, March 15, 2026 at 10:30:00 AM EDT", res["formatted"])
	assert.Equal(t, "2026-03-15T14:30:00.000Z", res["iso_utc"])

	out, err = c.Call(context.Background(), `{}`)
	require.NoError(t, err)
	assert.Equal(t, "UTC", decode(t, out)["timezone"])

	_, err = c.Call(context.Background(), `{"timezone":"Mars/Olympus"}`)
	assert.EqualError(t, err, "invalid timezone: Mars/Olympus")
}

func TestClockDefaultTimezone(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	c := Clock{Now: func() time.Time { return fixed }, Default: "Europe/Warsaw"}

	out, err := c.Call(context.Background(), `{"timezone":"  "}`)
	require.NoError(t, err)
	res := decode(t, out)
	assert.Equal(t, "Europe/Warsaw", res["timezone"])
	assert.Equal(t, "Sunday, March 15, 2026 at 3:30:00 PM CET", res["formatted"])

	out, err = c.Call(context.Background(), `{"timezone":"UTC"}`)
	require.NoError(t, err)
	assert.Equal(t, "UTC", decode(t, out)["timezone"])
}

type fakeIngester struct {
	paths []string
	err   error
}

func (f *fakeIngester) IngestPaths(_ context.Context, paths []string) ([]memory.VaultItem, error) {
	f.paths = paths
	if f.err != nil {
		return nil, f.err
	}
	items := make([]memory.VaultItem, len(paths))
	for i, p := range paths {
		items[i] = memory.VaultItem{ID: p, Filename: filepath.Base(p)}
	}
	return items, nil
}

func TestFolderScanner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.png"), []byte("png"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "more.txt"), []byte("more"), 0644))

	ing := &fakeIngester{}
	s := FolderScanner{Ingester: ing, Desktop: true}
	args, _ := json.Marshal(map[string]any{"path": dir, "recursive": true, "fileTypes": []string{"text"}})

	out, err := s.Call(context.Background(), string(args))
	require.NoError(t, err)
	res := decode(t, out)
	assert.Equal(t, 2.0, res["matched"])
	assert.Equal(t, 2.0, res["ingested"])
	assert.Equal(t, "Ingested 2 files into Memory Vault", res["message"])
	assert.Len(t, ing.paths, 2)

	args, _ = json.Marshal(map[string]any{"path": dir, "recursive": false, "fileTypes": []string{"video"}})
	out, err = s.Call(context.Background(), string(args))
	require.NoError(t, err)
	assert.Equal(t, "No matching files found", decode(t, out)["message"])
}

func TestFolderScannerErrors(t *testing.T) {
	_, err := FolderScanner{Ingester: &fakeIngester{}}.Call(context.Background(), `{"path":"/tmp"}`)
	assert.EqualError(t, err, "scan_folder is desktop-only")

	s := FolderScanner{Ingester: &fakeIngester{}, Desktop: true}
	_, err = s.Call(context.Background(), `{"path":""}`)
	assert.EqualError(t, err, "scan_folder path is required")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	failing := FolderScanner{Ingester: &fakeIngester{err: errors.New("disk full")}, Desktop: true}
	_, err = failing.Call(context.Background(), `{"path":"`+dir+`","recursive":false,"fileTypes":[]}`)
	assert.ErrorContains(t, err, "disk full")
}

func TestRegistry(t *testing.T) {
	r := Default(nil, "")
	assert.Equal(t, []string{"calculate_expression", "get_current_time", "roll_dice"}, r.Names())
	assert.Equal(t, 3, r.Len())

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "get_current_time", defs[0].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, []string{"timezone"}, defs[0].Function.Parameters["required"])

	out, err := r.Execute(context.Background(), "delete_everything", `{}`)
	require.NoError(t, err)
	assert.Equal(t, `{"error":"Unknown tool: delete_everything"}`, out)

	out, err = r.Execute(context.Background(), "calculate_expression", `{"expression":"1/0"}`)
	require.Error(t, err)
	assert.Equal(t, `{"error":"expression result is not a finite number"}`, out)

	out, err = r.Execute(context.Background(), "calculate_expression", `{"expression":"2+2"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"expression":"2+2","result":4}`, out)
}

func TestDefaultWithScanner(t *testing.T) {
	r := Default(&FolderScanner{Desktop: true}, "Europe/Warsaw")
	_, ok := r.Lookup("scan_folder")
	assert.True(t, ok)
	assert.Len(t, r.Definitions(), 4)

	tool, ok := r.Lookup("get_current_time")
	require.True(t, ok)
	assert.Equal(t, "Europe/Warsaw", tool.(Clock).Default)
}
