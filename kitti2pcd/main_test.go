package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runArgs(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(newApp(&out, &errOut), args)
	return code, out.String(), errOut.String()
}

func TestHelp(t *testing.T) {
	for _, arg := range []string{"-h", "--help"} {
		code, stdout, _ := runArgs(arg)
		assert.Equal(t, 1, code, arg)
		assert.Contains(t, stdout, "kitti2pcd <source> <destination>", arg)
	}
}

func TestArgs(t *testing.T) {
	testCases := map[string][]string{
		"None":     nil,
		"OneArg":   {"in.bin"},
		"ThreeArg": {"a", "b", "c"},
	}
	for name, args := range testCases {
		args := args
		t.Run(name, func(t *testing.T) {
			code, _, stderr := runArgs(args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, "accepts 2 arg(s)")
		})
	}
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "000000.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 32), 0644))

	t.Run("File", func(t *testing.T) {
		dst := filepath.Join(dir, "out.pcd")
		code, stdout, _ := runArgs(src, dst)
		assert.Equal(t, 0, code)
		assert.Contains(t, stdout, "contains 32 bytes and 2 points")
		assert.FileExists(t, dst)
	})
	t.Run("MissingSource", func(t *testing.T) {
		code, _, stderr := runArgs(filepath.Join(dir, "missing.bin"), filepath.Join(dir, "x.pcd"))
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "not found")
		assert.NoFileExists(t, filepath.Join(dir, "x.pcd"))
	})
	t.Run("DestinationIsFile", func(t *testing.T) {
		srcDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.bin"), make([]byte, 16), 0644))
		code, _, stderr := runArgs(srcDir, src)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "not a directory")
	})
	t.Run("StrictFlag", func(t *testing.T) {
		short := filepath.Join(dir, "short.bin")
		require.NoError(t, os.WriteFile(short, make([]byte, 18), 0644))
		code, _, _ := runArgs(short, filepath.Join(dir, "short.pcd"))
		assert.Equal(t, 0, code)
		code, _, _ = runArgs("--strict", short, filepath.Join(dir, "short2.pcd"))
		assert.Equal(t, 1, code)
	})
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "000000.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 16), 0644))

	code, stdout, _ := runArgs("inspect", src)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, src+": 16 bytes, 1 points"), stdout)

	code, _, _ = runArgs("inspect", src, filepath.Join(dir, "missing.bin"))
	assert.Equal(t, 1, code)
}
