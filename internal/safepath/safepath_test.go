package safepath

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

func TestValidator_ValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "simple file", path: "foo.txt"},
		{name: "nested path", path: "naan-name-v1/src/index.js"},
		{name: "dot prefix", path: "./foo/bar"},
		{name: "single dot component", path: "foo/./bar"},
		{name: "empty path", path: ""},
		{name: "double dot not as component", path: "foo..bar"},
		{name: "triple dot", path: ".../foo"},
		{name: "parent traversal at start", path: "../foo", wantErr: core.ErrPathTraversal},
		{name: "parent traversal in middle", path: "foo/../bar", wantErr: core.ErrPathTraversal},
		{name: "parent traversal at end", path: "foo/bar/..", wantErr: core.ErrPathTraversal},
		{name: "absolute path unix", path: "/etc/passwd", wantErr: core.ErrPathTraversal},
		{name: "null byte", path: "foo\x00bar", wantErr: core.ErrPathTraversal},
		{name: "backslash traversal", path: "foo\\..\\bar", wantErr: core.ErrPathTraversal},
		{name: "mixed slash traversal", path: "foo/..\\bar", wantErr: core.ErrPathTraversal},
		{name: "drive letter", path: "C:\\Windows", wantErr: core.ErrPathTraversal},
		{name: "drive relative", path: "c:relative", wantErr: core.ErrPathTraversal},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.ValidatePath(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr, "ValidatePath(%q)", tt.path)
			} else {
				assert.NoError(t, err, "ValidatePath(%q)", tt.path)
			}
		})
	}
}

func TestValidator_ValidateEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []Entry
		limits  core.ExtractLimits
		wantErr error
	}{
		{
			name:    "no limits",
			entries: []Entry{{Name: "a.txt", Size: 100}, {Name: "dir/b.txt", Size: 200}},
		},
		{
			name:    "exactly at limits",
			entries: []Entry{{Name: "a.txt", Size: 500}, {Name: "b.txt", Size: 500}},
			limits:  core.ExtractLimits{MaxFiles: 2, MaxTotalSize: 1000, MaxFileSize: 500},
		},
		{
			name:    "one over max files",
			entries: []Entry{{Name: "a"}, {Name: "b"}, {Name: "c"}},
			limits:  core.ExtractLimits{MaxFiles: 2},
			wantErr: core.ErrExtractLimits,
		},
		{
			name:    "one byte over total",
			entries: []Entry{{Name: "a", Size: 500}, {Name: "b", Size: 501}},
			limits:  core.ExtractLimits{MaxTotalSize: 1000},
			wantErr: core.ErrExtractLimits,
		},
		{
			name:    "one byte over file size",
			entries: []Entry{{Name: "a", Size: 501}},
			limits:  core.ExtractLimits{MaxFileSize: 500},
			wantErr: core.ErrExtractLimits,
		},
		{
			name:    "negative size",
			entries: []Entry{{Name: "a", Size: -1}},
			wantErr: core.ErrExtractLimits,
		},
		{
			name:    "size overflow",
			entries: []Entry{{Name: "a", Size: math.MaxInt64}, {Name: "b", Size: 1}},
			wantErr: core.ErrExtractLimits,
		},
		{
			name:    "traversal entry",
			entries: []Entry{{Name: "../../etc/passwd", Size: 1}},
			wantErr: core.ErrPathTraversal,
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.ValidateEntries(tt.entries, tt.limits)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_Clean(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	tests := map[string]string{
		"":                   "",
		".":                  "",
		"./src/index.js":     "src/index.js",
		"src//index.js":      "src/index.js",
		"naan-name/v1/":      "naan-name/v1",
		"src\\win\\file.txt": "src/win/file.txt",
	}
	for in, want := range tests {
		got, err := v.Clean(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := v.Clean("a/../../b")
	require.ErrorIs(t, err, core.ErrPathTraversal)
}

func TestValidator_Within(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	v := NewValidator()

	got, err := v.Within(root, "naan-name/v1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "naan-name", "v1"), got)

	got, err = v.Within(root, "")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = v.Within(root, "../outside")
	require.ErrorIs(t, err, core.ErrPathTraversal)
}
