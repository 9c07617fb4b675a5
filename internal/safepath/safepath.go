// Package safepath provides path validation for archive extraction and
// store locations.
package safepath

import (
	"fmt"
	"math"
	"path"
	"path/filepath"
	"strings"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

// Entry describes one archive member for limit checking.
type Entry struct {
	Name string
	Size int64
}

// Validator checks paths and archive listings.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePath checks that p is relative, contains no parent traversal and
// no NUL bytes. Both '/' and '\' are treated as separators.
func (v *Validator) ValidatePath(p string) error {
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: null byte in %q", core.ErrPathTraversal, p)
	}
	if isAbsolute(p) {
		return fmt.Errorf("%w: absolute path %q", core.ErrPathTraversal, p)
	}
	if containsTraversal(p) {
		return fmt.Errorf("%w: %q", core.ErrPathTraversal, p)
	}
	return nil
}

// ValidateEntries checks every entry name and enforces limits.
func (v *Validator) ValidateEntries(entries []Entry, limits core.ExtractLimits) error {
	if limits.MaxFiles > 0 && len(entries) > limits.MaxFiles {
		return fmt.Errorf("%w: %d entries exceeds limit of %d", core.ErrExtractLimits, len(entries), limits.MaxFiles)
	}
	var total int64
	for _, e := range entries {
		if err := v.ValidatePath(e.Name); err != nil {
			return err
		}
		if e.Size < 0 {
			return fmt.Errorf("%w: negative size for %q", core.ErrExtractLimits, e.Name)
		}
		if limits.MaxFileSize > 0 && e.Size > limits.MaxFileSize {
			return fmt.Errorf("%w: %q is %d bytes, limit %d", core.ErrExtractLimits, e.Name, e.Size, limits.MaxFileSize)
		}
		if total > math.MaxInt64-e.Size {
			return fmt.Errorf("%w: total size overflows", core.ErrExtractLimits)
		}
		total += e.Size
		if limits.MaxTotalSize > 0 && total > limits.MaxTotalSize {
			return fmt.Errorf("%w: total size exceeds limit of %d", core.ErrExtractLimits, limits.MaxTotalSize)
		}
	}
	return nil
}

// Clean validates p and returns it in canonical slash form without leading
// "./" or trailing "/". The root is "".
func (v *Validator) Clean(p string) (string, error) {
	if err := v.ValidatePath(p); err != nil {
		return "", err
	}
	c := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if c == "." {
		return "", nil
	}
	return c, nil
}

// Within joins rel onto root after validation and confirms the result
// stays under root.
func (v *Validator) Within(root, rel string) (string, error) {
	c, err := v.Clean(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(c))
	back, err := filepath.Rel(root, full)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %q", core.ErrPathTraversal, rel, root)
	}
	return full, nil
}

func containsTraversal(p string) bool {
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return true
	}
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return true
	}
	// Drive letters are rejected on every platform.
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
