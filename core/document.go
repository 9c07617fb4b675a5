package core

import (
	"fmt"
	"path"
	"strings"
)

// MetadataFile is the name of the metadata document inside a knowledge object.
const MetadataFile = "metadata.json"

// Metadata document field names.
const (
	FieldID             = "@id"
	FieldType           = "@type"
	FieldDeployment     = "hasDeploymentSpecification"
	FieldService        = "hasServiceSpecification"
	FieldImplementation = "hasImplementation"
	FieldIdentifier     = "identifier"
	FieldVersion        = "version"
)

// Document is a JSON-like tree: a metadata document or a parsed specification.
type Document map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Strings returns the value of key as a list. A scalar string yields a
// one-element list; a missing key yields nil.
func (d Document) Strings(key string) ([]string, error) {
	return StringList(d[key])
}

// Map returns the value of key as a Document when it is a mapping.
func (d Document) Map(key string) (Document, bool) {
	return AsDocument(d[key])
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

// Identity derives the identifier a metadata document declares: its @id when
// that parses, otherwise the identifier and version fields.
func (d Document) Identity() (Identifier, error) {
	if raw := d.String(FieldID); raw != "" {
		if id, err := ParseIdentifier(raw); err == nil {
			return id, nil
		}
	}
	if raw := d.String(FieldIdentifier); raw != "" {
		id, err := ParseIdentifier(raw)
		if err == nil {
			if v := d.String(FieldVersion); v != "" && !id.HasVersion() {
				return NewIdentifier(id.Naan(), id.Name(), v)
			}
			return id, nil
		}
	}
	return Identifier{}, fmt.Errorf("%w: no usable @id or identifier", ErrInvalidMetadata)
}

// AsDocument converts a decoded mapping to a Document.
func AsDocument(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return Document(m), true
	default:
		return nil, false
	}
}

// StringList accepts a string, a list of strings, or nil.
func StringList(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want string", i, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is %T, want string or list of strings", v)
	}
}

// IsMetadataPath reports whether p names a metadata document.
func IsMetadataPath(p string) bool {
	return p == MetadataFile || strings.HasSuffix(p, "/"+MetadataFile)
}

// MetadataPath returns the metadata document location for p, which may name
// either a container or the metadata document itself.
func MetadataPath(p string) string {
	if IsMetadataPath(p) {
		return p
	}
	if p == "" {
		return MetadataFile
	}
	return path.Join(p, MetadataFile)
}

// ContainerPath strips a trailing metadata file name from p.
func ContainerPath(p string) string {
	if !IsMetadataPath(p) {
		return p
	}
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(x)).(map[string]any))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
