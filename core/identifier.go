package core

import (
	"fmt"
	"strings"
	"unicode"
)

const arkPrefix = "ark:"

// Identifier names a knowledge object, or one version of it.
//
// The zero value is not a valid identifier. Identifiers are comparable, and
// an identifier with a version never equals one without.
type Identifier struct {
	naan    string
	name    string
	version string
}

// NewIdentifier builds an identifier from its parts. An empty version means
// the identifier is unversioned.
func NewIdentifier(naan, name, version string) (Identifier, error) {
	if err := checkToken("naan", naan, true); err != nil {
		return Identifier{}, err
	}
	if err := checkToken("name", name, true); err != nil {
		return Identifier{}, err
	}
	if version != "" {
		if err := checkToken("version", version, false); err != nil {
			return Identifier{}, err
		}
	}
	return Identifier{naan: naan, name: name, version: version}, nil
}

func checkToken(field, v string, noDash bool) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidIdentifier, field)
	}
	for _, r := range v {
		switch {
		case r == '/':
			return fmt.Errorf("%w: %s %q contains '/'", ErrInvalidIdentifier, field, v)
		case noDash && r == '-':
			return fmt.Errorf("%w: %s %q contains '-'", ErrInvalidIdentifier, field, v)
		case unicode.IsSpace(r) || r == 0:
			return fmt.Errorf("%w: %s %q contains whitespace", ErrInvalidIdentifier, field, v)
		}
	}
	return nil
}

// ParseIdentifier accepts any rendering produced by String, Slash, Dash or
// Path. A trailing slash is ignored.
func ParseIdentifier(s string) (Identifier, error) {
	raw := strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(raw, arkPrefix); ok {
		raw = strings.TrimPrefix(rest, "/")
	}
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return Identifier{}, fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
	}

	if strings.Contains(raw, "/") {
		parts := strings.Split(raw, "/")
		if strings.Contains(parts[0], "-") {
			// naan-name[/version]
			if len(parts) > 2 {
				return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
			}
			naan, name, _ := strings.Cut(parts[0], "-")
			version := ""
			if len(parts) == 2 {
				version = parts[1]
			}
			return NewIdentifier(naan, name, version)
		}
		switch len(parts) {
		case 2:
			return NewIdentifier(parts[0], parts[1], "")
		case 3:
			return NewIdentifier(parts[0], parts[1], parts[2])
		default:
			return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
		}
	}

	parts := strings.SplitN(raw, "-", 3)
	switch len(parts) {
	case 2:
		return NewIdentifier(parts[0], parts[1], "")
	case 3:
		return NewIdentifier(parts[0], parts[1], parts[2])
	default:
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
}

// Naan returns the name assigning authority number.
func (id Identifier) Naan() string { return id.naan }

// Name returns the object name.
func (id Identifier) Name() string { return id.name }

// Version returns the version, or "" for an unversioned identifier.
func (id Identifier) Version() string { return id.version }

// HasVersion reports whether the identifier names a specific version.
func (id Identifier) HasVersion() bool { return id.version != "" }

// IsZero reports whether id is the zero value.
func (id Identifier) IsZero() bool { return id == Identifier{} }

// Unversioned returns the identifier without its version.
func (id Identifier) Unversioned() Identifier {
	return Identifier{naan: id.naan, name: id.name}
}

// Equal reports whether both identifiers name the same object and version.
func (id Identifier) Equal(other Identifier) bool { return id == other }

// String returns the canonical form ark:/naan/name[/version].
func (id Identifier) String() string {
	return arkPrefix + "/" + id.Slash()
}

// Slash returns naan/name[/version].
func (id Identifier) Slash() string {
	if id.version == "" {
		return id.naan + "/" + id.name
	}
	return id.naan + "/" + id.name + "/" + id.version
}

// Dash returns naan-name[-version], the root directory used in archives.
func (id Identifier) Dash() string {
	if id.version == "" {
		return id.naan + "-" + id.name
	}
	return id.naan + "-" + id.name + "-" + id.version
}

// Path returns naan-name[/version], the location of the object in a store.
func (id Identifier) Path() string {
	if id.version == "" {
		return id.naan + "-" + id.name
	}
	return id.naan + "-" + id.name + "/" + id.version
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentifier(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
