// Package resolve computes the set of files a knowledge object depends on
// from its deployment and service specifications.
//
// Everything here is pure: no store or network access.
package resolve

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

const (
	endpointsKey  = "endpoints"
	pathsKey      = "paths"
	artifactKey   = "artifact"
	activationKey = "x-kgrid-activation"
)

// Input is the material needed to resolve one knowledge object.
type Input struct {
	// MetadataPath is the location of the metadata document, relative to
	// the object root. Empty means core.MetadataFile.
	MetadataPath string
	// DeploymentPath and ServicePath are the spec locations named by the
	// metadata document. Either may be empty.
	DeploymentPath string
	ServicePath    string
	// Deployment and Service are the parsed specs. Either may be nil.
	Deployment core.Document
	Service    core.Document
}

// Set is a de-duplicated collection of object-relative locations.
type Set map[string]struct{}

// Add inserts a location that has already been normalized.
func (s Set) Add(loc string) { s[loc] = struct{}{} }

// Contains reports whether loc is in the set.
func (s Set) Contains(loc string) bool {
	_, ok := s[loc]
	return ok
}

// Sorted returns the locations in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Artifacts returns the artifact set: the metadata path, both spec paths and
// every artifact referenced by the specs, de-duplicated by resolved location.
func Artifacts(in Input) (Set, error) {
	set := make(Set)

	meta := in.MetadataPath
	if meta == "" {
		meta = core.MetadataFile
	}
	for _, p := range []string{meta, in.DeploymentPath, in.ServicePath} {
		if p == "" {
			continue
		}
		loc, err := Location(p)
		if err != nil {
			return nil, err
		}
		set.Add(loc)
	}

	refs, err := DeploymentArtifacts(in.Deployment)
	if err != nil {
		return nil, err
	}
	svc, err := ServiceArtifacts(in.Service)
	if err != nil {
		return nil, err
	}
	for _, ref := range append(refs, svc...) {
		loc, err := Location(ref)
		if err != nil {
			return nil, err
		}
		set.Add(loc)
	}
	return set, nil
}

// DeploymentArtifacts returns the raw artifact references of a deployment
// spec. Both endpoints.<path>.artifact and the per-method form
// endpoints.<path>.<method>.artifact are read.
func DeploymentArtifacts(spec core.Document) ([]string, error) {
	if spec == nil {
		return nil, nil
	}
	endpoints, ok := spec.Map(endpointsKey)
	if !ok {
		if spec[endpointsKey] != nil {
			return nil, fmt.Errorf("%w: deployment %s is not a mapping", core.ErrInvalidSpec, endpointsKey)
		}
		return nil, nil
	}

	var refs []string
	for _, name := range sortedKeys(endpoints) {
		endpoint, ok := endpoints.Map(name)
		if !ok {
			continue
		}
		if _, has := endpoint[artifactKey]; has {
			got, err := artifactRefs(endpoint, "endpoint "+name)
			if err != nil {
				return nil, err
			}
			refs = append(refs, got...)
			continue
		}
		for _, method := range sortedKeys(endpoint) {
			m, ok := endpoint.Map(method)
			if !ok {
				continue
			}
			got, err := artifactRefs(m, "endpoint "+name+" "+method)
			if err != nil {
				return nil, err
			}
			refs = append(refs, got...)
		}
	}
	return refs, nil
}

// ServiceArtifacts returns the activation artifact references of a service
// spec, found at paths.<path>.<method>.x-kgrid-activation.artifact.
func ServiceArtifacts(spec core.Document) ([]string, error) {
	if spec == nil {
		return nil, nil
	}
	paths, ok := spec.Map(pathsKey)
	if !ok {
		return nil, nil
	}

	var refs []string
	for _, p := range sortedKeys(paths) {
		item, ok := paths.Map(p)
		if !ok {
			continue
		}
		for _, method := range sortedKeys(item) {
			op, ok := item.Map(method)
			if !ok {
				continue
			}
			activation, ok := op.Map(activationKey)
			if !ok {
				continue
			}
			got, err := artifactRefs(activation, "path "+p+" "+method)
			if err != nil {
				return nil, err
			}
			refs = append(refs, got...)
		}
	}
	return refs, nil
}

func artifactRefs(node core.Document, where string) ([]string, error) {
	refs, err := node.Strings(artifactKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s artifact: %v", core.ErrInvalidSpec, where, err)
	}
	out := refs[:0:0]
	for _, r := range refs {
		if strings.TrimSpace(r) != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// Location normalizes a reference relative to the object root. References
// that are absolute URLs or escape the object are rejected.
func Location(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && len(u.Scheme) > 1 {
		return "", fmt.Errorf("%w: %q is not a relative location", core.ErrInvalidSpec, ref)
	}
	norm := strings.TrimLeft(strings.ReplaceAll(ref, "\\", "/"), "/")
	loc := path.Clean(norm)
	if loc == ".." || strings.HasPrefix(loc, "../") {
		return "", fmt.Errorf("%w: %q escapes the object", core.ErrInvalidSpec, ref)
	}
	if loc == "." || loc == "" {
		return "", fmt.Errorf("%w: empty location %q", core.ErrInvalidSpec, ref)
	}
	return loc, nil
}

// ParseSpec decodes a specification. Files named *.json are read as JSON,
// everything else as YAML. The top level must be a mapping.
func ParseSpec(name string, data []byte) (core.Document, error) {
	var raw any
	if strings.EqualFold(path.Ext(name), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidSpec, name, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidSpec, name, err)
		}
	}
	doc, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: top level is not a mapping", core.ErrInvalidSpec, name)
	}
	return core.Document(doc), nil
}

// normalize converts YAML maps with non-string keys into string-keyed maps
// so the result has the same shape as decoded JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}

func sortedKeys(d core.Document) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
