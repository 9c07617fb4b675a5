package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kgrid/kgrid-shelf-sub000/core"
)

// KOIONamespace is the vocabulary shelf metadata terms are written in.
const KOIONamespace = "http://kgrid.org/koio#"

const contextKey = "@context"

// declaredIDKey holds the document's own @id, since the subject of a PUT
// must be the target resource.
const declaredIDKey = "declaredId"

// serverPrefixes mark properties the repository manages itself.
var serverPrefixes = []string{
	"fedora:", fedoraNS,
	"ldp:", ldpNS,
	"premis:", "http://www.loc.gov/premis/rdf/v1#",
	"rdf:", "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"ebucore:", "http://www.ebu.ch/metadata/ontologies/ebucore/ebucore#",
	"iana:", "http://www.iana.org/assignments/relation/",
}

// toRepository prepares a metadata document for a JSON-LD PUT. Terms are
// mapped into the KOIO vocabulary and the subject is the target resource.
func toRepository(doc core.Document) ([]byte, error) {
	out := doc.Clone()
	if out == nil {
		out = core.Document{}
	}
	out[contextKey] = map[string]any{
		"@vocab": KOIONamespace,
		"koio":   KOIONamespace,
	}
	if id := out.String(core.FieldID); id != "" {
		out[declaredIDKey] = id
	}
	out[core.FieldID] = ""
	return json.Marshal(out)
}

// fromRepository reads a compacted JSON-LD response and returns the document
// describing subject with repository-managed properties removed and
// vocabulary prefixes stripped. The declared @id is restored; documents saved
// without one get the subject's path relative to root.
func fromRepository(body []byte, subject, root string) (core.Document, error) {
	var raw any
	if err := json.Unmarshal(bytes.TrimSpace(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", core.ErrInvalidMetadata, subject, err)
	}
	node, ok := pickNode(raw, subject)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no JSON-LD object", core.ErrInvalidMetadata, subject)
	}

	out := make(core.Document, len(node))
	for k, v := range node {
		if k == contextKey || isServerManaged(k) {
			continue
		}
		out[localName(k)] = literal(v)
	}
	if declared := out.String(declaredIDKey); declared != "" {
		out[core.FieldID] = declared
	} else if id := out.String(core.FieldID); id != "" {
		out[core.FieldID] = relativeID(id, root)
	}
	delete(out, declaredIDKey)
	if t, ok := out[core.FieldType]; ok {
		out[core.FieldType] = pickType(t)
	}
	return out, nil
}

func pickNode(raw any, subject string) (map[string]any, bool) {
	switch v := raw.(type) {
	case []any:
		if len(v) == 0 {
			return nil, false
		}
		return pickNode(v[0], subject)
	case map[string]any:
		graph, ok := v["@graph"].([]any)
		if !ok || len(graph) == 0 {
			return v, true
		}
		for _, g := range graph {
			if m, ok := g.(map[string]any); ok {
				if id, _ := m[core.FieldID].(string); trimIRI(id) == trimIRI(subject) {
					return m, true
				}
			}
		}
		m, ok := graph[0].(map[string]any)
		return m, ok
	default:
		return nil, false
	}
}

func isServerManaged(key string) bool {
	for _, p := range serverPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return key == "contains"
}

func localName(key string) string {
	if rest, ok := strings.CutPrefix(key, KOIONamespace); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(key, "koio:"); ok {
		return rest
	}
	return key
}

// literal unwraps {"@value": ...} objects, recursively.
func literal(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if val, ok := x["@value"]; ok {
			return val
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[localName(k)] = literal(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = literal(e)
		}
		return out
	default:
		return v
	}
}

func relativeID(id, root string) string {
	rel, ok := strings.CutPrefix(id, root)
	if !ok {
		return id
	}
	return strings.Trim(rel, "/")
}

// pickType keeps the knowledge object type out of the repository's list of
// RDF types.
func pickType(t any) any {
	list, err := core.StringList(t)
	if err != nil || len(list) == 0 {
		return t
	}
	for _, s := range list {
		if strings.HasSuffix(s, "KnowledgeObject") || strings.HasSuffix(s, "Implementation") {
			if rest, ok := strings.CutPrefix(s, KOIONamespace); ok {
				return "koio:" + rest
			}
			return s
		}
	}
	if len(list) == 1 {
		return list[0]
	}
	return t
}
