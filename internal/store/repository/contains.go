package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// LDP vocabulary used when reading container listings.
const (
	ldpNS            = "http://www.w3.org/ns/ldp#"
	fedoraNS         = "http://fedora.info/definitions/v4/repository#"
	expandedContains = ldpNS + "contains"
)

// stringList decodes a JSON string or array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*l = nil
		return nil
	case b[0] == '[':
		var many []string
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*l = many
		return nil
	default:
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*l = stringList{one}
		return nil
	}
}

// containsRef is one member of an LDP container.
type containsRef struct {
	ID    string
	Types []string
}

// containsList normalizes every shape the contains relation takes: a bare
// IRI string, an object with @id (possibly an embedded resource carrying
// @type), or an array of either.
type containsList []containsRef

func (l *containsList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	switch b[0] {
	case '"':
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*l = containsList{{ID: id}}
		return nil
	case '{':
		var obj struct {
			ID   string     `json:"@id"`
			Type stringList `json:"@type"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.ID == "" {
			return fmt.Errorf("contains entry without @id")
		}
		*l = containsList{{ID: obj.ID, Types: obj.Type}}
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make(containsList, 0, len(raw))
		for _, r := range raw {
			var one containsList
			if err := one.UnmarshalJSON(r); err != nil {
				return err
			}
			out = append(out, one...)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("unexpected contains value %s", b)
	}
}

// ldpNode is one resource description in a compacted or expanded response.
type ldpNode struct {
	ID          string       `json:"@id"`
	Type        stringList   `json:"@type"`
	Contains    containsList `json:"contains"`
	LDPContains containsList `json:"ldp:contains"`
	Expanded    containsList `json:"http://www.w3.org/ns/ldp#contains"`
}

func (n ldpNode) members() containsList {
	out := make(containsList, 0, len(n.Contains)+len(n.LDPContains)+len(n.Expanded))
	out = append(out, n.Contains...)
	out = append(out, n.LDPContains...)
	return append(out, n.Expanded...)
}

// parseNodes reads a listing response: a single node, a node with @graph,
// or an array of nodes.
func parseNodes(body []byte) ([]ldpNode, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var nodes []ldpNode
		if err := json.Unmarshal(body, &nodes); err != nil {
			return nil, err
		}
		return nodes, nil
	}
	var doc struct {
		Graph []ldpNode `json:"@graph"`
		ldpNode
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Graph) > 0 {
		return doc.Graph, nil
	}
	return []ldpNode{doc.ldpNode}, nil
}

// containerNames returns the names of the containers a listing reports for
// subject. Members typed as binaries are skipped.
func containerNames(nodes []ldpNode, subject string) []string {
	types := make(map[string][]string, len(nodes))
	var owner *ldpNode
	for i := range nodes {
		n := &nodes[i]
		types[trimIRI(n.ID)] = n.Type
		if owner == nil && len(n.members()) > 0 {
			owner = n
		}
		if trimIRI(n.ID) == trimIRI(subject) && len(n.members()) > 0 {
			owner = n
		}
	}
	if owner == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var names []string
	for _, ref := range owner.members() {
		t := ref.Types
		if len(t) == 0 {
			t = types[trimIRI(ref.ID)]
		}
		if isBinary(t) {
			continue
		}
		name := lastSegment(ref.ID)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func isBinary(types []string) bool {
	for _, t := range types {
		switch t {
		case "ldp:NonRDFSource", ldpNS + "NonRDFSource", "fedora:Binary", fedoraNS + "Binary", "NonRDFSource", "Binary":
			return true
		}
	}
	return false
}

func trimIRI(s string) string {
	return strings.TrimSuffix(s, "/")
}

func lastSegment(iri string) string {
	p := trimIRI(iri)
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}
