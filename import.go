package shelf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/opencontainers/go-digest"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/archive"
	"github.com/kgrid/kgrid-shelf-sub000/internal/progress"
	"github.com/kgrid/kgrid-shelf-sub000/internal/resolve"
	"github.com/kgrid/kgrid-shelf-sub000/internal/validate"
)

// Artifact is one file written by an import.
type Artifact struct {
	// Path is the store location relative to the object.
	Path   string
	Size   int64
	Digest digest.Digest
}

// ImportResult describes a completed import.
type ImportResult struct {
	ID Identifier
	// Location is the store path of the object.
	Location  string
	Artifacts []Artifact
	// MetadataDigest is computed over the canonical (RFC 8785) form of the
	// root metadata document.
	MetadataDigest digest.Digest
}

// unit is one metadata document in an archive with everything it resolves.
type unit struct {
	// dir is the unit's archive directory; offset is dir relative to the
	// root unit's directory ("" for the root).
	dir    string
	offset string
	doc    core.Document
	raw    []byte
	files  []string // unit-relative artifact locations, metadata excluded
}

// ImportArchive imports a zip stream and returns the identifier of the
// stored object.
func (s *Shelf) ImportArchive(ctx context.Context, r io.Reader, opts ...ImportOption) (Identifier, error) {
	res, err := s.Import(ctx, r, opts...)
	if err != nil {
		return Identifier{}, err
	}
	return res.ID, nil
}

// Import imports a zip stream atomically. Artifacts are staged in a
// transaction with the metadata written last; any existing object with the
// same identifier is replaced on commit. On failure the transaction is
// rolled back and nothing new is visible.
func (s *Shelf) Import(ctx context.Context, r io.Reader, opts ...ImportOption) (*ImportResult, error) {
	cfg := &importConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	rd, err := archive.Open(ctx, r,
		archive.WithLimits(s.limits),
		archive.WithTempDir(s.tempDir),
		archive.WithProgress(progress.Callback(cfg.progress.forOperation("import"))),
		archive.WithLogger(s.logger),
	)
	if err != nil {
		return nil, opError("import", Identifier{}, err)
	}
	defer func() {
		if cerr := rd.Close(); cerr != nil {
			s.logger.Warn("remove extracted archive", "error", cerr)
		}
	}()

	units, err := s.readUnits(rd)
	if err != nil {
		return nil, opError("import", Identifier{}, err)
	}
	root := units[0]

	id, err := root.doc.Identity()
	if err != nil {
		return nil, opError("import", Identifier{}, err)
	}
	loc := id.Path()
	s.logger.Debug("importing knowledge object", "id", id, "location", loc, "units", len(units))

	res, err := s.stage(ctx, rd, id, units)
	if err != nil {
		return nil, opError("import", id, err)
	}
	s.logger.Info("imported knowledge object", "id", id, "artifacts", len(res.Artifacts))
	return res, nil
}

// readUnits parses and resolves the object root and the implementations it
// names in hasImplementation. The first unit is the root, the shallowest
// metadata document. Nested metadata the root does not name is skipped so
// that an export reproduces what was stored. Nothing is written.
func (s *Shelf) readUnits(rd *archive.Reader) ([]unit, error) {
	metas := rd.Find(core.MetadataFile)
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: no %s entry", core.ErrBadArchive, core.MetadataFile)
	}

	rootDir := dirOf(metas[0])
	root, err := readUnit(rd, metas[0])
	if err != nil {
		return nil, err
	}
	root.dir = rootDir
	listed, _, err := implementationOffsets(root.doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", metas[0], err)
	}
	pending := make(map[string]struct{}, len(listed))
	for _, offset := range listed {
		pending[offset] = struct{}{}
	}

	units := []unit{root}
	for _, m := range metas[1:] {
		dir := dirOf(m)
		offset, ok := relativeTo(rootDir, dir)
		if !ok {
			s.logger.Warn("skipping metadata outside the object root", "entry", m)
			continue
		}
		if _, ok := pending[offset]; !ok {
			s.logger.Warn("skipping implementation the object does not name", "entry", m)
			continue
		}
		delete(pending, offset)
		u, err := readUnit(rd, m)
		if err != nil {
			return nil, err
		}
		u.dir, u.offset = dir, offset
		units = append(units, u)
	}
	for _, offset := range listed {
		if _, missing := pending[offset]; missing {
			return nil, fmt.Errorf("%w: implementation %s has no %s", core.ErrBadArchive, offset, core.MetadataFile)
		}
	}
	return units, nil
}

// implementationOffsets returns the unit offsets named by the relative
// hasImplementation references of doc, deduplicated in declaration order.
// References to other objects are returned separately.
func implementationOffsets(doc core.Document) (offsets, external []string, err error) {
	refs, err := doc.Strings(core.FieldImplementation)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidMetadata, core.FieldImplementation, err)
	}
	seen := map[string]struct{}{"": {}}
	for _, ref := range refs {
		offset, err := resolve.Location(ref)
		if err != nil {
			external = append(external, ref)
			continue
		}
		offset = core.ContainerPath(offset)
		if _, dup := seen[offset]; dup {
			continue
		}
		seen[offset] = struct{}{}
		offsets = append(offsets, offset)
	}
	return offsets, external, nil
}

// readUnit validates one metadata document and resolves its artifact set
// against the document's own directory.
func readUnit(rd *archive.Reader, metaEntry string) (unit, error) {
	data, err := rd.ReadEntry(metaEntry)
	if err != nil {
		return unit{}, err
	}
	doc, err := decodeMetadata(data)
	if err != nil {
		return unit{}, fmt.Errorf("%w: %s: %w", core.ErrBadArchive, metaEntry, err)
	}
	if err := validate.Metadata(doc); err != nil {
		return unit{}, fmt.Errorf("%s: %w", metaEntry, err)
	}

	dir := dirOf(metaEntry)
	in := resolve.Input{
		DeploymentPath: doc.String(core.FieldDeployment),
		ServicePath:    doc.String(core.FieldService),
	}
	if in.Deployment, err = readSpec(rd, dir, in.DeploymentPath); err != nil {
		return unit{}, err
	}
	if in.Service, err = readSpec(rd, dir, in.ServicePath); err != nil {
		return unit{}, err
	}

	set, err := resolve.Artifacts(in)
	if err != nil {
		return unit{}, fmt.Errorf("%s: %w", metaEntry, err)
	}
	u := unit{doc: doc, raw: data}
	for _, loc := range set.Sorted() {
		if loc == core.MetadataFile {
			continue
		}
		if !rd.Has(path.Join(dir, loc)) {
			return unit{}, fmt.Errorf("%w: %s: artifact %s: %w", core.ErrInvalidSpec, metaEntry, loc, core.ErrEntryNotFound)
		}
		u.files = append(u.files, loc)
	}
	return u, nil
}

// readSpec reads and parses a specification named by a metadata document.
// An empty reference means the object has no such specification.
func readSpec(rd *archive.Reader, dir, ref string) (core.Document, error) {
	if ref == "" {
		return nil, nil
	}
	loc, err := resolve.Location(ref)
	if err != nil {
		return nil, err
	}
	data, err := rd.ReadEntry(path.Join(dir, loc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrInvalidSpec, ref, err)
	}
	return resolve.ParseSpec(loc, data)
}

// stage writes every unit inside one transaction and commits it.
func (s *Shelf) stage(ctx context.Context, rd *archive.Reader, id Identifier, units []unit) (res *ImportResult, err error) {
	loc := id.Path()
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Cleanup must run even when ctx is what failed.
		if rbErr := s.store.Rollback(context.WithoutCancel(ctx), tx); rbErr != nil {
			s.logger.Warn("rollback failed", "id", id, "tx", tx, "error", rbErr)
			err = errors.Join(err, fmt.Errorf("%w: rollback: %w", core.ErrTransactionFailure, rbErr))
		}
	}()

	w := s.store.Within(tx)
	if id.HasVersion() {
		if err := w.CreateContainer(ctx, id.Unversioned().Path()); err != nil {
			return nil, err
		}
	}
	if err := w.CreateContainer(ctx, loc); err != nil {
		return nil, err
	}

	res = &ImportResult{ID: id, Location: loc}
	seen := make(map[string]struct{})
	for _, u := range units {
		for _, f := range u.files {
			rel := path.Join(u.offset, f)
			if _, dup := seen[rel]; dup {
				continue
			}
			seen[rel] = struct{}{}
			data, err := rd.ReadEntry(path.Join(u.dir, f))
			if err != nil {
				return nil, fmt.Errorf("%w: artifact %s: %w", core.ErrInvalidSpec, f, err)
			}
			if err := w.SaveBinary(ctx, path.Join(loc, rel), data); err != nil {
				return nil, err
			}
			res.Artifacts = append(res.Artifacts, Artifact{
				Path:   rel,
				Size:   int64(len(data)),
				Digest: digest.FromBytes(data),
			})
			s.logger.Debug("staged artifact", "id", id, "path", rel, "size", len(data))
		}
	}

	// Metadata last, nested units before the root.
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		if err := w.SaveMetadata(ctx, path.Join(loc, u.offset), u.doc); err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, metadataArtifact(u))
	}
	slices.SortFunc(res.Artifacts, func(a, b Artifact) int { return strings.Compare(a.Path, b.Path) })

	if res.MetadataDigest, err = canonicalDigest(units[0].doc); err != nil {
		return nil, err
	}

	// Replace on import: the old object goes only once the new one is staged.
	if err := s.store.Delete(ctx, loc); err != nil {
		return nil, err
	}
	if err := s.store.Commit(ctx, tx); err != nil {
		return nil, err
	}
	committed = true
	return res, nil
}

func metadataArtifact(u unit) Artifact {
	return Artifact{
		Path:   path.Join(u.offset, core.MetadataFile),
		Size:   int64(len(u.raw)),
		Digest: digest.FromBytes(u.raw),
	}
}

// canonicalDigest hashes the RFC 8785 canonical JSON form of doc, so equal
// documents digest equally regardless of key order or formatting.
func canonicalDigest(doc core.Document) (digest.Digest, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize metadata: %w", err)
	}
	return digest.FromBytes(canon), nil
}

// decodeMetadata accepts a JSON object, or an array whose first element is
// one.
func decodeMetadata(data []byte) (core.Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return nil, errors.New("empty metadata array")
		}
		raw = list[0]
	}
	doc, ok := core.AsDocument(raw)
	if !ok {
		return nil, errors.New("metadata is not a JSON object")
	}
	return doc, nil
}

func dirOf(entry string) string {
	d := path.Dir(entry)
	if d == "." {
		return ""
	}
	return d
}

// relativeTo returns dir relative to base when dir is base or beneath it.
func relativeTo(base, dir string) (string, bool) {
	switch {
	case base == dir:
		return "", true
	case base == "":
		return dir, true
	}
	rest, ok := strings.CutPrefix(dir, base+"/")
	return rest, ok
}
