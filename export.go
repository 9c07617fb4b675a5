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

	"golang.org/x/sync/errgroup"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/archive"
	"github.com/kgrid/kgrid-shelf-sub000/internal/progress"
	"github.com/kgrid/kgrid-shelf-sub000/internal/resolve"
)

// exportUnit is a stored metadata document and the locations it resolves,
// relative to the object.
type exportUnit struct {
	offset string
	doc    core.Document
	files  []string
}

// ExportArchive writes the object named by id to w as a zip rooted at
// id.Dash(). Every artifact must be readable; a partial export is an error.
func (s *Shelf) ExportArchive(ctx context.Context, id Identifier, w io.Writer, opts ...ExportOption) error {
	cfg := &exportConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	entries, err := s.collect(ctx, id, cfg)
	if err != nil {
		return opError("export", id, err)
	}
	if err := archive.Pack(ctx, w, entries); err != nil {
		return opError("export", id, err)
	}
	s.logger.Info("exported knowledge object", "id", id, "entries", len(entries))
	return nil
}

// ExportEntries returns the archive entry names ExportArchive would write,
// in order, without reading artifact contents.
func (s *Shelf) ExportEntries(ctx context.Context, id Identifier) ([]string, error) {
	units, err := s.exportUnits(ctx, id)
	if err != nil {
		return nil, opError("export", id, err)
	}
	var names []string
	for _, u := range units {
		names = append(names, path.Join(id.Dash(), u.offset, core.MetadataFile))
		for _, f := range u.files {
			names = append(names, path.Join(id.Dash(), u.offset, f))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// collect reads everything the object consists of. Artifact reads run
// concurrently.
func (s *Shelf) collect(ctx context.Context, id Identifier, cfg *exportConfig) ([]archive.Entry, error) {
	units, err := s.exportUnits(ctx, id)
	if err != nil {
		return nil, err
	}

	loc := id.Path()
	root := id.Dash()
	byName := make(map[string]archive.Entry)
	var fetch []string
	for _, u := range units {
		data, err := json.MarshalIndent(u.doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		name := path.Join(root, u.offset, core.MetadataFile)
		byName[name] = archive.Entry{Name: name, Data: data}
		for _, f := range u.files {
			rel := path.Join(u.offset, f)
			name := path.Join(root, rel)
			if _, ok := byName[name]; ok {
				continue
			}
			byName[name] = archive.Entry{Name: name}
			fetch = append(fetch, rel)
		}
	}
	slices.Sort(fetch)

	blobs := make([][]byte, len(fetch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.exportConcurrency)
	for i, rel := range fetch {
		g.Go(func() error {
			data, err := s.store.Binary(gctx, path.Join(loc, rel))
			if err != nil {
				return fmt.Errorf("read artifact %s: %w", rel, err)
			}
			blobs[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int64
	for _, b := range blobs {
		total += int64(len(b))
	}
	counter := progress.NewCounter(total, progress.Callback(cfg.progress.forOperation("export")))
	for i, rel := range fetch {
		name := path.Join(root, rel)
		byName[name] = archive.Entry{Name: name, Data: blobs[i]}
		counter.Add(int64(len(blobs[i])))
		s.logger.Debug("exported artifact", "id", id, "path", rel, "size", len(blobs[i]))
	}

	entries := make([]archive.Entry, 0, len(byName))
	for _, e := range byName {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b archive.Entry) int { return strings.Compare(a.Name, b.Name) })
	return entries, nil
}

// exportUnits reads the root metadata and every implementation it names,
// resolving each unit's artifact set from the specs held in the store.
func (s *Shelf) exportUnits(ctx context.Context, id Identifier) ([]exportUnit, error) {
	loc := id.Path()
	root, err := s.readExportUnit(ctx, loc, "")
	if err != nil {
		return nil, err
	}
	units := []exportUnit{root}

	offsets, external, err := implementationOffsets(root.doc)
	if err != nil {
		return nil, err
	}
	for _, ref := range external {
		// References to other objects are not part of this archive.
		s.logger.Debug("skipping external implementation", "id", id, "ref", ref)
	}
	for _, offset := range offsets {
		u, err := s.readExportUnit(ctx, loc, offset)
		if err != nil {
			return nil, fmt.Errorf("implementation %s: %w", offset, err)
		}
		units = append(units, u)
	}
	return units, nil
}

func (s *Shelf) readExportUnit(ctx context.Context, loc, offset string) (exportUnit, error) {
	base := path.Join(loc, offset)
	doc, err := s.store.Metadata(ctx, base)
	if err != nil {
		return exportUnit{}, err
	}

	in := resolve.Input{
		DeploymentPath: doc.String(core.FieldDeployment),
		ServicePath:    doc.String(core.FieldService),
	}
	if in.Deployment, err = s.storedSpec(ctx, base, in.DeploymentPath); err != nil {
		return exportUnit{}, err
	}
	if in.Service, err = s.storedSpec(ctx, base, in.ServicePath); err != nil {
		return exportUnit{}, err
	}
	set, err := resolve.Artifacts(in)
	if err != nil {
		return exportUnit{}, err
	}

	u := exportUnit{offset: offset, doc: doc}
	for _, f := range set.Sorted() {
		if f != core.MetadataFile {
			u.files = append(u.files, f)
		}
	}
	return u, nil
}

// storedSpec reads and parses a specification held in the store under base.
func (s *Shelf) storedSpec(ctx context.Context, base, ref string) (core.Document, error) {
	if ref == "" {
		return nil, nil
	}
	loc, err := resolve.Location(ref)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Binary(ctx, path.Join(base, loc))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrInvalidSpec, ref, err)
		}
		return nil, err
	}
	return resolve.ParseSpec(loc, data)
}
