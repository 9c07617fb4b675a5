package shelf

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/kgrid/kgrid-shelf-sub000/core"
	"github.com/kgrid/kgrid-shelf-sub000/internal/safepath"
	"github.com/kgrid/kgrid-shelf-sub000/internal/validate"
)

// GetMetadata returns the metadata document of id. An optional sub-path
// selects the metadata of a nested implementation.
func (s *Shelf) GetMetadata(ctx context.Context, id Identifier, sub ...string) (Document, error) {
	loc, err := objectPath(id, sub...)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Metadata(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", id, err)
	}
	return doc, nil
}

// GetBinary returns the file at rel inside the object.
func (s *Shelf) GetBinary(ctx context.Context, id Identifier, rel string) ([]byte, error) {
	if strings.Trim(rel, "/") == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}
	loc, err := objectPath(id, rel)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Binary(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("binary %s %s: %w", id, rel, err)
	}
	return data, nil
}

// Delete removes the object and everything beneath it. An unversioned
// identifier removes every version. Deleting a missing object succeeds.
func (s *Shelf) Delete(ctx context.Context, id Identifier) error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero identifier", ErrInvalidIdentifier)
	}
	if err := s.store.Delete(ctx, id.Path()); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.logger.Info("deleted knowledge object", "id", id)
	return nil
}

// ListAll returns every stored object, sorted by canonical form. Entries
// whose metadata cannot be read are logged and skipped.
func (s *Shelf) ListAll(ctx context.Context) ([]Identifier, error) {
	tops, err := s.store.Children(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	seen := make(map[Identifier]string)
	var ids []Identifier
	add := func(loc string) {
		id, ok := s.identify(ctx, loc)
		if !ok {
			return
		}
		if prev, dup := seen[id]; dup {
			s.logger.Warn("duplicate knowledge object identity", "id", id, "location", loc, "first", prev)
			return
		}
		seen[id] = loc
		ids = append(ids, id)
	}

	for _, top := range tops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		add(top)
		versions, err := s.store.Children(ctx, top)
		if err != nil {
			s.logger.Warn("skipping unreadable container", "location", top, "error", err)
			continue
		}
		for _, v := range versions {
			add(path.Join(top, v))
		}
	}

	slices.SortFunc(ids, func(a, b Identifier) int { return strings.Compare(a.String(), b.String()) })
	return ids, nil
}

// identify derives the identity of the object stored at loc. Containers
// without metadata are not objects.
func (s *Shelf) identify(ctx context.Context, loc string) (Identifier, bool) {
	doc, err := s.store.Metadata(ctx, loc)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return Identifier{}, false
	case err != nil:
		s.logger.Warn("skipping unreadable metadata", "location", loc, "error", err)
		return Identifier{}, false
	}
	if id, err := doc.Identity(); err == nil {
		return id, true
	}
	id, err := core.ParseIdentifier(loc)
	if err != nil {
		s.logger.Warn("skipping metadata without identity", "location", loc, "error", err)
		return Identifier{}, false
	}
	return id, true
}

// EditMetadata validates doc and replaces the metadata of an existing
// object. The document must still identify the same object.
func (s *Shelf) EditMetadata(ctx context.Context, id Identifier, doc Document) error {
	if err := validate.Metadata(doc); err != nil {
		return opError("edit", id, err)
	}
	if declared, err := doc.Identity(); err == nil && declared != id {
		return opError("edit", id, fmt.Errorf("%w: document identifies %s", ErrInvalidMetadata, declared))
	}

	loc := id.Path()
	if _, err := s.store.Metadata(ctx, loc); err != nil {
		return opError("edit", id, err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return opError("edit", id, err)
	}
	err = s.store.Within(tx).SaveMetadata(ctx, loc, doc)
	if err == nil {
		err = s.store.Commit(ctx, tx)
	}
	if err != nil {
		if rbErr := s.store.Rollback(context.WithoutCancel(ctx), tx); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: rollback: %w", ErrTransactionFailure, rbErr))
		}
		return opError("edit", id, err)
	}
	s.logger.Info("edited metadata", "id", id)
	return nil
}

// DeploymentSpec returns the parsed deployment specification of id.
func (s *Shelf) DeploymentSpec(ctx context.Context, id Identifier) (Document, error) {
	return s.spec(ctx, id, core.FieldDeployment)
}

// ServiceSpec returns the parsed service specification of id.
func (s *Shelf) ServiceSpec(ctx context.Context, id Identifier) (Document, error) {
	return s.spec(ctx, id, core.FieldService)
}

func (s *Shelf) spec(ctx context.Context, id Identifier, field string) (Document, error) {
	doc, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	ref := doc.String(field)
	if ref == "" {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotFound, id, field)
	}
	spec, err := s.storedSpec(ctx, id.Path(), ref)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", field, id, err)
	}
	return spec, nil
}

// objectPath joins optional sub-paths onto the object location after
// validating them.
func objectPath(id Identifier, sub ...string) (string, error) {
	if id.IsZero() {
		return "", fmt.Errorf("%w: zero identifier", ErrInvalidIdentifier)
	}
	parts := []string{id.Path()}
	v := safepath.NewValidator()
	for _, p := range sub {
		clean, err := v.Clean(p)
		if err != nil {
			return "", err
		}
		if clean != "" {
			parts = append(parts, clean)
		}
	}
	return path.Join(parts...), nil
}
