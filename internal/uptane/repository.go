/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"context"
	"fmt"

	"github.com/kentakayama/uptane-secondary/internal/domain/model"
	"github.com/kentakayama/uptane-secondary/internal/domain/service"
)

// Repository validates the metadata of one repository against what is
// already trusted in the store. Nothing is written here; accepted documents
// are returned as pending writes so the caller can commit a whole bundle at
// once.
type Repository struct {
	typ   RepositoryType
	store service.MetaRepository
}

func NewRepository(typ RepositoryType, store service.MetaRepository) *Repository {
	return &Repository{typ: typ, store: store}
}

// checkRoot decides which root is trusted after seeing raw.
//
//   - no stored root: raw is trusted on first use, it must be self-signed
//   - lower version than stored: rollback
//   - same version: must verify against the stored root; the stored one stays
//   - stored+1: must verify against both the stored and its own keys
//   - anything higher: rejected, intermediate roots are required
func (r *Repository) checkRoot(ctx context.Context, raw string) (*Root, *model.Meta, error) {
	signed, err := ParseSigned([]byte(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%s root: %w", r.typ, err)
	}
	incoming, err := ParseRoot(signed)
	if err != nil {
		return nil, nil, fmt.Errorf("%s root: %w", r.typ, err)
	}

	stored, err := r.store.LoadLatestRoot(ctx, string(r.typ))
	if err != nil {
		return nil, nil, fmt.Errorf("%s root: load: %w", r.typ, err)
	}
	write := &model.Meta{Repo: string(r.typ), Role: string(RoleRoot), Version: incoming.Version, Body: []byte(raw)}

	if stored == nil {
		if err := incoming.VerifyRole(RoleRoot, signed); err != nil {
			return nil, nil, fmt.Errorf("%s root v%d: %w", r.typ, incoming.Version, err)
		}
		return incoming, write, nil
	}

	trustedSigned, err := ParseSigned(stored.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s stored root: %w", r.typ, err)
	}
	trusted, err := ParseRoot(trustedSigned)
	if err != nil {
		return nil, nil, fmt.Errorf("%s stored root: %w", r.typ, err)
	}

	switch {
	case incoming.Version < trusted.Version:
		return nil, nil, fmt.Errorf("%s root: %w: v%d < stored v%d", r.typ, ErrRollback, incoming.Version, trusted.Version)
	case incoming.Version == trusted.Version:
		if err := trusted.VerifyRole(RoleRoot, signed); err != nil {
			return nil, nil, fmt.Errorf("%s root v%d: %w", r.typ, incoming.Version, err)
		}
		return trusted, nil, nil
	case incoming.Version == trusted.Version+1:
		if err := trusted.VerifyRole(RoleRoot, signed); err != nil {
			return nil, nil, fmt.Errorf("%s root v%d by v%d keys: %w", r.typ, incoming.Version, trusted.Version, err)
		}
		if err := incoming.VerifyRole(RoleRoot, signed); err != nil {
			return nil, nil, fmt.Errorf("%s root v%d by own keys: %w", r.typ, incoming.Version, err)
		}
		return incoming, write, nil
	default:
		return nil, nil, fmt.Errorf("%s root: %w: v%d after stored v%d", r.typ, ErrRootJump, incoming.Version, trusted.Version)
	}
}

// checkTargets verifies raw against the targets role of root and rejects a
// version lower than the stored one.
func (r *Repository) checkTargets(ctx context.Context, root *Root, raw string) (*Targets, *model.Meta, error) {
	signed, err := ParseSigned([]byte(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%s targets: %w", r.typ, err)
	}
	targets, err := ParseTargets(signed)
	if err != nil {
		return nil, nil, fmt.Errorf("%s targets: %w", r.typ, err)
	}
	if err := root.VerifyRole(RoleTargets, signed); err != nil {
		return nil, nil, fmt.Errorf("%s targets v%d: %w", r.typ, targets.Version, err)
	}

	stored, err := r.store.LoadNonRoot(ctx, string(r.typ), string(RoleTargets))
	if err != nil {
		return nil, nil, fmt.Errorf("%s targets: load: %w", r.typ, err)
	}
	if stored != nil && targets.Version < stored.Version {
		return nil, nil, fmt.Errorf("%s targets: %w: v%d < stored v%d", r.typ, ErrRollback, targets.Version, stored.Version)
	}
	return targets, &model.Meta{Repo: string(r.typ), Role: string(RoleTargets), Version: targets.Version, Body: []byte(raw)}, nil
}

// acceptUnchecked parses an optional snapshot or timestamp document for
// storage. Its signatures and the hashes it references are not checked.
func (r *Repository) acceptUnchecked(role Role, raw string) (*model.Meta, error) {
	if raw == "" {
		return nil, nil
	}
	signed, err := ParseSigned([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.typ, role, err)
	}
	h, err := signed.header(role)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.typ, role, err)
	}
	return &model.Meta{Repo: string(r.typ), Role: string(role), Version: h.Version, Body: []byte(raw)}, nil
}

// directorUpdate is the Director half of full verification.
func (r *Repository) directorUpdate(ctx context.Context, rootRaw, targetsRaw string) (*Targets, []*model.Meta, error) {
	root, rootWrite, err := r.checkRoot(ctx, rootRaw)
	if err != nil {
		return nil, nil, err
	}
	targets, targetsWrite, err := r.checkTargets(ctx, root, targetsRaw)
	if err != nil {
		return nil, nil, err
	}
	return targets, compact(rootWrite, targetsWrite), nil
}

// imageUpdate is the Image half of full verification.
func (r *Repository) imageUpdate(ctx context.Context, pack RawMetaPack) (*Targets, []*model.Meta, error) {
	root, rootWrite, err := r.checkRoot(ctx, pack.ImageRoot)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := r.acceptUnchecked(RoleSnapshot, pack.ImageSnapshot)
	if err != nil {
		return nil, nil, err
	}
	timestamp, err := r.acceptUnchecked(RoleTimestamp, pack.ImageTimestamp)
	if err != nil {
		return nil, nil, err
	}
	targets, targetsWrite, err := r.checkTargets(ctx, root, pack.ImageTargets)
	if err != nil {
		return nil, nil, err
	}
	return targets, compact(rootWrite, timestamp, snapshot, targetsWrite), nil
}

func compact(metas ...*model.Meta) []*model.Meta {
	out := make([]*model.Meta, 0, len(metas))
	for _, m := range metas {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// storedTargets re-checks the stored root and targets of the repository
// without any new input. It returns nil, nil when either is missing.
func (r *Repository) storedTargets(ctx context.Context) (*Targets, error) {
	rootMeta, err := r.store.LoadLatestRoot(ctx, string(r.typ))
	if err != nil {
		return nil, fmt.Errorf("%s root: load: %w", r.typ, err)
	}
	if rootMeta == nil {
		return nil, nil
	}
	targetsMeta, err := r.store.LoadNonRoot(ctx, string(r.typ), string(RoleTargets))
	if err != nil {
		return nil, fmt.Errorf("%s targets: load: %w", r.typ, err)
	}
	if targetsMeta == nil {
		return nil, nil
	}

	rootSigned, err := ParseSigned(rootMeta.Body)
	if err != nil {
		return nil, fmt.Errorf("%s stored root: %w", r.typ, err)
	}
	root, err := ParseRoot(rootSigned)
	if err != nil {
		return nil, fmt.Errorf("%s stored root: %w", r.typ, err)
	}
	if err := root.VerifyRole(RoleRoot, rootSigned); err != nil {
		return nil, fmt.Errorf("%s stored root v%d: %w", r.typ, root.Version, err)
	}
	targetsSigned, err := ParseSigned(targetsMeta.Body)
	if err != nil {
		return nil, fmt.Errorf("%s stored targets: %w", r.typ, err)
	}
	targets, err := ParseTargets(targetsSigned)
	if err != nil {
		return nil, fmt.Errorf("%s stored targets: %w", r.typ, err)
	}
	if err := root.VerifyRole(RoleTargets, targetsSigned); err != nil {
		return nil, fmt.Errorf("%s stored targets v%d: %w", r.typ, targets.Version, err)
	}
	return targets, nil
}
