/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"context"
	"fmt"
	"time"

	"github.com/kentakayama/uptane-secondary/internal/domain/service"
)

// Verifier runs full verification of a metadata bundle for one ECU.
type Verifier struct {
	store    service.MetaRepository
	director *Repository
	image    *Repository
	now      func() time.Time
}

func NewVerifier(store service.MetaRepository) *Verifier {
	return &Verifier{
		store:    store,
		director: NewRepository(RepoDirector, store),
		image:    NewRepository(RepoImage, store),
		now:      time.Now,
	}
}

// Verification is the outcome of a successful full verification.
type Verification struct {
	Target     Target
	VerifiedAt time.Time
}

// Verify performs full verification of pack for the given ECU:
//
//  1. capture the local time; expiry is not enforced against it
//  2. validate Director root and targets against the trusted Director root
//  3. validate Image root and targets; snapshot and timestamp are only parsed
//  4. cross-check every Director target against the Image targets
//  5. select the single Director target for (serial, hardware id)
//  6. ask supported whether the backend can handle the target format
//
// Metadata is persisted only after every step has passed, so a rejected
// bundle leaves the store untouched.
func (v *Verifier) Verify(ctx context.Context, pack RawMetaPack, id EcuIdentity, supported func(Target) bool) (*Verification, error) {
	verifiedAt := v.now()

	directorTargets, directorWrites, err := v.director.directorUpdate(ctx, pack.DirectorRoot, pack.DirectorTargets)
	if err != nil {
		return nil, fmt.Errorf("director: %w", err)
	}
	imageTargets, imageWrites, err := v.image.imageUpdate(ctx, pack)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}

	director, err := directorTargets.List()
	if err != nil {
		return nil, err
	}
	image, err := imageTargets.List()
	if err != nil {
		return nil, err
	}
	if err := CrossCheck(director, image); err != nil {
		return nil, err
	}

	target, err := SelectTarget(director, id.Serial, id.HardwareID)
	if err != nil {
		return nil, err
	}
	if supported != nil && !supported(target) {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedTarget, target.Filename, target.Type())
	}

	if err := v.store.StoreAll(ctx, append(directorWrites, imageWrites...)); err != nil {
		return nil, fmt.Errorf("store metadata: %w", err)
	}
	return &Verification{Target: target, VerifiedAt: verifiedAt}, nil
}

// StoredTarget selects the target for the ECU from the Director metadata
// already in the store, re-checking its signatures. ok is false when no
// Director targets are stored.
func (v *Verifier) StoredTarget(ctx context.Context, id EcuIdentity, supported func(Target) bool) (Target, bool, error) {
	targets, err := v.director.storedTargets(ctx)
	if err != nil || targets == nil {
		return Target{}, false, err
	}
	list, err := targets.List()
	if err != nil {
		return Target{}, false, err
	}
	target, err := SelectTarget(list, id.Serial, id.HardwareID)
	if err != nil {
		return Target{}, false, err
	}
	if supported != nil && !supported(target) {
		return Target{}, false, fmt.Errorf("%w: %s is %s", ErrUnsupportedTarget, target.Filename, target.Type())
	}
	return target, true, nil
}

// InvalidateDirectorTargets forgets the cached Director targets so the next
// verification starts from the Director root alone.
func (v *Verifier) InvalidateDirectorTargets(ctx context.Context) error {
	return v.store.DropTargets(ctx, string(RepoDirector))
}
