/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package secondary holds the state machine of one Uptane secondary ECU:
// metadata verification, firmware transfer, install and reboot recovery.
package secondary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kentakayama/uptane-secondary/internal/agent"
	"github.com/kentakayama/uptane-secondary/internal/domain/model"
	"github.com/kentakayama/uptane-secondary/internal/domain/service"
	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// ECUSerial and HardwareID are used on first start only. Empty values
	// fall back to the key id and the hostname.
	ECUSerial  string
	HardwareID string
	// ImportBasePath holds an optional installed_versions baseline.
	ImportBasePath string
	// Hostname overrides os.Hostname.
	Hostname func() (string, error)
}

// Storage groups the repositories the secondary persists to.
type Storage struct {
	Serials   service.ECUSerialRepository
	Meta      service.MetaRepository
	Installed service.InstalledVersionRepository
	Results   service.InstallationResultRepository
}

// KeyManager is the ECU key as seen by the secondary.
type KeyManager interface {
	PublicKey() uptane.PublicKey
	KeyID() string
	Sign(canonical []byte) (uptane.Signature, error)
}

// Secondary serializes every operation behind one mutex.
type Secondary struct {
	cfg      Config
	store    Storage
	keys     KeyManager
	agent    agent.UpdateAgent
	logger   logging.Logger
	hostname func() (string, error)

	identity uptane.EcuIdentity
	verifier *uptane.Verifier
	issuer   *uptane.ManifestIssuer

	mu      sync.Mutex
	pending *uptane.Target
}

// New provisions the ECU, restores the pending target and resumes an
// install interrupted by a reboot. Only a provisioning failure is fatal.
func New(ctx context.Context, cfg Config, store Storage, keys KeyManager, ag agent.UpdateAgent, logger logging.Logger) (*Secondary, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Secondary{
		cfg:      cfg,
		store:    store,
		keys:     keys,
		agent:    ag,
		logger:   logger,
		hostname: cfg.Hostname,
		verifier: uptane.NewVerifier(store.Meta),
	}
	if s.hostname == nil {
		s.hostname = os.Hostname
	}

	if err := s.provision(ctx); err != nil {
		s.fail(kindProvisioning, "", err).Error("provisioning failed")
		return nil, err
	}
	s.logger = logger.WithField("ecu_serial", s.identity.Serial)
	s.issuer = uptane.NewManifestIssuer(keys, s.identity.Serial)

	rebootPending, err := s.loadPendingTarget(ctx)
	if err != nil {
		s.fail(kindStorage, "", err).Error("cannot load pending target")
	}
	if rebootPending {
		if err := s.recoverPendingInstall(ctx); err != nil {
			s.fail(kindStorage, "", err).Error("cannot finalize pending install")
		}
	}
	return s, nil
}

func (s *Secondary) Identity() uptane.EcuIdentity {
	return s.identity
}

// PendingTarget returns the target awaiting download or install.
func (s *Secondary) PendingTarget() (uptane.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return uptane.Target{}, false
	}
	return *s.pending, true
}

// PutMetadata fully verifies pack. On success the selected target becomes
// the pending target; on failure the pending target is left as it was.
func (s *Secondary) PutMetadata(ctx context.Context, pack uptane.RawMetaPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.verifier.Verify(ctx, pack, s.identity, s.agent.IsTargetSupported)
	if err != nil {
		s.fail(kindVerification, "", err).Error("metadata rejected")
		return err
	}
	target := v.Target
	s.pending = &target
	s.logger.WithField("target", target.Filename).Info("metadata verified")
	return nil
}

// DownloadFirmware hands data for the pending target to the update agent.
// A rejected payload clears the pending target.
func (s *Secondary) DownloadFirmware(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.download(ctx, data)
}

// DownloadFirmwareFor is DownloadFirmware for a caller that names the
// target it is sending. A name that does not match changes nothing.
func (s *Secondary) DownloadFirmwareFor(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.Filename != name {
		err := fmt.Errorf("%w: got %q, pending %q", ErrTargetNameMismatch, name, s.pending.Filename)
		s.fail(kindTransfer, name, err).Error("firmware rejected")
		return err
	}
	return s.download(ctx, data)
}

func (s *Secondary) download(ctx context.Context, data []byte) error {
	if s.pending == nil {
		s.fail(kindTransfer, "", ErrNoPendingTarget).Error("firmware rejected")
		return ErrNoPendingTarget
	}
	target := *s.pending
	if err := s.agent.Download(ctx, target, data); err != nil {
		s.pending = nil
		s.fail(kindTransfer, target.Filename, err).Error("firmware rejected")
		return err
	}
	s.logger.WithFields(logrus.Fields{"target": target.Filename, "length": len(data)}).Info("firmware received")
	return nil
}

// Install installs the pending target, which must be called name.
//
//   - Ok: the target becomes current and is no longer pending
//   - NeedCompletion: the target is recorded as pending-reboot and stays pending
//   - anything else: the pending target is kept so the install can be retried
func (s *Secondary) Install(ctx context.Context, name string) uptane.ResultCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		s.fail(kindInstall, name, ErrNoPendingTarget).Error("install rejected")
		return uptane.ResultInternalError
	}
	if s.pending.Filename != name {
		err := fmt.Errorf("%w: got %q, pending %q", ErrTargetNameMismatch, name, s.pending.Filename)
		s.fail(kindInstall, name, err).Error("install rejected")
		return uptane.ResultInternalError
	}
	target := *s.pending

	code := s.agent.Install(ctx, target)
	result := uptane.NewInstallationResult(code, "")
	switch code {
	case uptane.ResultOk:
		if err := s.saveVersion(ctx, s.identity.Serial, target, model.InstallModeCurrent); err != nil {
			s.fail(kindStorage, name, err).Error("cannot record installed version")
			return uptane.ResultInternalError
		}
		s.saveResult(ctx, target, result)
		s.pending = nil
	case uptane.ResultNeedCompletion:
		if err := s.saveVersion(ctx, s.identity.Serial, target, model.InstallModePendingReboot); err != nil {
			s.fail(kindStorage, name, err).Error("cannot record pending version")
			return uptane.ResultInternalError
		}
		s.saveResult(ctx, target, result)
	default:
		s.saveResult(ctx, target, result)
		s.fail(kindInstall, name, fmt.Errorf("agent returned %s", code)).Error("install failed")
		return code
	}
	s.logger.WithFields(logrus.Fields{"target": name, "code": code.String()}).Info("install finished")
	return code
}

// CompleteInstall drives an install that is waiting for a reboot. With no
// pending-reboot record it reports AlreadyProcessed. When the agent still
// needs completion it is asked to trigger it, otherwise the outcome is
// recorded exactly as on startup recovery.
func (s *Secondary) CompleteInstall(ctx context.Context) uptane.InstallationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok, err := s.pendingRecord(ctx)
	if err != nil {
		s.fail(kindStorage, "", err).Error("cannot load pending record")
		return uptane.NewInstallationResult(uptane.ResultInternalError, err.Error())
	}
	if !ok {
		return uptane.NewInstallationResult(uptane.ResultAlreadyProcessed, "no pending installation")
	}

	result := s.agent.ApplyPendingInstall(ctx, target)
	if result.NeedCompletion() {
		completion := s.agent.CompleteInstall(ctx)
		s.logger.WithFields(logrus.Fields{"target": target.Filename, "result": completion.String()}).Info("completion triggered")
		if completion.Success() || completion.NeedCompletion() {
			return result
		}
		return completion
	}
	if err := s.finalize(ctx, target, result); err != nil {
		s.fail(kindStorage, target.Filename, err).Error("cannot finalize install")
		return uptane.NewInstallationResult(uptane.ResultInternalError, err.Error())
	}
	return result
}

// GetManifest signs a report of the running image and the last stored
// installation result.
func (s *Secondary) GetManifest(ctx context.Context) (*uptane.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.agent.GetInstalledImageInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("installed image: %w", err)
	}
	stored, err := s.store.Results.FindBySerial(ctx, s.identity.Serial)
	if err != nil {
		return nil, err
	}
	var result *uptane.InstallationResult
	if stored != nil {
		r := uptane.NewInstallationResult(uptane.ParseResultCode(stored.Code), stored.Description)
		result = &r
	}
	return s.issuer.Issue(info, result)
}

// InstalledVersions lists every version recorded for this ECU.
func (s *Secondary) InstalledVersions(ctx context.Context) ([]*model.InstalledVersion, error) {
	return s.store.Installed.List(ctx, s.identity.Serial)
}

// loadPendingTarget restores the pending target after a restart. A
// pending-reboot record wins; otherwise the target is selected again from
// the stored Director metadata, unless it is already the current version.
func (s *Secondary) loadPendingTarget(ctx context.Context) (rebootPending bool, err error) {
	target, ok, err := s.pendingRecord(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		s.pending = &target
		return true, nil
	}

	target, ok, err = s.verifier.StoredTarget(ctx, s.identity, s.agent.IsTargetSupported)
	if err != nil {
		s.fail(kindVerification, "", err).Warn("stored Director metadata yields no pending target")
		return false, nil
	}
	if !ok {
		return false, nil
	}
	installed, err := s.currentTarget(ctx)
	if err != nil {
		return false, err
	}
	if installed != nil && installed.Equal(target) {
		return false, nil
	}
	s.pending = &target
	s.logger.WithField("target", target.Filename).Info("pending target restored from Director metadata")
	return false, nil
}

func (s *Secondary) currentTarget(ctx context.Context) (*uptane.Target, error) {
	rec, err := s.store.Installed.FindCurrent(ctx, s.identity.Serial)
	if err != nil || rec == nil {
		return nil, err
	}
	var target uptane.Target
	if err := json.Unmarshal(rec.Target, &target); err != nil {
		return nil, fmt.Errorf("decode current target %s: %w", rec.Name, err)
	}
	return &target, nil
}

func (s *Secondary) pendingRecord(ctx context.Context) (uptane.Target, bool, error) {
	rec, err := s.store.Installed.FindPending(ctx, s.identity.Serial)
	if err != nil || rec == nil {
		return uptane.Target{}, false, err
	}
	var target uptane.Target
	if err := json.Unmarshal(rec.Target, &target); err != nil {
		return uptane.Target{}, false, fmt.Errorf("decode pending target %s: %w", rec.Name, err)
	}
	return target, true, nil
}

// recoverPendingInstall runs once at startup for a target left in
// pending-reboot by a previous run.
func (s *Secondary) recoverPendingInstall(ctx context.Context) error {
	if s.pending == nil {
		return nil
	}
	target := *s.pending
	result := s.agent.ApplyPendingInstall(ctx, target)
	if result.NeedCompletion() {
		s.logger.WithField("target", target.Filename).Info("install still waiting for completion")
		return nil
	}
	return s.finalize(ctx, target, result)
}

// finalize records the outcome of a pending-reboot install: the result is
// stored, the version becomes current or is demoted, and the Director targets
// are dropped so the next bundle is verified from scratch.
func (s *Secondary) finalize(ctx context.Context, target uptane.Target, result uptane.InstallationResult) error {
	s.saveResult(ctx, target, result)
	mode := model.InstallModeNone
	if result.Success() {
		mode = model.InstallModeCurrent
	}
	if err := s.saveVersion(ctx, s.identity.Serial, target, mode); err != nil {
		return err
	}
	if err := s.verifier.InvalidateDirectorTargets(ctx); err != nil {
		return err
	}
	s.pending = nil
	s.logger.WithFields(logrus.Fields{"target": target.Filename, "result": result.String(), "mode": mode.String()}).Info("pending install finalized")
	return nil
}

func (s *Secondary) saveVersion(ctx context.Context, serial string, target uptane.Target, mode model.InstallMode) error {
	raw, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("encode target %s: %w", target.Filename, err)
	}
	v := &model.InstalledVersion{ECUSerial: serial, Name: target.Filename, Target: raw}
	return s.store.Installed.Save(ctx, v, mode)
}

// saveResult only logs on failure; the result is informational.
func (s *Secondary) saveResult(ctx context.Context, target uptane.Target, result uptane.InstallationResult) {
	r := &model.InstallationResult{
		ECUSerial:   s.identity.Serial,
		TargetName:  target.Filename,
		Code:        int(result.Code),
		Description: result.Description,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.Results.Save(ctx, r); err != nil {
		s.fail(kindStorage, target.Filename, err).Error("cannot store installation result")
	}
}

func (s *Secondary) fail(kind, target string, err error) logrus.FieldLogger {
	fields := logrus.Fields{"kind": kind}
	if s.identity.Serial != "" {
		fields["ecu_serial"] = s.identity.Serial
	}
	if target != "" {
		fields["target"] = target
	}
	return s.logger.WithFields(fields).WithError(err)
}
