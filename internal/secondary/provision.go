/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package secondary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kentakayama/uptane-secondary/internal/domain"
	"github.com/kentakayama/uptane-secondary/internal/domain/model"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/sirupsen/logrus"
)

// baselineFile is looked up under Config.ImportBasePath on first start.
const baselineFile = "installed_versions"

// provision loads the stored identity, or establishes it on first start.
// A stored identity always wins over the configuration.
func (s *Secondary) provision(ctx context.Context) error {
	stored, err := s.store.Serials.Find(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if stored != nil {
		if s.cfg.ECUSerial != "" && s.cfg.ECUSerial != stored.Serial {
			s.logger.WithField("ecu_serial", stored.Serial).Warn("configured serial ignored, ECU is already provisioned")
		}
		s.identity = uptane.EcuIdentity{Serial: stored.Serial, HardwareID: stored.HardwareID, PublicKey: s.keys.PublicKey()}
		return nil
	}

	serial := s.cfg.ECUSerial
	if serial == "" {
		serial = s.keys.KeyID()
	}
	hardwareID := s.cfg.HardwareID
	if hardwareID == "" {
		hardwareID, err = s.hostname()
		if err != nil {
			return fmt.Errorf("%w: hostname: %v", ErrProvisioning, err)
		}
	}
	if serial == "" || hardwareID == "" {
		return fmt.Errorf("%w: empty serial or hardware id", ErrProvisioning)
	}

	// the baseline goes in before the identity, so a failed import is
	// retried on the next start
	if err := s.importBaseline(ctx, serial); err != nil {
		return fmt.Errorf("%w: import: %v", ErrProvisioning, err)
	}

	record := &model.ECUSerial{Serial: serial, HardwareID: hardwareID, CreatedAt: time.Now().UTC()}
	if err := s.store.Serials.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.provision(ctx)
		}
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	s.identity = uptane.EcuIdentity{Serial: serial, HardwareID: hardwareID, PublicKey: s.keys.PublicKey()}
	s.logger.WithFields(logrus.Fields{"ecu_serial": serial, "hardware_id": hardwareID}).Info("ECU provisioned")
	return nil
}

type baselineEntry struct {
	IsCurrent bool `json:"is_current"`
}

// importBaseline seeds installed versions from a JSON array of targets. An
// entry may carry "is_current": true to mark the running image.
func (s *Secondary) importBaseline(ctx context.Context, serial string) error {
	if s.cfg.ImportBasePath == "" {
		return nil
	}
	raw, err := os.ReadFile(filepath.Join(s.cfg.ImportBasePath, baselineFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse %s: %w", baselineFile, err)
	}
	for _, entry := range entries {
		var target uptane.Target
		if err := json.Unmarshal(entry, &target); err != nil {
			return fmt.Errorf("parse %s: %w", baselineFile, err)
		}
		var flags baselineEntry
		if err := json.Unmarshal(entry, &flags); err != nil {
			return fmt.Errorf("parse %s: %w", baselineFile, err)
		}
		mode := model.InstallModeNone
		if flags.IsCurrent {
			mode = model.InstallModeCurrent
		}
		if err := s.saveVersion(ctx, serial, target, mode); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{"target": target.Filename, "mode": mode.String()}).Info("imported installed version")
	}
	return nil
}
