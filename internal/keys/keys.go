/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/uptane-secondary/internal/domain/model"
	"github.com/kentakayama/uptane-secondary/internal/domain/service"
	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/veraison/go-cose"
)

var (
	ErrUnsupportedKeyType = errors.New("key type cannot be generated")
	ErrKeyIsNil           = errors.New("key is nil")
)

// Manager owns the ECU signing key.
type Manager struct {
	key    *cose.Key
	signer cose.Signer
	pub    uptane.PublicKey
	keyID  string
}

// Generate creates a fresh key pair. Only ED25519 and ECDSA P-256 keys can
// be generated; RSA keys are verify-only.
func Generate(kt uptane.KeyType) (*Manager, error) {
	var key *cose.Key
	var err error
	switch kt {
	case uptane.KeyTypeED25519:
		var pub ed25519.PublicKey
		var priv ed25519.PrivateKey
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		key, err = cose.NewKeyOKP(cose.AlgorithmEdDSA, pub, priv.Seed())
	case uptane.KeyTypeECDSAP256:
		var priv *ecdsa.PrivateKey
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		x := priv.PublicKey.X.FillBytes(make([]byte, 32))
		y := priv.PublicKey.Y.FillBytes(make([]byte, 32))
		d := priv.D.FillBytes(make([]byte, 32))
		key, err = cose.NewKeyEC2(cose.AlgorithmES256, x, y, d)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, kt)
	}
	if err != nil {
		return nil, err
	}
	return FromCOSEKey(key)
}

// FromCOSEKey wraps an existing private COSE key.
func FromCOSEKey(key *cose.Key) (*Manager, error) {
	if key == nil {
		return nil, ErrKeyIsNil
	}
	signer, err := key.Signer()
	if err != nil {
		return nil, err
	}
	cryptoPub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	pub, err := uptane.NewPublicKey(cryptoPub)
	if err != nil {
		return nil, err
	}
	kid, err := pub.KeyID()
	if err != nil {
		return nil, err
	}
	return &Manager{key: key, signer: signer, pub: pub, keyID: kid}, nil
}

// LoadOrGenerate returns the stored ECU key, creating and storing one of
// type kt on first start. A stored key always wins over kt.
func LoadOrGenerate(ctx context.Context, repo service.KeyRepository, kt uptane.KeyType, logger logging.Logger) (*Manager, error) {
	stored, err := repo.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ECU key: %w", err)
	}
	if stored != nil {
		var key cose.Key
		if err := cbor.Unmarshal(stored.CoseKey, &key); err != nil {
			return nil, fmt.Errorf("decode ECU key: %w", err)
		}
		m, err := FromCOSEKey(&key)
		if err != nil {
			return nil, err
		}
		if m.pub.Type != kt {
			logger.Warnf("stored ECU key is %s, configured key type %s is ignored", m.pub.Type, kt)
		}
		return m, nil
	}

	m, err := Generate(kt)
	if err != nil {
		return nil, err
	}
	encoded, err := cbor.Marshal(m.key)
	if err != nil {
		return nil, err
	}
	if _, err := repo.Create(ctx, &model.ECUKey{
		KeyType:   int(m.pub.Type),
		CoseKey:   encoded,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}); err != nil {
		return nil, fmt.Errorf("store ECU key: %w", err)
	}
	logger.WithField("keyid", m.keyID).Infof("generated %s ECU key", m.pub.Type)
	return m, nil
}

func (m *Manager) PublicKey() uptane.PublicKey {
	return m.pub
}

func (m *Manager) KeyID() string {
	return m.keyID
}

// Sign signs canonical bytes with the ECU key.
func (m *Manager) Sign(canonical []byte) (uptane.Signature, error) {
	sig, err := m.signer.Sign(rand.Reader, canonical)
	if err != nil {
		return uptane.Signature{}, err
	}
	return uptane.Signature{
		KeyID:  m.keyID,
		Method: m.pub.Method(),
		Sig:    base64.StdEncoding.EncodeToString(sig),
	}, nil
}
