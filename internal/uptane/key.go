/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/veraison/go-cose"
)

// KeyType values are stable small integers, they travel on the wire in the
// identity response.
type KeyType int

const (
	KeyTypeED25519   KeyType = 0
	KeyTypeRSA2048   KeyType = 1
	KeyTypeRSA3072   KeyType = 2
	KeyTypeRSA4096   KeyType = 3
	KeyTypeECDSAP256 KeyType = 4
	KeyTypeUnknown   KeyType = 255
)

func (k KeyType) String() string {
	switch k {
	case KeyTypeED25519:
		return "ED25519"
	case KeyTypeRSA2048:
		return "RSA2048"
	case KeyTypeRSA3072:
		return "RSA3072"
	case KeyTypeRSA4096:
		return "RSA4096"
	case KeyTypeECDSAP256:
		return "ECDSA_P256"
	default:
		return "UNKNOWN"
	}
}

// ParseKeyType is the inverse of KeyType.String, case-insensitive.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToUpper(s) {
	case "ED25519":
		return KeyTypeED25519, nil
	case "RSA2048":
		return KeyTypeRSA2048, nil
	case "RSA3072":
		return KeyTypeRSA3072, nil
	case "RSA4096":
		return KeyTypeRSA4096, nil
	case "ECDSA_P256", "ECDSA":
		return KeyTypeECDSAP256, nil
	default:
		return KeyTypeUnknown, fmt.Errorf("%w: %q", ErrUnknownKeyType, s)
	}
}

func (k KeyType) isRSA() bool {
	return k == KeyTypeRSA2048 || k == KeyTypeRSA3072 || k == KeyTypeRSA4096
}

// Signature methods as they appear in the "method" field.
const (
	MethodED25519   = "ed25519"
	MethodRSAPSS    = "rsassa-pss-sha256"
	MethodECDSAP256 = "ecdsa-sha2-nistp256"
)

// PublicKey is a key as carried in root metadata and the identity response.
// Value is hex for ED25519 and PEM encoded SPKI otherwise.
type PublicKey struct {
	Type  KeyType
	Value string
}

// NewPublicKey wraps a crypto public key.
func NewPublicKey(pub crypto.PublicKey) (PublicKey, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return PublicKey{Type: KeyTypeED25519, Value: hex.EncodeToString(k)}, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return PublicKey{}, fmt.Errorf("%w: curve %s", ErrUnknownKeyType, k.Curve.Params().Name)
		}
		return pemPublicKey(KeyTypeECDSAP256, k)
	case *rsa.PublicKey:
		var t KeyType
		switch k.N.BitLen() {
		case 2048:
			t = KeyTypeRSA2048
		case 3072:
			t = KeyTypeRSA3072
		case 4096:
			t = KeyTypeRSA4096
		default:
			return PublicKey{}, fmt.Errorf("%w: rsa %d bits", ErrUnknownKeyType, k.N.BitLen())
		}
		return pemPublicKey(t, k)
	default:
		return PublicKey{}, fmt.Errorf("%w: %T", ErrUnknownKeyType, pub)
	}
}

func pemPublicKey(t KeyType, pub crypto.PublicKey) (PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return PublicKey{}, err
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return PublicKey{Type: t, Value: string(block)}, nil
}

// CryptoKey decodes Value into a crypto public key.
func (k PublicKey) CryptoKey() (crypto.PublicKey, error) {
	if k.Type == KeyTypeED25519 {
		raw, err := hex.DecodeString(strings.TrimSpace(k.Value))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: malformed ed25519 key", ErrInvalidMetadata)
		}
		return ed25519.PublicKey(raw), nil
	}
	block, _ := pem.Decode([]byte(k.Value))
	if block == nil {
		return nil, fmt.Errorf("%w: public key is not PEM", ErrInvalidMetadata)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	switch pub.(type) {
	case *rsa.PublicKey:
		if !k.Type.isRSA() {
			return nil, fmt.Errorf("%w: %s key carries rsa material", ErrUnknownKeyType, k.Type)
		}
	case *ecdsa.PublicKey:
		if k.Type != KeyTypeECDSAP256 {
			return nil, fmt.Errorf("%w: %s key carries ecdsa material", ErrUnknownKeyType, k.Type)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, pub)
	}
	return pub, nil
}

// Method is the signature method used with this key.
func (k PublicKey) Method() string {
	switch {
	case k.Type == KeyTypeED25519:
		return MethodED25519
	case k.Type == KeyTypeECDSAP256:
		return MethodECDSAP256
	case k.Type.isRSA():
		return MethodRSAPSS
	default:
		return ""
	}
}

// Algorithm maps the key type to the COSE algorithm implementing its method.
func (k PublicKey) Algorithm() (cose.Algorithm, error) {
	switch {
	case k.Type == KeyTypeED25519:
		return cose.AlgorithmEdDSA, nil
	case k.Type == KeyTypeECDSAP256:
		return cose.AlgorithmES256, nil
	case k.Type.isRSA():
		return cose.AlgorithmPS256, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownKeyType, k.Type)
	}
}

func (k PublicKey) Verifier() (cose.Verifier, error) {
	alg, err := k.Algorithm()
	if err != nil {
		return nil, err
	}
	pub, err := k.CryptoKey()
	if err != nil {
		return nil, err
	}
	return cose.NewVerifier(alg, pub)
}

// Verify checks sig over msg. The method must be the one bound to the key type.
func (k PublicKey) Verify(method string, msg, sig []byte) error {
	if method != k.Method() {
		return fmt.Errorf("%w: method %q for %s key", ErrBadSignature, method, k.Type)
	}
	verifier, err := k.Verifier()
	if err != nil {
		return err
	}
	if err := verifier.Verify(msg, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

type publicKeyJSON struct {
	KeyType string `json:"keytype"`
	KeyVal  struct {
		Public string `json:"public"`
	} `json:"keyval"`
}

func (k PublicKey) MarshalJSON() ([]byte, error) {
	var v publicKeyJSON
	switch {
	case k.Type == KeyTypeED25519:
		v.KeyType = "ED25519"
	case k.Type == KeyTypeECDSAP256:
		v.KeyType = "ECDSA"
	case k.Type.isRSA():
		v.KeyType = "RSA"
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyType, k.Type)
	}
	v.KeyVal.Public = k.Value
	return json.Marshal(v)
}

func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var v publicKeyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch strings.ToUpper(v.KeyType) {
	case "ED25519":
		*k = PublicKey{Type: KeyTypeED25519, Value: v.KeyVal.Public}
		_, err := k.CryptoKey()
		return err
	case "RSA", "ECDSA", "ECDSA-SHA2-NISTP256":
		block, _ := pem.Decode([]byte(v.KeyVal.Public))
		if block == nil {
			return fmt.Errorf("%w: public key is not PEM", ErrInvalidMetadata)
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		parsed, err := NewPublicKey(pub)
		if err != nil {
			return err
		}
		*k = PublicKey{Type: parsed.Type, Value: v.KeyVal.Public}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKeyType, v.KeyType)
	}
}

// KeyID is the sha256 hex digest of the canonical JSON form of the key.
func (k PublicKey) KeyID() (string, error) {
	raw, err := json.Marshal(k)
	if err != nil {
		return "", err
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (k PublicKey) Equal(o PublicKey) bool {
	return k.Type == o.Type && strings.TrimSpace(k.Value) == strings.TrimSpace(o.Value)
}
