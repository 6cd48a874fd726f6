// Package fhe is the encryption coprocessor. It encrypts 32-bit words under
// a BGV key, keeps the ciphertexts behind opaque handles and decrypts them
// only for authorized owners.
package fhe

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// PlaintextModulus is the BGV plaintext modulus. A word is split into two
// 16-bit halves so each fits below it.
const PlaintextModulus = 65537

const (
	secretKeyFile = "bgv_sk.bin"
	publicKeyFile = "bgv_pk.bin"
)

// Literal returns the parameter set for ring degree 2^logN.
func Literal(logN int) bgv.ParametersLiteral {
	return bgv.ParametersLiteral{
		LogN:             logN,
		LogQ:             []int{54},
		LogP:             []int{54},
		PlaintextModulus: PlaintextModulus,
	}
}

// Keys is a BGV parameter set with its key pair.
type Keys struct {
	Params bgv.Parameters
	sk     *rlwe.SecretKey
	pk     *rlwe.PublicKey
}

// GenerateKeys creates a fresh key pair.
func GenerateKeys(logN int) (*Keys, error) {
	params, err := bgv.NewParametersFromLiteral(Literal(logN))
	if err != nil {
		return nil, fmt.Errorf("bgv parameters: %w", err)
	}
	sk, pk := bgv.NewKeyGenerator(params).GenKeyPairNew()
	return &Keys{Params: params, sk: sk, pk: pk}, nil
}

// LoadOrGenerateKeys reads the key pair from dir, generating and saving one
// if none exists. An empty dir keeps the keys in memory only.
func LoadOrGenerateKeys(dir string, logN int, logger *slog.Logger) (*Keys, error) {
	if dir == "" {
		logger.Warn("no key directory configured, using ephemeral bgv keys")
		return GenerateKeys(logN)
	}

	skPath := filepath.Join(dir, secretKeyFile)
	pkPath := filepath.Join(dir, publicKeyFile)

	skData, err := os.ReadFile(skPath)
	if errors.Is(err, fs.ErrNotExist) {
		keys, err := GenerateKeys(logN)
		if err != nil {
			return nil, err
		}
		if err := keys.save(dir); err != nil {
			return nil, err
		}
		logger.Info("generated bgv keys", "dir", dir, "log_n", logN)
		return keys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret key: %w", err)
	}
	pkData, err := os.ReadFile(pkPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}

	params, err := bgv.NewParametersFromLiteral(Literal(logN))
	if err != nil {
		return nil, fmt.Errorf("bgv parameters: %w", err)
	}
	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(skData); err != nil {
		return nil, fmt.Errorf("unmarshal secret key: %w", err)
	}
	pk := rlwe.NewPublicKey(params)
	if err := pk.UnmarshalBinary(pkData); err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	logger.Info("loaded bgv keys", "dir", dir, "log_n", logN)
	return &Keys{Params: params, sk: sk, pk: pk}, nil
}

func (k *Keys) save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	skData, err := k.sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal secret key: %w", err)
	}
	pkData, err := k.pk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretKeyFile), skData, 0o600); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pkData, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// ParamsInfo describes the public parameters.
type ParamsInfo struct {
	LogN             int    `json:"log_n"`
	LogQ             []int  `json:"log_q"`
	LogP             []int  `json:"log_p"`
	PlaintextModulus uint64 `json:"plaintext_modulus"`
	Slots            int    `json:"slots"`
}

// Info returns the public parameters.
func (k *Keys) Info() ParamsInfo {
	lit := Literal(k.Params.LogN())
	return ParamsInfo{
		LogN:             k.Params.LogN(),
		LogQ:             lit.LogQ,
		LogP:             lit.LogP,
		PlaintextModulus: k.Params.PlaintextModulus(),
		Slots:            k.Params.MaxSlots(),
	}
}
