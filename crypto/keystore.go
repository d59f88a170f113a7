package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

const keystoreVersion = 3

// Scrypt parameters used when sealing keystores. Tests lower them.
var (
	keystoreScryptN = keystore.StandardScryptN
	keystoreScryptP = keystore.StandardScryptP
)

type keystoreFile struct {
	Address string              `json:"address"`
	Crypto  keystore.CryptoJSON `json:"crypto"`
	ID      string              `json:"id"`
	Version int                 `json:"version"`
}

// SaveToKeystore writes the key seed to a v3 keystore file (scrypt + AES-CTR)
// at the given path. If the parent directory does not exist it will be created
// with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || len(key.PrivateKey) == 0 {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	sealed, err := keystore.EncryptDataV3(key.Seed(), []byte(passphrase), keystoreScryptN, keystoreScryptP)
	if err != nil {
		return fmt.Errorf("crypto: seal keystore: %w", err)
	}
	payload, err := json.Marshal(keystoreFile{
		Address: key.Address().String(),
		Crypto:  sealed,
		ID:      uuid.NewString(),
		Version: keystoreVersion,
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decryptKeystore(raw, passphrase)
}

func decryptKeystore(raw []byte, passphrase string) (*PrivateKey, error) {
	var file keystoreFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	if file.Version != keystoreVersion {
		return nil, fmt.Errorf("crypto: unsupported keystore version %d", file.Version)
	}
	seed, err := keystore.DecryptDataV3(file.Crypto, passphrase)
	if err != nil {
		return nil, err
	}
	key, err := PrivateKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if file.Address != "" && file.Address != key.Address().String() {
		return nil, fmt.Errorf("crypto: keystore address %s does not match key", file.Address)
	}
	return key, nil
}

// LoadKeyFile reads either a plain key file (a JSON array of the 64 key bytes)
// or a v3 keystore. The passphrase is only consulted for keystores.
func LoadKeyFile(path string, passphrase func() (string, error)) (*PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ints []int
		if err := json.Unmarshal(trimmed, &ints); err != nil {
			return nil, fmt.Errorf("crypto: decode key file: %w", err)
		}
		buf := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("crypto: key file byte %d out of range", i)
			}
			buf[i] = byte(v)
		}
		return PrivateKeyFromBytes(buf)
	}
	pass := ""
	if passphrase != nil {
		if pass, err = passphrase(); err != nil {
			return nil, err
		}
	}
	return decryptKeystore(trimmed, pass)
}

// WriteKeyFile stores the key as a plain JSON byte array readable only by the owner.
func WriteKeyFile(path string, key *PrivateKey) error {
	payload, err := key.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}
