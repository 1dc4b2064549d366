package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/grihya/livechat/internal/config"
	"github.com/grihya/livechat/internal/logger"
)

// VAPIDKeys is the Web Push key pair. The public key is handed to browsers.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) complete() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

// ResolveKeys returns the key pair admin alerts sign with. Keys set in config
// win; otherwise the keys file is read, or created on first start. With
// neither, it returns nil and alerts stay off.
func ResolveKeys(p config.PushConfig) (*VAPIDKeys, error) {
	if p.Enabled() {
		return &VAPIDKeys{PublicKey: p.VAPIDPublicKey, PrivateKey: p.VAPIDPrivateKey}, nil
	}
	if p.KeysFile == "" {
		return nil, nil
	}
	return keysFromFile(p.KeysFile)
}

// keysFromFile loads the pair at path or generates one when the file is
// missing. A present but unreadable file is an error and is left untouched.
func keysFromFile(path string) (*VAPIDKeys, error) {
	keys, err := readKeysFile(path)
	switch {
	case err == nil:
		return keys, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("vapid keys %s: %w", path, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("generate vapid keys: %w", err)
	}
	keys = &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := writeKeysFile(path, keys); err != nil {
		logger.Errorf("push: keys not saved to %s: %v; alerts use a one-run key pair", path, err)
		return keys, nil
	}
	logger.Infof("push: generated VAPID keys in %s", path)
	return keys, nil
}

func readKeysFile(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	if !keys.complete() {
		return nil, errors.New("public_key and private_key are required")
	}
	return &keys, nil
}

// writeKeysFile replaces path atomically so a crash never leaves half a pair.
func writeKeysFile(path string, keys *VAPIDKeys) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vapid-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
