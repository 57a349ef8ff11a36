package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const pepperLength = 32

// LoadOrCreatePepper reads the pepper stored at path, generating and
// persisting a new random one (mode 0600) when the file does not exist yet.
// Losing the file makes every peppered hash unverifiable.
func LoadOrCreatePepper(path string) (string, error) {
	if path == "" {
		return "", errors.New("pepper path is empty")
	}
	path = filepath.Clean(path)

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		pepper := strings.TrimSpace(string(b))
		if pepper == "" {
			return "", fmt.Errorf("pepper file %s is empty", path)
		}
		return pepper, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", err
	}

	raw := make([]byte, pepperLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	pepper := base64.RawURLEncoding.EncodeToString(raw)

	// O_EXCL so two processes racing on first start cannot both write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return LoadOrCreatePepper(path)
		}
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString(pepper); err != nil {
		return "", err
	}
	return pepper, nil
}
