package certificate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrBadFileName is returned for stored names that would escape the vault.
var ErrBadFileName = errors.New("nome de arquivo de certificado inválido")

// Vault keeps certificate containers under <root>/<merchantID>/.
type Vault struct {
	root string
}

// NewVault creates a vault rooted at root. The directory is created lazily.
func NewVault(root string) *Vault {
	return &Vault{root: root}
}

// Root returns the vault base directory.
func (v *Vault) Root() string { return v.root }

// FileName is the stored name for a container uploaded at t.
func FileName(taxID string, t time.Time) string {
	if taxID == "" {
		taxID = "sem-cnpj"
	}
	return fmt.Sprintf("certificado_%s_%d%s", taxID, t.Unix(), Extension)
}

func (v *Vault) dir(merchantID int64) string {
	return filepath.Join(v.root, strconv.FormatInt(merchantID, 10))
}

func (v *Vault) path(merchantID int64, name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", ErrBadFileName
	}
	return filepath.Join(v.dir(merchantID), name), nil
}

// Write stores content atomically (temp file + rename) and returns the
// final name. A name already taken gets a nanosecond suffix.
func (v *Vault) Write(merchantID int64, taxID string, content []byte, now time.Time) (string, error) {
	dir := v.dir(merchantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create certificate dir: %w", err)
	}

	name := FileName(taxID, now)
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		name = strings.TrimSuffix(name, Extension) + fmt.Sprintf("_%d", now.Nanosecond()) + Extension
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("write certificate: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync certificate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close certificate: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod certificate: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		cleanup()
		return "", fmt.Errorf("rename certificate: %w", err)
	}
	return name, nil
}

// Read returns the stored container. A missing file yields an error
// matching fs.ErrNotExist.
func (v *Vault) Read(merchantID int64, name string) ([]byte, error) {
	p, err := v.path(merchantID, name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists reports whether the named container is on disk.
func (v *Vault) Exists(merchantID int64, name string) bool {
	p, err := v.path(merchantID, name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Delete removes the named container. Missing files are not an error.
func (v *Vault) Delete(merchantID int64, name string) error {
	p, err := v.path(merchantID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Check verifies the vault root is writable.
func (v *Vault) Check() error {
	if err := os.MkdirAll(v.root, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
