package sshfrontend

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// maxHostKeySize bounds the sanity check on an existing key file: larger
// than this and it's treated as corrupt rather than loaded.
const maxHostKeySize = 10 * 1024 * 1024

// loadOrGenerateHostKey loads the PEM-encoded RSA private key at path,
// regenerating a fresh 4096-bit key if the file is missing, empty, or
// implausibly large. A freshly generated key is written to a temp file
// in the same directory and atomically renamed into place, with 0600
// permissions throughout. An existing, usable file has its mode
// corrected to 0600 rather than rejected.
func loadOrGenerateHostKey(path string) (ssh.Signer, error) {
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 && info.Size() <= maxHostKeySize {
		if info.Mode().Perm() != 0600 {
			if err := os.Chmod(path, 0600); err != nil {
				return nil, fmt.Errorf("chmod host key: %w", err)
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read host key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		return signer, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	encoded := pem.EncodeToMemory(block)

	if err := writeFileAtomic(path, encoded, 0600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("sign host key: %w", err)
	}
	return signer, nil
}

// writeFileAtomic writes data to a temp file beside path, then renames
// it into place so a concurrent reader never observes a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
