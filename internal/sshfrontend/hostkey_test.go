package sshfrontend

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateHostKeyGeneratesWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")

	signer, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("loadOrGenerateHostKey() error = %v", err)
	}
	if signer == nil {
		t.Fatal("signer is nil")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	if info.Size() == 0 {
		t.Error("generated key file is empty")
	}
}

func TestLoadOrGenerateHostKeyReloadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")

	first, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("first load error = %v", err)
	}

	second, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("second load error = %v", err)
	}

	if string(first.PublicKey().Marshal()) != string(second.PublicKey().Marshal()) {
		t.Error("reloading an existing key produced a different public key")
	}
}

func TestLoadOrGenerateHostKeyRegeneratesWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}

	signer, err := loadOrGenerateHostKey(path)
	if err != nil {
		t.Fatalf("loadOrGenerateHostKey() error = %v", err)
	}
	if signer == nil {
		t.Fatal("signer is nil")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("expected an empty key file to be regenerated with content")
	}
}

func TestLoadOrGenerateHostKeyFixesLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	if _, err := loadOrGenerateHostKey(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadOrGenerateHostKey(path); err != nil {
		t.Fatalf("loadOrGenerateHostKey() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600 after reload", info.Mode().Perm())
	}
}
