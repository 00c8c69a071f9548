package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetAPIKeyFromEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "test-api-key-12345")

	key, err := GetAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-api-key-12345" {
		t.Errorf("expected key %q, got %q", "test-api-key-12345", key)
	}
}

func TestGetAPIKeyNoSource(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	t.Setenv("HOME", t.TempDir())

	if _, err := GetAPIKey(); err == nil {
		t.Error("expected error when no API key source available")
	}
}

func TestGetCredentialPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := getCredentialPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := filepath.Join(home, ".untrunc-batch", "credentials.gpg")
	if path != expected {
		t.Errorf("expected path %q, got %q", expected, path)
	}
}

func TestPassphraseFilePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".untrunc-batch")
	os.MkdirAll(dir, 0o700)
	path := filepath.Join(dir, ".gpg-passphrase")

	if _, ok := passphraseFile(); ok {
		t.Error("expected no passphrase file")
	}

	os.WriteFile(path, []byte("pw"), 0o644)
	if _, ok := passphraseFile(); ok {
		t.Error("world-readable passphrase file must be skipped")
	}

	os.Chmod(path, 0o600)
	if got, ok := passphraseFile(); !ok || got != path {
		t.Errorf("expected passphrase file %q, got %q (%v)", path, got, ok)
	}
}

func TestHashKey(t *testing.T) {
	// sha256("secret")
	const want = "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := HashKey("secret"); got != want {
		t.Errorf("HashKey() = %s, want %s", got, want)
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(strings.ToUpper(HashKey("secret")) + "\n")

	tests := []struct {
		name     string
		key      string
		wantType ValidationErrorType
		wantErr  bool
	}{
		{name: "valid", key: "secret"},
		{name: "missing", key: "", wantErr: true, wantType: ErrTypeNoKey},
		{name: "wrong", key: "guess", wantErr: true, wantType: ErrTypeInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.key)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Type != tt.wantType {
				t.Errorf("expected type %d, got %d", tt.wantType, ve.Type)
			}
		})
	}
}

func TestValidatorDisabled(t *testing.T) {
	v := NewValidator("")
	if v.Enabled() {
		t.Error("empty hash should disable validation")
	}
	if err := v.Validate(""); err != nil {
		t.Errorf("disabled validator rejected request: %v", err)
	}
}
