package config

import "testing"

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox("test-passphrase")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	sealed, err := box.Seal("s3cr3t-api-key")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "s3cr3t-api-key" {
		t.Fatalf("got %q, want s3cr3t-api-key", opened)
	}
}

func TestSecretBoxWrongPassphrase(t *testing.T) {
	box, _ := NewSecretBox("right")
	sealed, _ := box.Seal("payload")

	wrongBox, _ := NewSecretBox("wrong")
	if _, err := wrongBox.Open(sealed); err == nil {
		t.Fatal("expected error decrypting with wrong passphrase")
	}
}

func TestNewSecretBoxEmptyPassphrase(t *testing.T) {
	if _, err := NewSecretBox(""); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}
