package gemini

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func testTrustStore(t *testing.T, store TrustStore) {
	t.Helper()

	if _, ok, err := store.Lookup("example.com"); err != nil || ok {
		t.Fatalf("expected no pin before first use, got ok=%v err=%v", ok, err)
	}

	if err := store.RecordOrCompare("example.com", "D1"); err != nil {
		t.Fatalf("failed to pin first key: %v", err)
	}
	if err := store.RecordOrCompare("example.com", "D1"); err != nil {
		t.Fatalf("same key refused: %v", err)
	}

	err := store.RecordOrCompare("example.com", "D2")
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected a mismatch error, got %v", err)
	}
	if mismatch.Old != "D1" || mismatch.New != "D2" || mismatch.Key != "example.com" {
		t.Errorf("unexpected mismatch %+v", mismatch)
	}
	if !strings.Contains(mismatch.Error(), "former key was D1, new is D2") {
		t.Errorf("unexpected message %q", mismatch.Error())
	}

	digest, ok, err := store.Lookup("example.com")
	if err != nil || !ok || digest != "D1" {
		t.Fatalf("pin was changed by a mismatch: %q ok=%v err=%v", digest, ok, err)
	}
	if err := store.RecordOrCompare("example.com", "D1"); err != nil {
		t.Fatalf("original key refused after a mismatch: %v", err)
	}

	// Ports are part of the key.
	if err := store.RecordOrCompare("example.com:1966", "D2"); err != nil {
		t.Fatalf("failed to pin key for another port: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tofu")
	store := NewFileStore(dir)
	testTrustStore(t, store)

	data, err := os.ReadFile(filepath.Join(dir, "example.com"))
	if err != nil {
		t.Fatalf("pin file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != "D1" {
		t.Errorf("unexpected pin file content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "example.com:1966")); err != nil {
		t.Errorf("pin file for port missing: %v", err)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	if err := NewFileStore(dir).RecordOrCompare("example.com", "D1"); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}
	err := NewFileStore(dir).RecordOrCompare("example.com", "D2")
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected a mismatch from a new store on the same directory, got %v", err)
	}
	if mismatch.Location != filepath.Join(dir, "example.com") {
		t.Errorf("unexpected location %s", mismatch.Location)
	}
}

func TestFileStoreKeepsInsideDir(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "pins"))
	if err := store.RecordOrCompare("../escape", "D1"); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); err == nil {
		t.Fatalf("pin written outside of the store directory")
	}
}

func TestFileStoreDisabled(t *testing.T) {
	store := NewFileStore("")
	if err := store.RecordOrCompare("example.com", "D1"); err != nil {
		t.Fatalf("disabled store refused: %v", err)
	}
	if err := store.RecordOrCompare("example.com", "D2"); err != nil {
		t.Fatalf("disabled store compared keys: %v", err)
	}
	if _, ok, _ := store.Lookup("example.com"); ok {
		t.Fatalf("disabled store returned a pin")
	}
}

func TestFileStoreConcurrent(t *testing.T) {
	store := NewFileStore(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.RecordOrCompare("example.com", "D1")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent pinning of the same key failed: %v", err)
		}
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tofu.db")
	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	testTrustStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()
	digest, ok, err := reopened.Lookup("example.com")
	if err != nil || !ok || digest != "D1" {
		t.Fatalf("pin not persisted: %q ok=%v err=%v", digest, ok, err)
	}
}
