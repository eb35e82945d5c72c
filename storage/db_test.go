package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	key := []byte("account:alice")
	value := []byte{0x01, 0x02, 0x03}
	if err := db.Put(key, value); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("expected %x, got %x", value, got)
	}

	ok, err := db.Has(key)
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
}

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	ok, err := db.Has([]byte("absent"))
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if ok {
		t.Fatal("expected key to be absent")
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte{0xaa}
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 0xbb

	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0] != 0xaa {
		t.Fatal("stored value must not alias the caller's slice")
	}
	// Mutating the returned slice must not leak into the store either.
	got[0] = 0xcc
	again, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again[0] != 0xaa {
		t.Fatal("returned value must be a copy")
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	testBackendRoundTrip(t, db)
}

func TestBoltDBRoundTrip(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	testBackendRoundTrip(t, db)
}

func testBackendRoundTrip(t *testing.T, db Database) {
	t.Helper()
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %q", got)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("expected key to exist, got ok=%v err=%v", ok, err)
	}
	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
