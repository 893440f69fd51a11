package credentials

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var _ Backend = (*FileBackend)(nil)

// FileBackend keeps credentials in a JSON document on disk so a session
// survives between CLI invocations. The file is re-read on every access,
// which lets several processes share it.
type FileBackend struct {
	path    string
	sealKey *[32]byte
	lock    sync.RWMutex
}

// FileBackendOption configures a FileBackend.
type FileBackendOption func(*FileBackend)

// WithSealKey encrypts the document at rest with NaCl secretbox.
func WithSealKey(key [32]byte) FileBackendOption {
	return func(fb *FileBackend) {
		fb.sealKey = &key
	}
}

func NewFileBackend(path string, options ...FileBackendOption) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("[NewFileBackend] path is required")
	}
	fb := &FileBackend{path: path}
	for _, opt := range options {
		opt(fb)
	}
	return fb, nil
}

func (fb *FileBackend) Get(_ context.Context, slot Slot) (string, error) {
	fb.lock.RLock()
	defer fb.lock.RUnlock()

	doc, err := fb.load()
	if err != nil {
		return "", err
	}
	value, ok := doc[slot]
	if !ok {
		return "", apperrors.ErrSlotNotFound
	}
	return value, nil
}

// Set writes one slot. A document that cannot be opened is replaced.
func (fb *FileBackend) Set(_ context.Context, slot Slot, value string) error {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	doc, err := fb.load()
	if apperrors.Is(err, apperrors.ErrSealedStore) {
		doc = make(map[Slot]string)
	} else if err != nil {
		return err
	}
	doc[slot] = value
	return fb.save(doc)
}

// Delete removes slots. A document that cannot be opened is removed whole,
// so clearing always leaves a usable store behind.
func (fb *FileBackend) Delete(_ context.Context, slots ...Slot) error {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	doc, err := fb.load()
	if apperrors.Is(err, apperrors.ErrSealedStore) {
		doc = make(map[Slot]string)
	} else if err != nil {
		return err
	}
	for _, slot := range slots {
		delete(doc, slot)
	}
	if len(doc) == 0 {
		if err := os.Remove(fb.path); err != nil && !os.IsNotExist(err) {
			return apperrors.Wrapf(err, "[FileBackend.Delete] remove %s", fb.path)
		}
		return nil
	}
	return fb.save(doc)
}

func (fb *FileBackend) load() (map[Slot]string, error) {
	doc := make(map[Slot]string)

	data, err := os.ReadFile(fb.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "[FileBackend.load] read %s", fb.path)
	}

	if fb.sealKey != nil {
		if data, err = fb.open(data); err != nil {
			return nil, err
		}
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSealedStore, "[FileBackend.load] decode %s: %v", fb.path, err)
	}
	return doc, nil
}

func (fb *FileBackend) save(doc map[Slot]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrapf(err, "[FileBackend.save] encode")
	}

	if fb.sealKey != nil {
		if data, err = fb.seal(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(fb.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.Wrapf(err, "[FileBackend.save] create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return apperrors.Wrapf(err, "[FileBackend.save] create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[FileBackend.save] write")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[FileBackend.save] chmod")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrapf(err, "[FileBackend.save] close")
	}
	if err := os.Rename(tmp.Name(), fb.path); err != nil {
		return apperrors.Wrapf(err, "[FileBackend.save] rename")
	}
	return nil
}

func (fb *FileBackend) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, apperrors.Wrapf(err, "[FileBackend.seal] nonce")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, fb.sealKey), nil
}

func (fb *FileBackend) open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, apperrors.ErrSealedStore
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, fb.sealKey)
	if !ok {
		return nil, apperrors.ErrSealedStore
	}
	return plain, nil
}
