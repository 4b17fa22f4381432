// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package keystore remembers the secrets that unlocked encrypted packages,
// so that reopening a package does not ask for its key again.
//
// Secrets are filed under a BLAKE3 digest of the prompt label and an identity for the package,
// normally [Identity] of the file being opened.
package keystore

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/elliotnunn/gamearchives/internal/archive"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// EnvVar names the directory of the store used by the command-line tool.
const EnvVar = "GAMEARCHIVES_KEYSTORE"

type Store struct {
	db *pebble.DB
}

type record struct {
	Label  string `cbor:"1,keyasint"`
	Secret string `cbor:"2,keyasint"`
	Saved  int64  `cbor:"3,keyasint"` // unix seconds
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("keystore: CBOR encoder initialization failed: " + err.Error())
	}
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Identity digests the name, size and leading bytes of f.
func Identity(f archive.File) []byte {
	h := blake3.New()
	h.Write([]byte(f.Name()))
	h.Write([]byte{0})
	h.Write(binary.LittleEndian.AppendUint64(nil, uint64(f.Size())))
	h.Write(archive.Peek(f, 0, 0x10000))
	return h.Sum(nil)
}

func key(label string, identity []byte) []byte {
	h := blake3.New()
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write(identity)
	return h.Sum(nil)
}

func (s *Store) get(k []byte) (record, bool, error) {
	v, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, false, nil
	} else if err != nil {
		return record{}, false, err
	}
	defer closer.Close()
	var rec record
	if err := cbor.Unmarshal(v, &rec); err != nil {
		return record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) put(k []byte, rec record) error {
	v, err := encMode.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(k, v, pebble.Sync)
}

// Forget removes the secret for a label, e.g. after it was rejected.
func (s *Store) Forget(label string, identity []byte) error {
	return s.db.Delete(key(label, identity), pebble.Sync)
}

// Session serves secrets for one package.
// Answers from the prompt are held back until Confirm,
// so that a rejected secret is never stored.
type Session struct {
	store    *Store
	identity []byte
	prompt   archive.PasscodeFunc

	mu      sync.Mutex
	pending map[string]string
	served  []string // labels answered from the store
}

// Wrap returns a session whose Passcode method consults the store before prompt.
// A nil prompt declines every label that is not stored.
func (s *Store) Wrap(identity []byte, prompt archive.PasscodeFunc) *Session {
	return &Session{store: s, identity: identity, prompt: prompt, pending: make(map[string]string)}
}

// Passcode satisfies [archive.PasscodeFunc].
func (se *Session) Passcode(label string) string {
	rec, ok, err := se.store.get(key(label, se.identity))
	if err != nil {
		slog.Warn("keystoreReadError", "label", label, "err", err)
	} else if ok {
		slog.Debug("keystoreHit", "label", label)
		se.mu.Lock()
		se.served = append(se.served, label)
		se.mu.Unlock()
		return rec.Secret
	}
	if se.prompt == nil {
		return ""
	}
	secret := se.prompt(label)
	if secret != "" {
		se.mu.Lock()
		se.pending[label] = secret
		se.mu.Unlock()
	}
	return secret
}

// Confirm stores every secret the prompt supplied during this session.
// Call it once the package has opened successfully.
func (se *Session) Confirm() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	var errs []error
	for label, secret := range se.pending {
		rec := record{Label: label, Secret: secret, Saved: time.Now().Unix()}
		errs = append(errs, se.store.put(key(label, se.identity), rec))
	}
	clear(se.pending)
	return errors.Join(errs...)
}

// Reject forgets the stored secrets this session handed out,
// for when the package refused them.
func (se *Session) Reject() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	var errs []error
	for _, label := range se.served {
		errs = append(errs, se.store.Forget(label, se.identity))
	}
	se.served = nil
	clear(se.pending)
	return errors.Join(errs...)
}

var _ io.Closer = new(Store)
