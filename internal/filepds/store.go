// Package filepds implements the local filesystem PDS backend. A PDS
// root holds per-DID account metadata, per-collection record files, and
// an append-only firehose log shared safely across processes.
//
// Layout under <root>/pds/:
//
//	accounts/<did>/account.json
//	repos/<did>/collections/<nsid>/<rkey>.json
//	firehose.jsonl
//	firehose.lock
//
// DID directory names replace ":" with "_" so they stay portable.
package filepds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/bcrypt"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// Sentinel errors for store operations.
var (
	ErrAccountNotFound = errors.New("filepds: account not found")
	ErrRecordNotFound  = errors.New("filepds: record not found")
	ErrHandleTaken     = errors.New("filepds: handle already taken")
)

// Default page size for ListRecords when the caller passes limit <= 0.
const defaultListLimit = 50

// Account is the on-disk account document.
type Account struct {
	DID          syntax.DID `json:"did"`
	Handle       string     `json:"handle"`
	CreatedAt    string     `json:"created_at"`
	PasswordHash string     `json:"password_hash"`
}

// logEvent is one firehose.jsonl line.
type logEvent struct {
	URI   string          `json:"uri"`
	Time  string          `json:"time"`
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Store owns the on-disk layout of one PDS root.
type Store struct {
	root string // <root>/pds
}

// NewStore opens (creating if needed) the PDS layout under root.
func NewStore(root string) (*Store, error) {
	pdsDir := filepath.Join(root, "pds")
	for _, dir := range []string{pdsDir, filepath.Join(pdsDir, "accounts"), filepath.Join(pdsDir, "repos")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("filepds: init layout: %w", err)
		}
	}
	return &Store{root: pdsDir}, nil
}

// Dir returns the pds directory this store manages.
func (s *Store) Dir() string { return s.root }

func (s *Store) firehosePath() string { return filepath.Join(s.root, "firehose.jsonl") }
func (s *Store) lockPath() string     { return filepath.Join(s.root, "firehose.lock") }

// didDir makes a DID safe as a directory name.
func didDir(did syntax.DID) string {
	return strings.ReplaceAll(did.String(), ":", "_")
}

func (s *Store) accountPath(did syntax.DID) string {
	return filepath.Join(s.root, "accounts", didDir(did), "account.json")
}

func (s *Store) collectionDir(did syntax.DID, collection syntax.NSID) string {
	return filepath.Join(s.root, "repos", didDir(did), "collections", collection.String())
}

func (s *Store) recordPath(uri syntax.ATURI) string {
	return filepath.Join(s.collectionDir(uri.Repo(), uri.Collection()), uri.RecordKey().String()+".json")
}

// writeFileAtomic writes data to a temporary sibling, syncs it, and
// renames over path. Readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// appendEvent appends exactly one newline-terminated JSON line to the
// firehose under an exclusive OS-level lock on firehose.lock. The line
// plus newline is written in one syscall so concurrent writers from
// other processes cannot interleave partial lines.
func (s *Store) appendEvent(ev logEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("filepds: encode firehose event: %w", err)
	}

	lock := flock.New(s.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("filepds: acquire firehose lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(s.firehosePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("filepds: open firehose: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("filepds: append firehose event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("filepds: sync firehose: %w", err)
	}
	return nil
}

// GenerateRKey mints a timestamp-based record key: the current clock in
// microseconds, hex-formatted. Stays within [a-zA-Z0-9._~-].
func GenerateRKey() syntax.RecordKey {
	return syntax.RecordKey(fmt.Sprintf("%x", time.Now().UnixMicro()))
}

// ComputeCID derives the deterministic content identifier for a record
// body: CIDv1, raw codec, SHA2-256.
func ComputeCID(data []byte) (string, error) {
	prefix := cid.NewPrefixV1(cid.Raw, multihash.SHA2_256)
	c, err := prefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("filepds: compute cid: %w", err)
	}
	return c.String(), nil
}

// CreateRecord writes the record file atomically, then appends a create
// event. rkey may be empty, in which case one is generated. Returns the
// record's URI and CID.
func (s *Store) CreateRecord(did syntax.DID, collection syntax.NSID, rkey syntax.RecordKey, value repo.Value) (syntax.ATURI, string, error) {
	if rkey == "" {
		rkey = GenerateRKey()
	}
	uri := syntax.ATURIFrom(did, collection, rkey)

	data, err := json.Marshal(value)
	if err != nil {
		return syntax.ATURI{}, "", fmt.Errorf("filepds: encode record: %w", err)
	}

	if err := os.MkdirAll(s.collectionDir(did, collection), 0o755); err != nil {
		return syntax.ATURI{}, "", fmt.Errorf("filepds: create collection dir: %w", err)
	}
	if err := writeFileAtomic(s.recordPath(uri), data); err != nil {
		return syntax.ATURI{}, "", fmt.Errorf("filepds: write record %s: %w", uri, err)
	}

	recordCID, err := ComputeCID(data)
	if err != nil {
		return syntax.ATURI{}, "", err
	}

	err = s.appendEvent(logEvent{
		URI:   uri.String(),
		Time:  time.Now().UTC().Format(time.RFC3339),
		Op:    "create",
		Value: data,
	})
	if err != nil {
		// The record file is already on disk; the caller learns the
		// firehose is behind the repo and may re-drive.
		return syntax.ATURI{}, "", err
	}
	return uri, recordCID, nil
}

// GetRecord reads a record file. Returns ErrRecordNotFound if absent.
func (s *Store) GetRecord(uri syntax.ATURI) (repo.Record, error) {
	data, err := os.ReadFile(s.recordPath(uri))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return repo.Record{}, ErrRecordNotFound
		}
		return repo.Record{}, fmt.Errorf("filepds: read record %s: %w", uri, err)
	}

	var value repo.Value
	if err := json.Unmarshal(data, &value); err != nil {
		return repo.Record{}, fmt.Errorf("filepds: record %s: %w", uri, err)
	}

	recordCID, err := ComputeCID(data)
	if err != nil {
		return repo.Record{}, err
	}
	return repo.Record{URI: uri, CID: recordCID, Value: value}, nil
}

// ListRecords pages through a collection, record keys ascending. cursor
// skips up to and including that key; a non-empty cursor comes back
// when the page is full.
func (s *Store) ListRecords(did syntax.DID, collection syntax.NSID, limit int, cursor string) (repo.ListRecordsOutput, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	entries, err := os.ReadDir(s.collectionDir(did, collection))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return repo.ListRecordsOutput{Records: []repo.Record{}}, nil
		}
		return repo.ListRecordsOutput{}, fmt.Errorf("filepds: list %s/%s: %w", did, collection, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		if cursor != "" && key <= cursor {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := repo.ListRecordsOutput{Records: make([]repo.Record, 0, len(keys))}
	for _, key := range keys {
		rkey, err := syntax.ParseRecordKey(key)
		if err != nil {
			continue
		}
		rec, err := s.GetRecord(syntax.ATURIFrom(did, collection, rkey))
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return repo.ListRecordsOutput{}, err
		}
		out.Records = append(out.Records, rec)
	}

	if len(keys) == limit {
		out.Cursor = keys[len(keys)-1]
	}
	return out, nil
}

// DeleteRecord removes the record file if present and always appends
// exactly one delete event. Deleting a missing record succeeds.
func (s *Store) DeleteRecord(uri syntax.ATURI) error {
	if err := os.Remove(s.recordPath(uri)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filepds: delete record %s: %w", uri, err)
	}
	return s.appendEvent(logEvent{
		URI:  uri.String(),
		Time: time.Now().UTC().Format(time.RFC3339),
		Op:   "delete",
	})
}

// MintDID generates a new did:plc-form identifier from random UUID
// material.
func MintDID() syntax.DID {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return syntax.DID("did:plc:" + id[:24])
}

// CreateAccount mints a DID, hashes the password, and persists the
// account document. Returns ErrHandleTaken if the handle exists.
func (s *Store) CreateAccount(handle, password string) (Account, error) {
	if handle == "" {
		return Account{}, aterr.NewInvalidInput("filepds: handle cannot be empty")
	}
	if password == "" {
		return Account{}, aterr.NewInvalidInput("filepds: password cannot be empty")
	}
	if existing, err := s.FindAccountByHandle(handle); err == nil && existing.Handle == handle {
		return Account{}, ErrHandleTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("filepds: hash password: %w", err)
	}

	acct := Account{
		DID:          MintDID(),
		Handle:       handle,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		PasswordHash: string(hash),
	}
	if err := s.putAccount(acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

func (s *Store) putAccount(acct Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("filepds: encode account: %w", err)
	}
	path := s.accountPath(acct.DID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filepds: create account dir: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("filepds: write account %s: %w", acct.DID, err)
	}
	return nil
}

// GetAccount reads an account by DID. Returns ErrAccountNotFound if
// absent.
func (s *Store) GetAccount(did syntax.DID) (Account, error) {
	data, err := os.ReadFile(s.accountPath(did))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("filepds: read account %s: %w", did, err)
	}
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return Account{}, fmt.Errorf("filepds: account %s: %w", did, err)
	}
	return acct, nil
}

// ListAccounts enumerates every stored account.
func (s *Store) ListAccounts() ([]Account, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "accounts"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filepds: list accounts: %w", err)
	}

	accounts := make([]Account, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, "accounts", e.Name(), "account.json"))
		if err != nil {
			continue
		}
		var acct Account
		if err := json.Unmarshal(data, &acct); err != nil {
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// FindAccountByHandle scans accounts for a handle match. Returns
// ErrAccountNotFound if no account matches.
func (s *Store) FindAccountByHandle(handle string) (Account, error) {
	accounts, err := s.ListAccounts()
	if err != nil {
		return Account{}, err
	}
	for _, acct := range accounts {
		if acct.Handle == handle {
			return acct, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

// RemoveAccount deletes the repos/<did> subtree and the account
// directory. Every removed record yields one firehose delete event.
func (s *Store) RemoveAccount(did syntax.DID) error {
	if _, err := s.GetAccount(did); err != nil {
		return err
	}

	repoDir := filepath.Join(s.root, "repos", didDir(did))
	collectionsDir := filepath.Join(repoDir, "collections")
	if entries, err := os.ReadDir(collectionsDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			collection, err := syntax.ParseNSID(e.Name())
			if err != nil {
				continue
			}
			if err := s.deleteCollection(did, collection); err != nil {
				return err
			}
		}
	}
	if err := os.RemoveAll(repoDir); err != nil {
		return fmt.Errorf("filepds: remove repo %s: %w", did, err)
	}
	if err := os.RemoveAll(filepath.Dir(s.accountPath(did))); err != nil {
		return fmt.Errorf("filepds: remove account %s: %w", did, err)
	}
	return nil
}

func (s *Store) deleteCollection(did syntax.DID, collection syntax.NSID) error {
	entries, err := os.ReadDir(s.collectionDir(did, collection))
	if err != nil {
		return nil
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rkey, err := syntax.ParseRecordKey(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if err := s.DeleteRecord(syntax.ATURIFrom(did, collection, rkey)); err != nil {
			return err
		}
	}
	return nil
}
