// Package ident manages identity for groupq: ULID generation for messages and
// the persistent identity of a server instance. The instance ID is generated
// on first start and stored in the data directory so it survives restarts —
// the same property group identifiers rely on for correlating a queue with
// its persisted backlog.
package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const instanceIDFile = "instance_id"

// ID is a ULID string identifying a groupq process.
// It is stable across restarts within the same data directory.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool { return id == "" }

// Instance holds the persistent identity of a server process.
type Instance struct {
	id      ID
	dataDir string
}

// NewInstance returns an Instance whose ID is loaded from dataDir/instance_id.
// If the file does not exist a new ULID is generated and written.
// If override is "auto" or empty the file-based ID is used.
func NewInstance(dataDir, override string) (*Instance, error) {
	if dataDir == "" {
		return nil, errors.New("ident: dataDir must not be empty")
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("ident: create data dir: %w", err)
	}

	// Explicit override takes precedence (useful in tests / container envs).
	if override != "" && override != "auto" {
		if err := Validate(override); err != nil {
			return nil, fmt.Errorf("ident: invalid id override %q: %w", override, err)
		}
		return &Instance{id: ID(override), dataDir: dataDir}, nil
	}

	id, err := loadOrGenerate(dataDir)
	if err != nil {
		return nil, err
	}
	return &Instance{id: id, dataDir: dataDir}, nil
}

// ID returns the instance's stable ULID string.
func (n *Instance) ID() ID { return n.id }

// DataDir returns the root data directory for this instance.
func (n *Instance) DataDir() string { return n.dataDir }

// loadOrGenerate reads the instance ID from disk, creating a new one if absent.
func loadOrGenerate(dataDir string) (ID, error) {
	path := filepath.Join(dataDir, instanceIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if err := Validate(id); err != nil {
			return "", fmt.Errorf("ident: persisted id %q is invalid: %w", id, err)
		}
		return ID(id), nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("ident: read id file: %w", err)
	}

	id, err := generateULID()
	if err != nil {
		return "", fmt.Errorf("ident: generate id: %w", err)
	}

	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("ident: persist id: %w", err)
	}

	return ID(id), nil
}

// monoEntropy is a package-level monotone entropy source shared across all
// generateULID calls. Using a single shared source ensures that ULIDs remain
// lexicographically ordered even when generated within the same millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// generateULID creates a new time-ordered ULID using the shared monotone
// entropy source. The mutex ensures monotonicity across concurrent calls.
func generateULID() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Validate returns an error if s is not a well-formed ULID string.
func Validate(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}

// NewID generates a fresh ULID. Used for message IDs throughout groupq.
func NewID() (string, error) {
	return generateULID()
}

// MustNewID is like NewID but panics on error. Use only in tests or init code.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("ident.MustNewID: %v", err))
	}
	return id
}
