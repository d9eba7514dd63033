// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vellum-notes/vellum/lib/clock"
	"github.com/vellum-notes/vellum/lib/wire"
)

// recordExtension marks archived turn files: zstd-compressed CBOR.
const recordExtension = ".vcz"

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The
// same turn always archives to identical bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields for
// forward compatibility.
var decMode cbor.DecMode

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Tool inputs and outputs decode into any-typed values; the
		// CBOR default map type is incompatible with encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Record is one archived turn: the user prompt and the assistant
// message that resolved it, with the registry's ordering key.
type Record struct {
	SessionID  string                   `cbor:"session_id"`
	VaultID    string                   `cbor:"vault_id"`
	Seq        int64                    `cbor:"seq"`
	Prompt     wire.ConversationMessage `cbor:"prompt"`
	Response   wire.ConversationMessage `cbor:"response"`
	ArchivedAt time.Time                `cbor:"archived_at"`
}

// Config holds archive construction parameters.
type Config struct {
	// Root is the directory turn files are stored under, one
	// subdirectory per session. Required.
	Root string

	// Clock stamps records. Required.
	Clock clock.Clock

	// Logger receives archive events. Nil discards.
	Logger *slog.Logger
}

// Archive writes and reads turn records. Safe for concurrent use;
// records are immutable once written.
type Archive struct {
	root   string
	clock  clock.Clock
	logger *slog.Logger
}

// New validates the configuration and opens the archive, creating the
// root directory as needed.
func New(config Config) (*Archive, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("archive: Root is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("archive: Clock is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(config.Root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: creating root %s: %w", config.Root, err)
	}
	return &Archive{root: config.Root, clock: config.Clock, logger: logger}, nil
}

// Store archives one completed turn. The record's ArchivedAt is
// stamped here; storing the same seq twice overwrites (records are
// content-equal when the turn is).
func (a *Archive) Store(record Record) error {
	if record.SessionID == "" {
		return fmt.Errorf("archive: record has no session ID")
	}
	record.ArchivedAt = a.clock.Now().UTC()

	encoded, err := encMode.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: encoding turn %d of %s: %w", record.Seq, record.SessionID, err)
	}
	compressed := zstdEncoder.EncodeAll(encoded, nil)

	directory := filepath.Join(a.root, record.SessionID)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("archive: creating session directory: %w", err)
	}
	path := filepath.Join(directory, recordName(record.Seq))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("archive: writing %s: %w", path, err)
	}

	a.logger.Info("turn archived",
		"session_id", record.SessionID, "seq", record.Seq,
		"encoded_bytes", len(encoded), "compressed_bytes", len(compressed))
	return nil
}

// Load reads one archived turn.
func (a *Archive) Load(sessionID string, seq int64) (Record, error) {
	path := filepath.Join(a.root, sessionID, recordName(seq))
	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("archive: no record for turn %d of %s", seq, sessionID)
		}
		return Record{}, fmt.Errorf("archive: reading %s: %w", path, err)
	}

	encoded, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return Record{}, fmt.Errorf("archive: decompressing %s: %w", path, err)
	}
	var record Record
	if err := decMode.Unmarshal(encoded, &record); err != nil {
		return Record{}, fmt.Errorf("archive: decoding %s: %w", path, err)
	}
	return record, nil
}

// Seqs returns the archived turn sequence numbers for a session,
// ascending. A session with no archive directory has no turns.
func (a *Archive) Seqs(sessionID string) ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(a.root, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: listing session %s: %w", sessionID, err)
	}

	var seqs []int64
	for _, entry := range entries {
		name, isRecord := strings.CutSuffix(entry.Name(), recordExtension)
		if !isRecord || entry.IsDir() {
			continue
		}
		seq, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Delete removes a session's archived turns. Deleting a session with
// no archive is a no-op, matching registry delete semantics for
// sessions that never completed a turn.
func (a *Archive) Delete(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("archive: empty session ID")
	}
	if err := os.RemoveAll(filepath.Join(a.root, sessionID)); err != nil {
		return fmt.Errorf("archive: deleting session %s: %w", sessionID, err)
	}
	return nil
}

func recordName(seq int64) string {
	return fmt.Sprintf("%08d%s", seq, recordExtension)
}
