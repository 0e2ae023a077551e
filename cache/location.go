package cache

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/quantropy/keygen/cryptoutils"
	"github.com/quantropy/keygen/interfaces"
)

const (
	blocksBucket   = "blocks"
	metadataBucket = "metadata"
	schemaVersion  = 1

	totalDownloadedKey = "total_downloaded_random"

	indexFileName = "index.db"
	blocksDirName = "blocks"
)

// ErrBlockCorrupted is returned when a block file is missing, truncated, or
// fails its checksum. The engine wraps it into a StorageError for the
// affected location.
var ErrBlockCorrupted = errors.New("block corrupted")

// BlockInfo describes one encrypted random block as recorded in a location's
// index. Seq is a per-location monotonic counter; together with CreatedAt it
// gives the oldest-first withdrawal order.
type BlockInfo struct {
	ID         uuid.UUID `json:"id"`
	LocationID string    `json:"location_id"`
	Seq        uint64    `json:"seq"`
	PlainLen   uint64    `json:"plain_len"`
	CipherLen  uint64    `json:"cipher_len"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// Location is one directory-backed random store. Block ciphertext lives in
// one file per block under blocks/; block metadata lives in a bbolt index
// next to them. The caller (the engine) serializes all mutations.
type Location struct {
	cfg interfaces.LocationConfig
	db  *bbolt.DB
	dir string
	log *slog.Logger
}

// OpenLocation creates or reopens a storage location. Orphan block files left
// behind by an interrupted write are removed; indexed blocks survive restarts.
func OpenLocation(cfg interfaces.LocationConfig, log *slog.Logger) (*Location, error) {
	blocksDir := filepath.Join(cfg.Path, blocksDirName)
	if err := os.MkdirAll(blocksDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create blocks directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(cfg.Path, indexFileName), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	loc := &Location{
		cfg: cfg,
		db:  db,
		dir: blocksDir,
		log: log.With("location", cfg.ID),
	}

	if err := loc.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	if err := loc.removeOrphans(); err != nil {
		db.Close()
		return nil, err
	}

	return loc, nil
}

func (l *Location) initialize() error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(blocksBucket)); err != nil {
			return fmt.Errorf("failed to create blocks bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// removeOrphans deletes block files that have no index entry. An interrupted
// write leaves the file but not the record, so the bytes were never usable.
func (l *Location) removeOrphans() error {
	blocks, err := l.Blocks()
	if err != nil {
		return err
	}

	indexed := make(map[string]struct{}, len(blocks))
	for _, info := range blocks {
		indexed[info.ID.String()] = struct{}{}
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to list blocks directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := indexed[entry.Name()]; ok {
			continue
		}
		l.log.Warn("Shredding orphaned block file", "file", entry.Name())
		if err := l.shredFile(filepath.Join(l.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove orphaned block: %w", err)
		}
	}

	return nil
}

// ID returns the configured location identifier.
func (l *Location) ID() string {
	return l.cfg.ID
}

// AvailableSize returns the location's configured capacity quota in bytes.
func (l *Location) AvailableSize() uint64 {
	return l.cfg.AvailableSize
}

// Blocks enumerates the location's blocks in insertion (oldest-first) order.
func (l *Location) Blocks() ([]BlockInfo, error) {
	var blocks []BlockInfo

	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", blocksBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			var info BlockInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("failed to unmarshal block record: %w", err)
			}
			blocks = append(blocks, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return blocks, nil
}

// UsedSize returns the on-disk ciphertext bytes currently consumed, counted
// against AvailableSize.
func (l *Location) UsedSize() (uint64, error) {
	blocks, err := l.Blocks()
	if err != nil {
		return 0, err
	}

	var used uint64
	for _, info := range blocks {
		used += info.CipherLen
	}
	return used, nil
}

// Headroom returns the ciphertext bytes that may still be written before the
// capacity quota is reached. A location over quota has zero headroom but
// still serves reads until drained.
func (l *Location) Headroom() (uint64, error) {
	used, err := l.UsedSize()
	if err != nil {
		return 0, err
	}
	if used >= l.cfg.AvailableSize {
		return 0, nil
	}
	return l.cfg.AvailableSize - used, nil
}

// WriteBlock persists a new encrypted block: ciphertext file first
// (write-to-temp-then-rename), index record second. A crash in between leaves
// an orphan file that removeOrphans clears on the next open.
func (l *Location) WriteBlock(ciphertext []byte, plainLen uint64) (BlockInfo, error) {
	info := BlockInfo{
		ID:         uuid.Must(uuid.NewRandom()),
		LocationID: l.cfg.ID,
		PlainLen:   plainLen,
		CipherLen:  uint64(len(ciphertext)),
		Checksum:   checksumHex(ciphertext),
		CreatedAt:  time.Now().UTC(),
	}

	if err := l.writeBlockFile(l.blockPath(info.ID), ciphertext); err != nil {
		return BlockInfo{}, err
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", blocksBucket)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate block sequence: %w", err)
		}
		info.Seq = seq

		record, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal block record: %w", err)
		}

		if err := bucket.Put(seqKey(seq), record); err != nil {
			return err
		}

		// Bump the lifetime download counter in the same transaction. The
		// counter survives block deletion and wipes.
		meta := tx.Bucket([]byte(metadataBucket))
		if meta == nil {
			return fmt.Errorf("bucket not found: %s", metadataBucket)
		}
		total := decodeCounter(meta.Get([]byte(totalDownloadedKey))) + plainLen
		return meta.Put([]byte(totalDownloadedKey), encodeCounter(total))
	})
	if err != nil {
		os.Remove(l.blockPath(info.ID))
		return BlockInfo{}, err
	}

	l.log.Debug("Stored random block",
		slog.String("block", info.ID.String()),
		slog.Uint64("plainLen", info.PlainLen))

	return info, nil
}

// ReadBlock loads a block's ciphertext and verifies it against the indexed
// checksum before returning it.
func (l *Location) ReadBlock(info BlockInfo) ([]byte, error) {
	data, err := os.ReadFile(l.blockPath(info.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockCorrupted, err)
	}

	if uint64(len(data)) != info.CipherLen || checksumHex(data) != info.Checksum {
		return nil, fmt.Errorf("%w: block %s checksum mismatch", ErrBlockCorrupted, info.ID)
	}

	return data, nil
}

// ReplaceBlock swaps a block's ciphertext while keeping its sequence position
// and age. The new ciphertext is written as a fresh file, the index record is
// repointed in one transaction, and only then is the old file shredded. At
// every instant the index references exactly one complete ciphertext; the old
// bytes never linger on disk. Used by device secret rotation and by
// withdrawal splits, which shrink PlainLen to the unconsumed remainder.
func (l *Location) ReplaceBlock(info BlockInfo, ciphertext []byte, plainLen uint64) (BlockInfo, error) {
	oldID := info.ID

	info.ID = uuid.Must(uuid.NewRandom())
	info.PlainLen = plainLen
	info.CipherLen = uint64(len(ciphertext))
	info.Checksum = checksumHex(ciphertext)

	if err := l.writeBlockFile(l.blockPath(info.ID), ciphertext); err != nil {
		return BlockInfo{}, err
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", blocksBucket)
		}

		record, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal block record: %w", err)
		}

		return bucket.Put(seqKey(info.Seq), record)
	})
	if err != nil {
		os.Remove(l.blockPath(info.ID))
		return BlockInfo{}, err
	}

	if err := l.shredFile(l.blockPath(oldID)); err != nil {
		return BlockInfo{}, err
	}

	return info, nil
}

// SecureDelete removes a block for good: index entry first so the block can
// never be served again, then overwrite-then-unlink of the ciphertext file.
func (l *Location) SecureDelete(info BlockInfo) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(blocksBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", blocksBucket)
		}
		return bucket.Delete(seqKey(info.Seq))
	})
	if err != nil {
		return err
	}

	return l.shredFile(l.blockPath(info.ID))
}

// shredFile overwrites file contents with zeros and syncs before unlinking.
func (l *Location) shredFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open block for shredding: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat block: %w", err)
	}

	zeros := make([]byte, st.Size())
	if _, err := f.WriteAt(zeros, 0); err != nil {
		f.Close()
		return fmt.Errorf("failed to overwrite block: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync shredded block: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// Verify checks that the location is accessible and every indexed block is
// present with a matching checksum. It reads every block file, so callers
// should treat it as a deliberate health check rather than a cheap accessor.
func (l *Location) Verify() error {
	if _, err := os.Stat(l.dir); err != nil {
		return fmt.Errorf("location inaccessible: %w", err)
	}

	blocks, err := l.Blocks()
	if err != nil {
		return err
	}

	for _, info := range blocks {
		if _, err := l.ReadBlock(info); err != nil {
			return err
		}
	}

	return nil
}

// Close releases the index database.
func (l *Location) Close() error {
	return l.db.Close()
}

func (l *Location) blockPath(id uuid.UUID) string {
	return filepath.Join(l.dir, id.String())
}

// writeBlockFile writes data to a temp file in the same directory and renames
// it into place so a crash can never leave a half-written block visible.
func (l *Location) writeBlockFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(l.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp block: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write block: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move block into place: %w", err)
	}

	return nil
}

// TotalDownloaded returns the lifetime count of random bytes ever written to
// this location. It is preserved across block deletion and wipes.
func (l *Location) TotalDownloaded() (uint64, error) {
	var total uint64
	err := l.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metadataBucket))
		if meta == nil {
			return fmt.Errorf("bucket not found: %s", metadataBucket)
		}
		total = decodeCounter(meta.Get([]byte(totalDownloadedKey)))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func encodeCounter(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeCounter(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

func checksumHex(data []byte) string {
	sum := cryptoutils.Checksum(data)
	return hex.EncodeToString(sum[:])
}
