package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/quantropy/keygen/cryptoutils"
	"github.com/quantropy/keygen/interfaces"
)

// DefaultMaxBlockSize caps the plaintext size of a single random block.
// Downloads are carved into blocks of at most this size so withdrawal splits
// stay cheap.
const DefaultMaxBlockSize = 32 * 1024

// Engine owns a set of storage locations and keeps them filled with encrypted
// random downloaded from the entropy source. It serves exactly-once
// withdrawals, rotates the device secret, and wipes on demand.
//
// All inventory mutation happens under the engine's exclusive lock. Rotation
// and wipe additionally mark the engine busy so concurrent withdrawals fail
// fast with a CacheBusyError instead of blocking for their full duration.
type Engine struct {
	source interfaces.EntropySource
	log    *slog.Logger

	mu          sync.RWMutex
	busy        string
	initialized bool
	cfg         interfaces.CacheConfig
	token       string
	locations   []*Location
	cipher      *cryptoutils.BlockCipher
	state       interfaces.CacheState

	totalDownloaded atomic.Uint64
	maxBlockSize    uint64

	maintCancel context.CancelFunc
	maintWG     sync.WaitGroup
}

// NewEngine creates an engine bound to an entropy source. The engine is inert
// until InitializeAsync succeeds.
func NewEngine(source interfaces.EntropySource, log *slog.Logger) *Engine {
	return &Engine{
		source:       source,
		log:          log,
		state:        interfaces.CacheStateDownloading,
		maxBlockSize: DefaultMaxBlockSize,
	}
}

// InitializeAsync validates the configuration, opens every storage location,
// and starts the background maintenance loop. It returns immediately; the
// initial pool download happens out-of-band.
func (e *Engine) InitializeAsync(token string, cfg interfaces.CacheConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	cipher, err := cryptoutils.NewBlockCipher(cfg.DeviceSecret)
	if err != nil {
		return &interfaces.ConfigError{Reason: err.Error()}
	}

	locations := make([]*Location, 0, len(cfg.Locations))
	for _, locCfg := range cfg.Locations {
		loc, err := OpenLocation(locCfg, e.log)
		if err != nil {
			for _, opened := range locations {
				opened.Close()
			}
			cipher.Close()
			return &interfaces.StorageError{LocationID: locCfg.ID, Err: err}
		}
		locations = append(locations, loc)
	}

	closeAll := func() {
		for _, loc := range locations {
			loc.Close()
		}
		cipher.Close()
	}

	var lifetime uint64
	var usable uint64
	for _, loc := range locations {
		total, err := loc.TotalDownloaded()
		if err != nil {
			closeAll()
			return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
		}
		lifetime += total

		blocks, err := loc.Blocks()
		if err != nil {
			closeAll()
			return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
		}
		for _, info := range blocks {
			usable += info.PlainLen
		}
	}

	// The raw secret is not retained; only the derived cipher key is held,
	// and that lives inside the cipher until Close.
	cfg.DeviceSecret = nil

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		closeAll()
		return &interfaces.ConfigError{Reason: "engine is already initialized"}
	}

	e.cfg = cfg
	e.token = token
	e.cipher = cipher
	e.locations = locations
	e.totalDownloaded.Store(lifetime)

	e.state = interfaces.CacheStateDownloading
	if usable >= cfg.MinNumCachedBytes {
		e.state = interfaces.CacheStateReady
	}

	e.initialized = true
	e.startMaintenanceLocked()

	e.log.Info("Random cache initialized",
		slog.Int("locations", len(locations)),
		slog.Uint64("usableBytes", usable),
		slog.String("state", e.state.String()))

	return nil
}

// Withdraw permanently removes numBytes of random from the cache and returns
// them to the caller. Concurrent withdrawals never receive overlapping bytes.
// Blocks are consumed oldest-first across all locations; a partially consumed
// block is split, with the remainder re-persisted and the consumed original
// securely erased. Callers must not retry InsufficientRandomError with
// backoff; they should wait for maintenance to replenish the pool.
func (e *Engine) Withdraw(numBytes uint64) ([]byte, error) {
	if numBytes == 0 {
		return nil, errors.New("withdrawal size must be greater than zero")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, interfaces.ErrNotInitialized
	}
	if e.busy != "" {
		return nil, &interfaces.CacheBusyError{Operation: e.busy}
	}

	inventory, usable, err := e.inventoryLocked()
	if err != nil {
		return nil, err
	}
	if usable < numBytes {
		return nil, &interfaces.InsufficientRandomError{Requested: numBytes, Available: usable}
	}

	result := make([]byte, 0, numBytes)
	for _, entry := range inventory {
		if uint64(len(result)) == numBytes {
			break
		}
		need := numBytes - uint64(len(result))

		ciphertext, err := entry.loc.ReadBlock(entry.info)
		if err != nil {
			cryptoutils.Zeroize(result)
			return nil, &interfaces.StorageError{LocationID: entry.loc.ID(), Err: err}
		}

		plain, err := e.cipher.Open(ciphertext)
		if err != nil {
			cryptoutils.Zeroize(result)
			return nil, &interfaces.SecretMismatchError{LocationID: entry.loc.ID(), BlockID: entry.info.ID.String()}
		}

		if uint64(len(plain)) <= need {
			result = append(result, plain...)
			cryptoutils.Zeroize(plain)
			if err := entry.loc.SecureDelete(entry.info); err != nil {
				cryptoutils.Zeroize(result)
				return nil, &interfaces.StorageError{LocationID: entry.loc.ID(), Err: err}
			}
			continue
		}

		// Split: consume the prefix, re-persist the remainder in place of the
		// original so its age is preserved.
		result = append(result, plain[:need]...)
		remainder := plain[need:]
		sealed, err := e.cipher.Seal(remainder)
		cryptoutils.Zeroize(plain)
		if err != nil {
			cryptoutils.Zeroize(result)
			return nil, fmt.Errorf("failed to re-encrypt block remainder: %w", err)
		}
		if _, err := entry.loc.ReplaceBlock(entry.info, sealed, uint64(len(remainder))); err != nil {
			cryptoutils.Zeroize(result)
			return nil, &interfaces.StorageError{LocationID: entry.loc.ID(), Err: err}
		}
	}

	if usable-numBytes < e.cfg.MinNumCachedBytes && e.state == interfaces.CacheStateReady {
		e.state = interfaces.CacheStateDownloading
		e.log.Debug("Cache dropped below minimum threshold", slog.Uint64("usableBytes", usable-numBytes))
	}

	return result, nil
}

// UpdateDeviceSecret re-encrypts every cached block from the old secret to
// the new one. The operation is all-or-nothing up front: every block is first
// verified to decrypt under the old secret, and no block is rewritten until
// verification passes. An interruption mid-rewrite leaves a mixed-key cache
// that surfaces as SecretMismatchError on next access; recovery is re-running
// the rotation or wiping.
func (e *Engine) UpdateDeviceSecret(oldSecret, newSecret []byte) error {
	if len(oldSecret) == 0 || len(newSecret) == 0 {
		return &interfaces.ConfigError{Reason: "device secret must not be empty"}
	}

	if err := e.acquire("device secret rotation"); err != nil {
		return err
	}
	defer e.release()

	oldCipher, err := cryptoutils.NewBlockCipher(oldSecret)
	if err != nil {
		return &interfaces.ConfigError{Reason: err.Error()}
	}
	defer oldCipher.Close()

	newCipher, err := cryptoutils.NewBlockCipher(newSecret)
	if err != nil {
		return &interfaces.ConfigError{Reason: err.Error()}
	}

	total, err := e.verifySecret(oldCipher)
	if err != nil {
		newCipher.Close()
		return err
	}

	// An empty cache still requires the old secret to match the active one,
	// otherwise a wrong secret would rotate silently.
	if total == 0 && !oldCipher.Equal(e.cipher) {
		newCipher.Close()
		return &interfaces.SecretMismatchError{}
	}

	g := new(errgroup.Group)
	for _, loc := range e.locations {
		loc := loc
		g.Go(func() error {
			blocks, err := loc.Blocks()
			if err != nil {
				return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
			}
			for _, info := range blocks {
				ciphertext, err := loc.ReadBlock(info)
				if err != nil {
					return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
				}
				plain, err := oldCipher.Open(ciphertext)
				if err != nil {
					return &interfaces.SecretMismatchError{LocationID: loc.ID(), BlockID: info.ID.String()}
				}
				sealed, err := newCipher.Seal(plain)
				cryptoutils.Zeroize(plain)
				if err != nil {
					return fmt.Errorf("failed to re-encrypt block %s: %w", info.ID, err)
				}
				if _, err := loc.ReplaceBlock(info, sealed, info.PlainLen); err != nil {
					return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		newCipher.Close()
		return err
	}

	e.mu.Lock()
	retired := e.cipher
	e.cipher = newCipher
	e.mu.Unlock()
	retired.Close()

	e.log.Info("Device secret rotated", slog.Uint64("rotatedBytes", total))
	return nil
}

// verifySecret decrypt-checks every block under the candidate cipher without
// rewriting anything. It returns the total plaintext bytes verified.
func (e *Engine) verifySecret(candidate *cryptoutils.BlockCipher) (uint64, error) {
	var mu sync.Mutex
	var total uint64

	g := new(errgroup.Group)
	for _, loc := range e.locations {
		loc := loc
		g.Go(func() error {
			blocks, err := loc.Blocks()
			if err != nil {
				return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
			}
			for _, info := range blocks {
				ciphertext, err := loc.ReadBlock(info)
				if err != nil {
					return &interfaces.StorageError{LocationID: loc.ID(), Err: err}
				}
				plain, err := candidate.Open(ciphertext)
				if err != nil {
					return &interfaces.SecretMismatchError{LocationID: loc.ID(), BlockID: info.ID.String()}
				}
				cryptoutils.Zeroize(plain)

				mu.Lock()
				total += info.PlainLen
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// Wipe securely erases every block and metadata record in every location and
// returns the cache to an empty DOWNLOADING state. The maintenance loop is
// stopped for the duration and restarted afterwards, so the pool immediately
// begins refilling. The lifetime download counter is preserved.
func (e *Engine) Wipe() error {
	if err := e.acquire("wipe"); err != nil {
		return err
	}

	e.stopMaintenance()

	var firstErr error
	for _, loc := range e.locations {
		blocks, err := loc.Blocks()
		if err != nil {
			if firstErr == nil {
				firstErr = &interfaces.StorageError{LocationID: loc.ID(), Err: err}
			}
			continue
		}
		for _, info := range blocks {
			if err := loc.SecureDelete(info); err != nil {
				if firstErr == nil {
					firstErr = &interfaces.StorageError{LocationID: loc.ID(), Err: err}
				}
			}
		}
	}

	e.mu.Lock()
	e.state = interfaces.CacheStateDownloading
	e.busy = ""
	e.startMaintenanceLocked()
	e.mu.Unlock()

	if firstErr == nil {
		e.log.Info("Cache wiped")
	}
	return firstErr
}

// CheckCacheStatus re-validates every location and returns a snapshot of the
// cache. Location health covers accessibility, index readability, and
// per-block checksum consistency; the oldest block of each location is also
// decrypt-checked against the active device secret. While a rotation or wipe
// is in flight the blocks are in a mixed state, so the check fails fast with
// CacheBusyError instead of misreporting a secret mismatch.
func (e *Engine) CheckCacheStatus() (interfaces.CacheStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return interfaces.CacheStatus{}, interfaces.ErrNotInitialized
	}
	if e.busy != "" {
		return interfaces.CacheStatus{}, &interfaces.CacheBusyError{Operation: e.busy}
	}

	var usable uint64
	for _, loc := range e.locations {
		if err := loc.Verify(); err != nil {
			return interfaces.CacheStatus{}, &interfaces.StorageError{LocationID: loc.ID(), Err: err}
		}

		blocks, err := loc.Blocks()
		if err != nil {
			return interfaces.CacheStatus{}, &interfaces.StorageError{LocationID: loc.ID(), Err: err}
		}

		if len(blocks) > 0 {
			ciphertext, err := loc.ReadBlock(blocks[0])
			if err != nil {
				return interfaces.CacheStatus{}, &interfaces.StorageError{LocationID: loc.ID(), Err: err}
			}
			plain, err := e.cipher.Open(ciphertext)
			if err != nil {
				return interfaces.CacheStatus{}, &interfaces.SecretMismatchError{LocationID: loc.ID(), BlockID: blocks[0].ID.String()}
			}
			cryptoutils.Zeroize(plain)
		}

		for _, info := range blocks {
			usable += info.PlainLen
		}
	}

	return interfaces.CacheStatus{
		State:                 e.state,
		RemainingCapacity:     usable,
		TotalDownloadedRandom: e.totalDownloaded.Load(),
	}, nil
}

// Close stops maintenance, closes every location, and zeroizes the derived
// cipher key. The engine cannot be reused afterwards. While a rotation or
// wipe is in flight Close fails with CacheBusyError rather than shutting
// down the location indexes under the running operation.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil
	}
	if e.busy != "" {
		op := e.busy
		e.mu.Unlock()
		return &interfaces.CacheBusyError{Operation: op}
	}
	e.busy = "close"
	e.mu.Unlock()

	e.stopMaintenance()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.initialized = false
	e.busy = ""

	var firstErr error
	for _, loc := range e.locations {
		if err := loc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.cipher.Close()

	return firstErr
}

// acquire marks the engine busy with an exclusive operation. Withdrawals and
// the maintenance writer observe the flag under the lock and fail fast.
func (e *Engine) acquire(operation string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return interfaces.ErrNotInitialized
	}
	if e.busy != "" {
		return &interfaces.CacheBusyError{Operation: e.busy}
	}
	e.busy = operation
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.busy = ""
	e.mu.Unlock()
}

type inventoryEntry struct {
	loc  *Location
	info BlockInfo
}

// inventoryLocked gathers all blocks across locations in withdrawal order:
// oldest first by creation time, sequence breaking ties. Caller holds the
// lock.
func (e *Engine) inventoryLocked() ([]inventoryEntry, uint64, error) {
	var entries []inventoryEntry
	var usable uint64

	for _, loc := range e.locations {
		blocks, err := loc.Blocks()
		if err != nil {
			return nil, 0, &interfaces.StorageError{LocationID: loc.ID(), Err: err}
		}
		for _, info := range blocks {
			entries = append(entries, inventoryEntry{loc: loc, info: info})
			usable += info.PlainLen
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].info, entries[j].info
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.Seq < b.Seq
	})

	return entries, usable, nil
}

func (e *Engine) startMaintenanceLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	e.maintCancel = cancel
	e.maintWG.Add(1)
	go e.maintenanceLoop(ctx, e.cfg.MaintenanceInterval)
}

func (e *Engine) stopMaintenance() {
	e.mu.Lock()
	cancel := e.maintCancel
	e.maintCancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.maintWG.Wait()
}

// maintenanceLoop runs one top-up cycle immediately, then one per interval.
// A slow download delays the next cycle's start; the interval is a scheduling
// period, not a deadline on the download.
func (e *Engine) maintenanceLoop(ctx context.Context, interval time.Duration) {
	defer e.maintWG.Done()

	e.runMaintenanceCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runMaintenanceCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runMaintenanceCycle tops the cache up toward MaxNumCachedBytes. The
// download happens outside the inventory lock; only the final distribution
// and disk writes are critical-sectioned. A partial download is persisted and
// the shortfall retried next cycle. Remote errors are logged and retried next
// cycle, never fatal.
func (e *Engine) runMaintenanceCycle(ctx context.Context) {
	e.mu.RLock()
	if e.busy != "" {
		e.mu.RUnlock()
		return
	}

	cipher := e.cipher
	overhead := uint64(cipher.Overhead())
	token := e.token

	var usable uint64
	headroom := make(map[string]uint64, len(e.locations))
	for _, loc := range e.locations {
		blocks, err := loc.Blocks()
		if err != nil {
			e.log.Warn("Skipping unreadable location this cycle", "location", loc.ID(), "err", err)
			continue
		}
		for _, info := range blocks {
			usable += info.PlainLen
		}
		free, err := loc.Headroom()
		if err != nil {
			e.log.Warn("Skipping unreadable location this cycle", "location", loc.ID(), "err", err)
			continue
		}
		headroom[loc.ID()] = free
	}
	e.mu.RUnlock()

	if usable >= e.cfg.MaxNumCachedBytes {
		e.markReadyIfFilled(usable)
		return
	}
	deficit := e.cfg.MaxNumCachedBytes - usable

	var capacity uint64
	for _, free := range headroom {
		capacity += plainCapacity(free, e.maxBlockSize, overhead)
	}
	request := deficit
	if capacity < request {
		request = capacity
	}
	if request == 0 {
		return
	}

	random, err := e.source.FetchRandom(ctx, token, request)
	if err != nil {
		if len(random) == 0 {
			e.log.Warn("Entropy download failed, retrying next interval", "err", err)
			return
		}
		e.log.Warn("Partial entropy download, persisting what was received",
			"requested", request, "received", len(random), "err", err)
	}
	if len(random) == 0 {
		return
	}
	defer cryptoutils.Zeroize(random)

	// Plan placement against the headroom snapshot and seal outside the
	// lock. A target location is picked before each chunk is carved, and the
	// chunk is sized to that location's remaining headroom, so a location
	// with less than one full block of quota still gets filled. Headroom
	// only grows between snapshot and write (withdrawals delete or shrink
	// blocks), so a planned block still fits at write time.
	type sealedBlock struct {
		loc        *Location
		ciphertext []byte
		plainLen   uint64
	}
	var planned []sealedBlock
	remaining := random
	for len(remaining) > 0 {
		loc, free := e.mostHeadroom(headroom)
		if loc == nil || free <= overhead {
			break
		}

		chunk := free - overhead
		if chunk > e.maxBlockSize {
			chunk = e.maxBlockSize
		}
		if chunk > uint64(len(remaining)) {
			chunk = uint64(len(remaining))
		}

		sealed, err := cipher.Seal(remaining[:chunk])
		if err != nil {
			e.log.Error("Failed to encrypt downloaded random", "err", err)
			return
		}
		planned = append(planned, sealedBlock{loc: loc, ciphertext: sealed, plainLen: chunk})
		headroom[loc.ID()] -= chunk + overhead
		remaining = remaining[chunk:]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy != "" || e.cipher != cipher {
		// A wipe or rotation ran while downloading. Drop the batch; the next
		// cycle re-downloads under the current secret.
		return
	}

	failed := make(map[string]bool)
	var written uint64
	for _, block := range planned {
		if failed[block.loc.ID()] {
			continue
		}

		if _, err := block.loc.WriteBlock(block.ciphertext, block.plainLen); err != nil {
			e.log.Warn("Failed to write block, excluding location this cycle",
				"location", block.loc.ID(), "err", err)
			failed[block.loc.ID()] = true
			continue
		}

		written += block.plainLen
		e.totalDownloaded.Add(block.plainLen)
	}

	if written > 0 {
		e.log.Debug("Maintenance cycle stored random",
			slog.Uint64("bytes", written),
			slog.Uint64("usableBytes", usable+written))
	}

	if usable+written >= e.cfg.MinNumCachedBytes && e.state == interfaces.CacheStateDownloading {
		e.state = interfaces.CacheStateReady
		e.log.Info("Random cache ready", slog.Uint64("usableBytes", usable+written))
	}
}

// mostHeadroom returns the location with the most remaining headroom.
// Most-headroom-first keeps every location fed proportionally so none is
// starved or overflowed.
func (e *Engine) mostHeadroom(headroom map[string]uint64) (*Location, uint64) {
	var best *Location
	var bestFree uint64
	for _, loc := range e.locations {
		free, ok := headroom[loc.ID()]
		if !ok {
			continue
		}
		if best == nil || free > bestFree {
			best = loc
			bestFree = free
		}
	}
	return best, bestFree
}

func (e *Engine) markReadyIfFilled(usable uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy == "" && usable >= e.cfg.MinNumCachedBytes && e.state == interfaces.CacheStateDownloading {
		e.state = interfaces.CacheStateReady
	}
}

// plainCapacity converts ciphertext headroom into the plaintext bytes that
// fit once per-block encryption overhead is paid.
func plainCapacity(headroom, maxBlockSize, overhead uint64) uint64 {
	blockFootprint := maxBlockSize + overhead
	full := headroom / blockFootprint
	capacity := full * maxBlockSize

	if rest := headroom % blockFootprint; rest > overhead {
		capacity += rest - overhead
	}
	return capacity
}
