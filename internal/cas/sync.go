package cas

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vigilbot/vigil/internal/db"
)

var ErrSyncRunning = errors.New("cas: sync already running")

const (
	maxRetries = 3
	retryStep  = 2 * time.Second

	// How long a negative remote lookup suppresses further lookups for
	// the same user.
	lookupCacheTTL = 10 * time.Minute
)

type casStore interface {
	GetCasSyncState(ctx context.Context) (*db.CasSyncState, error)
	SaveCasSyncState(ctx context.Context, state *db.CasSyncState) error
	UpsertBanlist(ctx context.Context, userIDs []int64) error
	IsBanlisted(ctx context.Context, userID int64) (bool, error)
}

type Config struct {
	ExportURL    string
	LookupURL    string
	BatchSize    int64
	SyncInterval time.Duration
	HTTPTimeout  time.Duration
}

// Service imports a community anti-spam database and answers per-user
// lookups against it. The import is resumable: progress is checkpointed
// after every batch, so a crashed run continues where it stopped.
type Service struct {
	db         casStore
	cfg        Config
	httpClient *http.Client
	cleanCache *cache.Cache

	mu        sync.Mutex
	runCancel context.CancelFunc

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewService(store casStore, cfg Config) *Service {
	return &Service{
		db:         store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		cleanCache: cache.New(lookupCacheTTL, lookupCacheTTL),
	}
}

// RunSync performs one full import pass. Only one pass runs at a time.
func (s *Service) RunSync(ctx context.Context) error {
	s.mu.Lock()
	if s.runCancel != nil {
		s.mu.Unlock()
		return ErrSyncRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.runCancel = nil
		s.mu.Unlock()
	}()

	state, err := s.db.GetCasSyncState(runCtx)
	if err != nil {
		return errors.Wrap(err, "load sync state")
	}
	state.Status = db.CasSyncRunning
	state.BatchSize = s.cfg.BatchSize
	if err := s.saveState(runCtx, state); err != nil {
		return err
	}

	err = s.importExport(runCtx, state)
	switch {
	case err == nil:
		state.Status = db.CasSyncIdle
		state.Cursor = 0
	case errors.Is(err, context.Canceled):
		state.Status = db.CasSyncStopped
	default:
		state.Status = db.CasSyncFailed
	}
	if saveErr := s.saveState(context.WithoutCancel(runCtx), state); saveErr != nil {
		log.WithField("error", saveErr.Error()).Error("cant save final sync state")
	}
	return err
}

// StopSync aborts a running pass. The checkpoint survives, so the next
// pass resumes instead of starting over.
func (s *Service) StopSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		s.runCancel()
	}
}

// Stats reports the persisted cursor and totals.
func (s *Service) Stats(ctx context.Context) (*db.CasSyncState, error) {
	return s.db.GetCasSyncState(ctx)
}

// importExport streams the export line by line, skipping the first
// state.Cursor lines of an interrupted previous run.
func (s *Service) importExport(ctx context.Context, state *db.CasSyncState) error {
	resp, err := s.fetchWithRetry(ctx, s.cfg.ExportURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var (
		skip  = state.Cursor
		batch = make([]int64, 0, s.cfg.BatchSize)
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		userID, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return fmt.Errorf("parse user id %q: %w", line, err)
		}
		batch = append(batch, userID)
		if int64(len(batch)) >= s.cfg.BatchSize {
			if err := s.flush(ctx, state, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan export")
	}
	if len(batch) > 0 {
		return s.flush(ctx, state, batch)
	}
	return nil
}

// flush persists one batch and advances the durable cursor.
func (s *Service) flush(ctx context.Context, state *db.CasSyncState, batch []int64) error {
	if err := s.db.UpsertBanlist(ctx, batch); err != nil {
		return errors.Wrap(err, "upsert banlist")
	}
	state.Cursor += int64(len(batch))
	state.TotalProcessed += int64(len(batch))
	state.TotalImported += int64(len(batch))
	state.BatchOffset = state.Cursor
	return s.saveState(ctx, state)
}

func (s *Service) fetchWithRetry(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := s.fetch(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == maxRetries-1 {
			break
		}
		backoff := time.Duration(attempt+1) * retryStep
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("fetch %s failed after retries: %w", url, lastErr)
}

func (s *Service) fetch(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return resp, nil
}

func (s *Service) saveState(ctx context.Context, state *db.CasSyncState) error {
	state.UpdatedAt = time.Now()
	return errors.Wrap(s.db.SaveCasSyncState(ctx, state), "save sync state")
}

// Start schedules periodic import passes.
func (s *Service) Start(ctx context.Context) {
	s.loopCtx, s.loopCancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.loopCtx.Done():
				return
			case <-ticker.C:
				if err := s.RunSync(s.loopCtx); err != nil && !errors.Is(err, ErrSyncRunning) {
					log.WithField("error", err.Error()).Error("cas sync pass failed")
				}
			}
		}
	}()
}

func (s *Service) Stop() {
	if s.loopCancel != nil {
		s.loopCancel()
	}
	s.StopSync()
	s.wg.Wait()
}
