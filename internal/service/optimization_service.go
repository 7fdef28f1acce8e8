package service

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/andresuchdata/mixopt/internal/cache"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/engine"
	"github.com/andresuchdata/mixopt/internal/report"
	"github.com/andresuchdata/mixopt/internal/repository"
	"github.com/andresuchdata/mixopt/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Optimizer is the part of the engine the service drives.
type Optimizer interface {
	Key(req engine.Request) string
	Run(ctx context.Context, req engine.Request) (*domain.RunResult, error)
	StockDates(ctx context.Context, stockType string) ([]domain.StockDateSummary, error)
}

type OptimizationService struct {
	optimizer Optimizer
	repo      repository.RunRepository
	cache     cache.ResultCache

	reports      storage.ObjectStorage
	reportPrefix string
	decimals     int
}

func NewOptimizationService(optimizer Optimizer, repo repository.RunRepository, cacheImpl cache.ResultCache) *OptimizationService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopResultCache()
	}
	if repo == nil {
		repo = repository.NewMemoryRunRepository()
	}
	return &OptimizationService{optimizer: optimizer, repo: repo, cache: cacheImpl, decimals: 2}
}

// WithReports makes every new run publish an XLSX report to store under
// prefix.
func (s *OptimizationService) WithReports(store storage.ObjectStorage, prefix string, decimals int) *OptimizationService {
	s.reports = store
	s.reportPrefix = prefix
	s.decimals = decimals
	return s
}

// Run returns the cached result for an equivalent request or executes a
// new run, stores it and caches it. Cache and report failures are logged
// and do not fail the run.
func (s *OptimizationService) Run(ctx context.Context, req engine.Request) (*domain.RunResult, error) {
	key := s.optimizer.Key(req)
	if res, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		log.Debug().Str("key", key).Str("run_id", res.ID).Msg("optimization: cache hit")
		return res, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("optimization: cache get failed")
	}

	res, err := s.optimizer.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	res.ID = uuid.NewString()

	if err := s.repo.SaveRun(ctx, res); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	if err := s.cache.Set(ctx, key, res); err != nil {
		log.Warn().Err(err).Msg("optimization: cache set failed")
	}

	if s.reports != nil {
		if _, err := s.PublishReport(ctx, res); err != nil {
			log.Warn().Err(err).Str("run_id", res.ID).Msg("optimization: report upload failed")
		}
	}

	return res, nil
}

// PublishReport uploads res as a workbook and returns its object key.
func (s *OptimizationService) PublishReport(ctx context.Context, res *domain.RunResult) (string, error) {
	if s.reports == nil {
		return "", fmt.Errorf("report storage is not configured")
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, report.Sheets(res), s.decimals); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	key := path.Join(s.reportPrefix, res.StockDate.Format("2006-01-02"), res.ID+".xlsx")
	if err := s.reports.UploadObject(ctx, key, buf.Bytes()); err != nil {
		return "", err
	}
	log.Info().Str("key", key).Str("run_id", res.ID).Msg("optimization: report uploaded")
	return key, nil
}

func (s *OptimizationService) GetRun(ctx context.Context, id string) (*domain.RunResult, error) {
	return s.repo.GetRun(ctx, id)
}

func (s *OptimizationService) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListRuns(ctx, limit)
}

func (s *OptimizationService) StockDates(ctx context.Context, stockType string) ([]domain.StockDateSummary, error) {
	return s.optimizer.StockDates(ctx, stockType)
}

// InvalidateCache drops every cached result, typically after the input
// tables changed.
func (s *OptimizationService) InvalidateCache(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}
