package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"sales-forecast/internal/config"
	"sales-forecast/internal/errors"
	"sales-forecast/internal/forecast"
	"sales-forecast/internal/models"
	"sales-forecast/internal/observability"
)

const (
	defaultForecastTimeout = 30 * time.Second
	defaultMaxPeriods      = 365
)

var (
	forecastMeter       = otel.Meter("sales-forecast/forecast")
	forecastDuration, _ = forecastMeter.Float64Histogram("forecast.duration",
		metric.WithDescription("Forecast fit and predict duration in seconds"),
		metric.WithUnit("s"),
	)
	forecastTotal, _ = forecastMeter.Int64Counter("forecast.total",
		metric.WithDescription("Forecast requests by outcome"),
	)
)

// Forecaster fits a model on history and predicts periods future points.
// *forecast.Model satisfies it.
type Forecaster interface {
	Forecast(ctx context.Context, history forecast.Series, freq forecast.Frequency, periods int) ([]forecast.Point, error)
}

type TransactionQuerier interface {
	Query(ctx context.Context, f models.Filter) ([]models.Transaction, error)
}

type ForecastService struct {
	store  TransactionQuerier
	engine Forecaster
	config config.ForecastConfig
	logger *slog.Logger
	group  singleflight.Group
}

func NewForecastService(store TransactionQuerier, engine Forecaster, cfg config.ForecastConfig, logger *slog.Logger) *ForecastService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultForecastTimeout
	}
	if cfg.MaxPeriods <= 0 {
		cfg.MaxPeriods = defaultMaxPeriods
	}
	return &ForecastService{
		store:  store,
		engine: engine,
		config: cfg,
		logger: logger,
	}
}

type forecastJob struct {
	filter  models.Filter
	freq    forecast.Frequency
	periods int
}

func (j forecastJob) key() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d", j.filter.Category, j.filter.ItemName, j.freq, j.periods)
}

// Predict forecasts the quantity of one item in one category on the
// requested timeframe grid. Identical requests in flight share a single
// model fit.
func (s *ForecastService) Predict(ctx context.Context, req models.ForecastRequest) ([]models.ForecastPoint, error) {
	job, err := s.validate(req)
	if err != nil {
		forecastTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "invalid")))
		return nil, err
	}

	ch := s.group.DoChan(job.key(), func() (any, error) {
		// Shared by every waiter, so detached from the starting caller's
		// cancellation.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
		defer cancel()
		return s.run(runCtx, job)
	})

	select {
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.DebugContext(ctx, "forecast shared with concurrent request", "key", job.key())
		}
		return slices.Clone(res.Val.([]models.ForecastPoint)), nil
	}
}

func (s *ForecastService) validate(req models.ForecastRequest) (forecastJob, error) {
	for _, f := range []struct{ key, value string }{
		{"kategori", req.Category},
		{"nama_barang", req.ItemName},
		{"timeframe", req.Timeframe},
	} {
		if strings.TrimSpace(f.value) == "" {
			return forecastJob{}, errors.Validation(fmt.Sprintf("%s is required", f.key))
		}
	}

	if req.Periods == nil {
		return forecastJob{}, errors.Validation("n_predictions is required")
	}
	if n := *req.Periods; n < 1 || n > s.config.MaxPeriods {
		return forecastJob{}, errors.Validation(fmt.Sprintf("n_predictions must be between 1 and %d", s.config.MaxPeriods))
	}

	freq, err := forecast.ParseFrequency(req.Timeframe)
	if err != nil {
		return forecastJob{}, errors.ValidationWrap(err, fmt.Sprintf("Invalid timeframe %q", req.Timeframe))
	}

	return forecastJob{
		filter:  models.Filter{Category: req.Category, ItemName: req.ItemName},
		freq:    freq,
		periods: *req.Periods,
	}, nil
}

func (s *ForecastService) run(ctx context.Context, job forecastJob) (points []models.ForecastPoint, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "forecast.Predict",
		attribute.String("forecast.kategori", job.filter.Category),
		attribute.String("forecast.nama_barang", job.filter.ItemName),
		attribute.String("forecast.frequency", string(job.freq)),
		attribute.Int("forecast.periods", job.periods),
	)
	defer func() {
		observability.EndSpan(span, err)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		forecastDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		forecastTotal.Add(ctx, 1, attrs)
	}()

	txs, err := s.store.Query(ctx, job.filter)
	if err != nil {
		return nil, errors.InternalWrap(err, "Failed to load transactions")
	}
	if len(txs) < 2 {
		return nil, errors.InsufficientData(fmt.Sprintf(
			"At least 2 transactions are required to forecast %q in %q, found %d",
			job.filter.ItemName, job.filter.Category, len(txs)))
	}

	history := make(forecast.Series, len(txs))
	for i, tx := range txs {
		history[i] = forecast.Observation{Date: tx.Date, Value: float64(tx.Quantity)}
	}
	span.SetAttributes(attribute.Int("forecast.observations", len(history)))

	predicted, err := s.engine.Forecast(ctx, history, job.freq, job.periods)
	if err != nil {
		switch {
		case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
			return nil, contextError(err)
		case stderrors.Is(err, forecast.ErrInsufficientData):
			return nil, errors.InsufficientDataWrap(err, "Not enough history to fit a forecast")
		default:
			return nil, errors.InternalWrap(err, "Forecast failed")
		}
	}

	points = make([]models.ForecastPoint, len(predicted))
	for i, p := range predicted {
		points[i] = models.ForecastPoint{
			DS:        p.Date.Format(models.DateLayout),
			YHat:      p.Value,
			YHatLower: p.Lower,
			YHatUpper: p.Upper,
		}
	}

	s.logger.InfoContext(ctx, "forecast complete",
		"kategori", job.filter.Category,
		"nama_barang", job.filter.ItemName,
		"timeframe", job.freq,
		"observations", len(history),
		"periods", len(points),
		"duration", time.Since(start),
	)
	return points, nil
}

func contextError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(err, "Forecast timed out")
	}
	return errors.InternalWrap(err, "Forecast cancelled")
}
