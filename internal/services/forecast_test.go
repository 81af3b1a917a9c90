package services

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sales-forecast/internal/config"
	"sales-forecast/internal/errors"
	"sales-forecast/internal/forecast"
	"sales-forecast/internal/models"
)

var testForecastConfig = config.ForecastConfig{
	MaxPeriods:    365,
	IntervalWidth: 0.8,
	Timeout:       5 * time.Second,
}

// stubEngine records its input and returns a flat forecast on the real
// date grid.
type stubEngine struct {
	calls   atomic.Int32
	history forecast.Series
	release chan struct{}
	err     error
}

func (e *stubEngine) Forecast(ctx context.Context, history forecast.Series, freq forecast.Frequency, periods int) ([]forecast.Point, error) {
	e.calls.Add(1)
	e.history = history
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}

	last := history[0].Date
	for _, obs := range history {
		if obs.Date.After(last) {
			last = obs.Date
		}
	}
	dates := forecast.FutureDates(last, freq, periods)
	points := make([]forecast.Point, len(dates))
	for i, d := range dates {
		points[i] = forecast.Point{Date: d, Value: 5, Lower: 4, Upper: 6}
	}
	return points, nil
}

func kaosPolosStore() *memStore {
	store := newMemStore()
	for day := 1; day <= 10; day++ {
		store.add(sale(time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC).Format(models.DateLayout), "Kaos Polos", "Atasan", day%4+1, "50000"))
	}
	store.add(sale("2024-01-05", "Kemeja", "Atasan", 7, "150000"))
	return store
}

func forecastRequest(category, item, timeframe string, n int) models.ForecastRequest {
	return models.ForecastRequest{
		Category:  category,
		ItemName:  item,
		Timeframe: timeframe,
		Periods:   &n,
	}
}

func TestForecastService_Predict(t *testing.T) {
	engine := &stubEngine{}
	svc := NewForecastService(kaosPolosStore(), engine, testForecastConfig, discardLogger())

	points, err := svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", "D", 5))
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}

	if len(engine.history) != 10 {
		t.Errorf("engine saw %d observations, want only the 10 Kaos Polos rows", len(engine.history))
	}
	if engine.history[0].Value != 2 {
		t.Errorf("first observation = %v, want quantity 2", engine.history[0].Value)
	}

	want := []string{"2024-01-11", "2024-01-12", "2024-01-13", "2024-01-14", "2024-01-15"}
	if len(points) != len(want) {
		t.Fatalf("len(points) = %d, want %d", len(points), len(want))
	}
	for i, p := range points {
		if p.DS != want[i] {
			t.Errorf("points[%d].DS = %s, want %s", i, p.DS, want[i])
		}
		if p.YHatLower > p.YHat || p.YHat > p.YHatUpper {
			t.Errorf("points[%d] bounds out of order: %+v", i, p)
		}
	}
}

func TestForecastService_PredictWithRealModel(t *testing.T) {
	svc := NewForecastService(kaosPolosStore(), forecast.New(forecast.DefaultOptions()), testForecastConfig, discardLogger())

	for _, tf := range []string{"D", "W", "M", "MS", "Q", "Y"} {
		t.Run(tf, func(t *testing.T) {
			points, err := svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", tf, 4))
			if err != nil {
				t.Fatalf("Predict() error: %v", err)
			}
			if len(points) != 4 {
				t.Fatalf("len(points) = %d, want 4", len(points))
			}
			prev := "2024-01-10"
			for i, p := range points {
				if p.DS <= prev {
					t.Errorf("points[%d].DS = %s is not after %s", i, p.DS, prev)
				}
				prev = p.DS
				if p.YHatLower > p.YHat || p.YHat > p.YHatUpper {
					t.Errorf("points[%d] bounds out of order: %+v", i, p)
				}
			}
		})
	}
}

func TestForecastService_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  models.ForecastRequest
	}{
		{"missing category", forecastRequest("", "Kaos Polos", "D", 5)},
		{"missing item", forecastRequest("Atasan", " ", "D", 5)},
		{"missing timeframe", forecastRequest("Atasan", "Kaos Polos", "", 5)},
		{"missing periods", models.ForecastRequest{Category: "Atasan", ItemName: "Kaos Polos", Timeframe: "D"}},
		{"zero periods", forecastRequest("Atasan", "Kaos Polos", "D", 0)},
		{"negative periods", forecastRequest("Atasan", "Kaos Polos", "D", -3)},
		{"too many periods", forecastRequest("Atasan", "Kaos Polos", "D", 366)},
		{"unknown timeframe", forecastRequest("Atasan", "Kaos Polos", "fortnight", 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			svc := NewForecastService(kaosPolosStore(), engine, testForecastConfig, discardLogger())

			_, err := svc.Predict(context.Background(), tt.req)
			if !errors.Is(err, errors.CodeValidation) {
				t.Errorf("Predict() error = %v, want VALIDATION_ERROR", err)
			}
			if engine.calls.Load() != 0 {
				t.Error("engine must not run for an invalid request")
			}
		})
	}
}

func TestForecastService_DefaultMaxPeriods(t *testing.T) {
	cfg := testForecastConfig
	cfg.MaxPeriods = 0
	svc := NewForecastService(kaosPolosStore(), &stubEngine{}, cfg, discardLogger())

	_, err := svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", "D", defaultMaxPeriods+1))
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) || appErr.Code != errors.CodeValidation {
		t.Fatalf("Predict() error = %v, want VALIDATION_ERROR", err)
	}
	if want := "n_predictions must be between 1 and 365"; appErr.Message != want {
		t.Errorf("message = %q, want %q", appErr.Message, want)
	}

	points, err := svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", "W", 4))
	if err != nil || len(points) != 4 {
		t.Errorf("Predict() = %d points, %v", len(points), err)
	}
}

func TestForecastService_InsufficientData(t *testing.T) {
	store := newMemStore(sale("2024-01-01", "Sepatu", "Alas Kaki", 1, "300000"))
	engine := &stubEngine{}
	svc := NewForecastService(store, engine, testForecastConfig, discardLogger())

	for _, item := range []string{"Tidak Ada", "Sepatu"} {
		_, err := svc.Predict(context.Background(), forecastRequest("Alas Kaki", item, "D", 3))
		if !errors.Is(err, errors.CodeInsufficientData) {
			t.Errorf("Predict(%q) error = %v, want INSUFFICIENT_DATA", item, err)
		}
	}
	if engine.calls.Load() != 0 {
		t.Error("engine must not run without enough history")
	}
}

func TestForecastService_EngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, errors.CodeTimeout},
		{"insufficient", forecast.ErrInsufficientData, errors.CodeInsufficientData},
		{"other", stderrors.New("singular matrix"), errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{err: tt.err}
			svc := NewForecastService(kaosPolosStore(), engine, testForecastConfig, discardLogger())

			_, err := svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", "D", 2))
			if !errors.Is(err, tt.code) {
				t.Errorf("Predict() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestForecastService_Timeout(t *testing.T) {
	engine := &stubEngine{release: make(chan struct{})}
	cfg := testForecastConfig
	cfg.Timeout = 20 * time.Millisecond
	svc := NewForecastService(kaosPolosStore(), engine, cfg, discardLogger())

	_, err := svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", "D", 2))
	if !errors.Is(err, errors.CodeTimeout) {
		t.Errorf("Predict() error = %v, want TIMEOUT", err)
	}
}

func TestForecastService_CollapsesConcurrentRequests(t *testing.T) {
	engine := &stubEngine{release: make(chan struct{})}
	svc := NewForecastService(kaosPolosStore(), engine, testForecastConfig, discardLogger())

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]models.ForecastPoint, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Predict(context.Background(), forecastRequest("Atasan", "Kaos Polos", "W", 3))
		}()
	}

	// Give every caller time to join the in-flight fit before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(engine.release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if len(results[i]) != 3 {
			t.Errorf("caller %d got %d points", i, len(results[i]))
		}
	}
	if calls := engine.calls.Load(); calls != 1 {
		t.Errorf("engine ran %d times for identical concurrent requests, want 1", calls)
	}

	results[0][0].YHat = -1
	if results[1][0].YHat == -1 {
		t.Error("callers must not share the result slice")
	}
}
