package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

func linearSeries(start time.Time, days int, intercept, slope float64) Series {
	s := make(Series, days)
	for i := range days {
		s[i] = Observation{Date: start.AddDate(0, 0, i), Value: intercept + slope*float64(i)}
	}
	return s
}

func TestModel_ForecastLinearTrend(t *testing.T) {
	start := date(2024, 3, 1)
	history := linearSeries(start, 10, 3, 2)

	points, err := New(DefaultOptions()).Forecast(context.Background(), history, Daily, 5)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("len(points) = %d, want 5", len(points))
	}

	prev := history[len(history)-1].Date
	for i, p := range points {
		wantDate := start.AddDate(0, 0, 10+i)
		if !p.Date.Equal(wantDate) {
			t.Errorf("points[%d].Date = %s, want %s", i, p.Date.Format(time.DateOnly), wantDate.Format(time.DateOnly))
		}
		if !p.Date.After(prev) {
			t.Errorf("points[%d] is not after the previous date", i)
		}
		prev = p.Date

		want := 3 + 2*float64(10+i)
		if math.Abs(p.Value-want)/want > 0.05 {
			t.Errorf("points[%d].Value = %.2f, want about %.2f", i, p.Value, want)
		}
		if p.Lower > p.Value || p.Value > p.Upper {
			t.Errorf("points[%d] bounds out of order: %.3f <= %.3f <= %.3f", i, p.Lower, p.Value, p.Upper)
		}
	}
}

func TestModel_ForecastUnorderedHistory(t *testing.T) {
	history := linearSeries(date(2024, 3, 1), 10, 3, 2)
	history[0], history[9] = history[9], history[0]

	points, err := New(DefaultOptions()).Forecast(context.Background(), history, Daily, 1)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if want := date(2024, 3, 11); !points[0].Date.Equal(want) {
		t.Errorf("first forecast date = %s, want %s", points[0].Date.Format(time.DateOnly), want.Format(time.DateOnly))
	}
}

func TestModel_ForecastWeeklySeasonality(t *testing.T) {
	start := date(2024, 1, 1)
	history := make(Series, 0, 56)
	for i := range 56 {
		d := start.AddDate(0, 0, i)
		v := 10.0
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			v = 25
		}
		history = append(history, Observation{Date: d, Value: v})
	}

	points, err := New(DefaultOptions()).Forecast(context.Background(), history, Daily, 7)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}

	byDay := make(map[time.Weekday]float64)
	for _, p := range points {
		byDay[p.Date.Weekday()] = p.Value
	}
	if byDay[time.Saturday] <= byDay[time.Wednesday] {
		t.Errorf("saturday forecast %.2f should exceed wednesday %.2f", byDay[time.Saturday], byDay[time.Wednesday])
	}
}

func TestModel_ForecastDuplicateDates(t *testing.T) {
	d := date(2024, 5, 1)
	history := Series{
		{Date: d, Value: 4},
		{Date: d, Value: 6},
		{Date: d.AddDate(0, 0, 1), Value: 5},
		{Date: d.AddDate(0, 0, 1), Value: 7},
	}

	points, err := New(DefaultOptions()).Forecast(context.Background(), history, Weekly, 3)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("len(points) = %d, want 3", len(points))
	}
	for i, p := range points {
		if p.Date.Weekday() != time.Sunday {
			t.Errorf("points[%d] falls on %s, want Sunday", i, p.Date.Weekday())
		}
		if p.Lower > p.Value || p.Value > p.Upper {
			t.Errorf("points[%d] bounds out of order", i)
		}
	}
}

func TestModel_ForecastSingleDate(t *testing.T) {
	d := date(2024, 5, 1)
	history := Series{{Date: d, Value: 4}, {Date: d, Value: 8}}

	points, err := New(DefaultOptions()).Forecast(context.Background(), history, Daily, 2)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	for i, p := range points {
		if math.Abs(p.Value-6) > 1e-6 {
			t.Errorf("points[%d].Value = %v, want the mean 6", i, p.Value)
		}
	}
}

// Two observations on one date are fitted as two rows, so the residuals of
// the intercept-only fit are -2 and +2 and the first interval uses the
// normal quantile for the configured width.
func TestModel_SameDateObservationsFitSeparately(t *testing.T) {
	d := date(2024, 5, 1)
	history := Series{{Date: d, Value: 4}, {Date: d, Value: 8}}

	opts := DefaultOptions()
	opts.IntervalWidth = 0.8
	points, err := New(opts).Forecast(context.Background(), history, Daily, 1)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}

	sigma := math.Sqrt(8) // sample std dev of {-2, 2}
	want := distuv.UnitNormal.Quantile(0.9) * sigma * math.Sqrt(1+1.0/2)
	if got := points[0].Upper - points[0].Value; math.Abs(got-want) > 1e-9 {
		t.Errorf("upper spread = %v, want %v", got, want)
	}
	if got := points[0].Value - points[0].Lower; math.Abs(got-want) > 1e-9 {
		t.Errorf("lower spread = %v, want %v", got, want)
	}
}

func TestModel_ForecastErrors(t *testing.T) {
	model := New(DefaultOptions())
	ctx := context.Background()

	if _, err := model.Forecast(ctx, nil, Daily, 3); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty history error = %v, want ErrInsufficientData", err)
	}

	one := Series{{Date: date(2024, 1, 1), Value: 1}}
	if _, err := model.Forecast(ctx, one, Daily, 3); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("single observation error = %v, want ErrInsufficientData", err)
	}

	history := linearSeries(date(2024, 1, 1), 5, 1, 1)
	if _, err := model.Forecast(ctx, history, Daily, 0); err == nil {
		t.Error("zero periods should fail")
	}

	nan := append(Series{}, history...)
	nan[2].Value = math.NaN()
	if _, err := model.Forecast(ctx, nan, Daily, 1); err == nil {
		t.Error("NaN observation should fail")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := model.Forecast(cancelled, history, Daily, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context error = %v, want context.Canceled", err)
	}
}

func TestModel_IntervalWidensWithHorizon(t *testing.T) {
	history := make(Series, 20)
	for i := range history {
		noise := 1.0
		if i%2 == 0 {
			noise = -1
		}
		history[i] = Observation{Date: date(2024, 2, 1).AddDate(0, 0, i), Value: 20 + noise}
	}

	points, err := New(DefaultOptions()).Forecast(context.Background(), history, Daily, 10)
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}

	first := points[0].Upper - points[0].Lower
	last := points[len(points)-1].Upper - points[len(points)-1].Lower
	if first <= 0 {
		t.Fatalf("noisy history should give a positive interval, got %v", first)
	}
	if last <= first {
		t.Errorf("interval width should grow with horizon: first %.4f, last %.4f", first, last)
	}
}
