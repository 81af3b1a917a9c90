// Package forecast fits an additive trend + seasonality model to a daily
// observation series and projects it onto a future date grid.
//
// The model is y(t) = trend(t) + weekly(t) + yearly(t) + noise, where the trend
// is linear in time scaled to the history span and each seasonal component is
// a truncated Fourier series. Coefficients are fitted by ridge-regularised
// least squares; interval bounds come from the residual spread.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrInsufficientData = errors.New("at least two observations are required to fit a forecast")

const (
	day = 24 * time.Hour

	weeklyPeriod = 7.0
	yearlyPeriod = 365.25

	weeklyMinSpanDays = 14
	yearlyMinSpanDays = 730
)

type Observation struct {
	Date  time.Time
	Value float64
}

type Series []Observation

type Point struct {
	Date  time.Time
	Value float64
	Lower float64
	Upper float64
}

type Options struct {
	// IntervalWidth is the central probability mass covered by Lower..Upper.
	IntervalWidth float64
	WeeklyOrder   int
	YearlyOrder   int
	// Ridge penalises every coefficient except the intercept.
	Ridge float64
}

func DefaultOptions() Options {
	return Options{
		IntervalWidth: 0.8,
		WeeklyOrder:   3,
		YearlyOrder:   10,
		Ridge:         0.01,
	}
}

type Model struct {
	opts Options
}

func New(opts Options) *Model {
	defaults := DefaultOptions()
	if opts.IntervalWidth <= 0 || opts.IntervalWidth >= 1 {
		opts.IntervalWidth = defaults.IntervalWidth
	}
	if opts.WeeklyOrder < 0 {
		opts.WeeklyOrder = 0
	}
	if opts.YearlyOrder < 0 {
		opts.YearlyOrder = 0
	}
	if opts.Ridge <= 0 {
		opts.Ridge = defaults.Ridge
	}
	return &Model{opts: opts}
}

// fit holds everything needed to evaluate the fitted model at a new date.
type fit struct {
	start    time.Time
	spanDays float64
	yScale   float64
	weekly   int
	yearly   int
	beta     []float64
	sigma    float64
	n        int
}

// Forecast fits the model on history and returns periods points on the
// frequency grid after the latest history date. Only future points are
// returned.
func (m *Model) Forecast(ctx context.Context, history Series, freq Frequency, periods int) ([]Point, error) {
	if periods < 1 {
		return nil, fmt.Errorf("periods must be positive, got %d", periods)
	}

	f, err := m.fit(history)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	last := history[0].Date
	for _, obs := range history[1:] {
		if obs.Date.After(last) {
			last = obs.Date
		}
	}

	z := distuv.UnitNormal.Quantile(0.5 + m.opts.IntervalWidth/2)

	dates := FutureDates(last, freq, periods)
	points := make([]Point, len(dates))
	for i, d := range dates {
		yhat := f.predict(d)
		spread := z * f.sigma * f.yScale * math.Sqrt(1+float64(i+1)/float64(f.n))
		points[i] = Point{
			Date:  d,
			Value: yhat,
			Lower: yhat - spread,
			Upper: yhat + spread,
		}
	}

	return points, nil
}

func (m *Model) fit(history Series) (*fit, error) {
	n := len(history)
	if n < 2 {
		return nil, ErrInsufficientData
	}

	start, end := truncateDay(history[0].Date), truncateDay(history[0].Date)
	yScale := 0.0
	for _, obs := range history {
		d := truncateDay(obs.Date)
		if d.Before(start) {
			start = d
		}
		if d.After(end) {
			end = d
		}
		if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
			return nil, fmt.Errorf("observation on %s is not a finite number", d.Format("2006-01-02"))
		}
		yScale = math.Max(yScale, math.Abs(obs.Value))
	}
	if yScale == 0 {
		yScale = 1
	}

	f := &fit{
		start:    start,
		spanDays: end.Sub(start).Hours() / 24,
		yScale:   yScale,
		n:        n,
	}
	if f.spanDays >= weeklyMinSpanDays {
		f.weekly = m.opts.WeeklyOrder
	}
	if f.spanDays >= yearlyMinSpanDays {
		f.yearly = m.opts.YearlyOrder
	}

	p := f.columns()
	// The design matrix is augmented with sqrt(ridge) rows for every
	// non-intercept column, which keeps it full rank for short histories.
	rows := n + p - 1
	x := mat.NewDense(rows, p, nil)
	y := mat.NewVecDense(rows, nil)
	for i, obs := range history {
		x.SetRow(i, f.features(obs.Date))
		y.SetVec(i, obs.Value/yScale)
	}
	penalty := math.Sqrt(m.opts.Ridge)
	for j := 1; j < p; j++ {
		x.Set(n+j-1, j, penalty)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, fmt.Errorf("solve least squares: %w", err)
	}
	f.beta = make([]float64, p)
	for j := range p {
		f.beta[j] = beta.AtVec(j)
	}

	residuals := make([]float64, n)
	for i, obs := range history {
		residuals[i] = obs.Value/yScale - f.dot(f.features(obs.Date))
	}
	f.sigma = stat.StdDev(residuals, nil)
	if math.IsNaN(f.sigma) {
		f.sigma = 0
	}

	return f, nil
}

func (f *fit) columns() int {
	p := 1
	if f.spanDays > 0 {
		p++
	}
	return p + 2*f.weekly + 2*f.yearly
}

func (f *fit) features(d time.Time) []float64 {
	d = truncateDay(d)
	row := make([]float64, 0, f.columns())
	row = append(row, 1)
	if f.spanDays > 0 {
		row = append(row, d.Sub(f.start).Hours()/24/f.spanDays)
	}
	epochDays := float64(d.Unix()) / day.Seconds()
	row = appendFourier(row, epochDays, weeklyPeriod, f.weekly)
	row = appendFourier(row, epochDays, yearlyPeriod, f.yearly)
	return row
}

func (f *fit) dot(row []float64) float64 {
	sum := 0.0
	for j, v := range row {
		sum += v * f.beta[j]
	}
	return sum
}

func (f *fit) predict(d time.Time) float64 {
	return f.dot(f.features(d)) * f.yScale
}

func appendFourier(row []float64, t, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		arg := 2 * math.Pi * float64(k) * t / period
		row = append(row, math.Sin(arg), math.Cos(arg))
	}
	return row
}
