package handlers

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"sales-forecast/internal/errors"
	"sales-forecast/internal/models"
	"sales-forecast/internal/services"
	"sales-forecast/internal/ui/templates"
)

type SSEHandlers struct {
	analytics *services.Analytics
	forecasts *services.ForecastService
	logger    *slog.Logger
}

func NewSSEHandlers(deps Dependencies, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		analytics: deps.Analytics,
		forecasts: deps.Forecasts,
		logger:    logger,
	}
}

// forecastSignals mirrors the dashboard's forecast form.
type forecastSignals struct {
	Category  string `json:"kategori"`
	ItemName  string `json:"nama_barang"`
	Timeframe string `json:"timeframe"`
	Periods   int    `json:"n_predictions"`
}

// HandleSummary patches the category table and sends the chart data as
// signals.
func (h *SSEHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	summary, err := h.analytics.Summary(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load summary", "error", err)
		h.patchError(sse, r, templates.CategoryContentID, "Summary unavailable")
		return
	}

	html, err := templates.RenderString(r.Context(), templates.CategoryTable(summary.CategoryRevenue))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "render category table", "error", err)
		return
	}
	sse.PatchElements(html)

	signals, err := json.Marshal(map[string]any{
		"monthlyData": summary.MonthlySales,
		"topItems":    summary.TopItems,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "marshal summary signals", "error", err)
		return
	}
	sse.PatchSignals(signals)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleForecast runs a forecast for the form signals and patches the result
// table, or an error notice, into the page.
func (h *SSEHandlers) HandleForecast(w http.ResponseWriter, r *http.Request) {
	// Signals are read before the stream opens; writing may end body reads.
	var in forecastSignals
	readErr := datastar.ReadSignals(r, &in)

	sse := datastar.NewSSE(w, r)
	if readErr != nil {
		h.logger.WarnContext(r.Context(), "read forecast signals", "error", readErr)
		h.patchError(sse, r, templates.ForecastContentID, "Invalid forecast request")
		return
	}

	req := models.ForecastRequest{
		Category:  in.Category,
		ItemName:  in.ItemName,
		Timeframe: in.Timeframe,
		Periods:   &in.Periods,
	}
	points, err := h.forecasts.Predict(r.Context(), req)
	if err != nil {
		message := "Forecast failed"
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.StatusCode < http.StatusInternalServerError {
			message = appErr.Message
		}
		h.logger.WarnContext(r.Context(), "sse forecast failed", "error", err)
		h.patchError(sse, r, templates.ForecastContentID, message)
		return
	}

	html, err := templates.RenderString(r.Context(), templates.ForecastTable(in.Category, in.ItemName, points))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "render forecast table", "error", err)
		return
	}
	sse.PatchElements(html)

	signals, err := json.Marshal(map[string]any{"forecastData": points})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "marshal forecast signals", "error", err)
		return
	}
	sse.PatchSignals(signals)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandlers) patchError(sse *datastar.ServerSentEventGenerator, r *http.Request, id, message string) {
	html, err := templates.RenderString(r.Context(), templates.ErrorMessage(id, message))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "render error fragment", "error", err)
		return
	}
	sse.PatchElements(html)
}
