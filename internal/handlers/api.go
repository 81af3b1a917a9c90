package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"sales-forecast/internal/errors"
	"sales-forecast/internal/models"
	"sales-forecast/internal/observability"
	"sales-forecast/internal/services"
)

const (
	version          = "1.0.0"
	maxJSONBodyBytes = 1 << 20
	multipartMemory  = 8 << 20
	healthTimeout    = 2 * time.Second
	defaultMaxUpload = 32 << 20
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Transactions   *services.TransactionService
	Forecasts      *services.ForecastService
	Analytics      *services.Analytics
	Database       Pinger
	MaxUploadBytes int64
}

type APIHandlers struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewAPIHandlers(deps Dependencies, logger *slog.Logger) *APIHandlers {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUpload
	}
	return &APIHandlers{
		deps:   deps,
		logger: logger,
	}
}

func (h *APIHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.ValidationWrap(err, "Invalid JSON body: "+err.Error())
	}
	return nil
}

func (h *APIHandlers) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var req models.ForecastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	points, err := h.deps.Forecasts.Predict(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, points)
}

func (h *APIHandlers) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in models.TransactionInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.deps.Transactions.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Transaction added successfully!",
		"id":      tx.ID,
	})
}

func (h *APIHandlers) HandleUploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)

	file, err := h.uploadedFile(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, err := file.Open()
	if err != nil {
		h.fail(w, r, errors.Ingest(err))
		return
	}
	defer f.Close()

	count, err := h.deps.Transactions.ImportCSV(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Transactions added successfully!",
		"count":   count,
	})
}

// uploadedFile returns the multipart part named "file". A part sent with an
// empty filename arrives as a plain form value, which is how "no file
// selected" shows up.
func (h *APIHandlers) uploadedFile(r *http.Request) (*multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.Is(err, http.ErrNotMultipart), stderrors.Is(err, http.ErrMissingBoundary):
			return nil, errors.InvalidFormat("No file part")
		case stderrors.As(err, &tooLarge):
			return nil, errors.BadRequestWrap(err, "File too large")
		default:
			return nil, errors.BadRequestWrap(err, "Invalid multipart form")
		}
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		r.MultipartForm.RemoveAll()
		if _, ok := r.MultipartForm.Value["file"]; ok {
			return nil, errors.InvalidFormat("No selected file")
		}
		return nil, errors.InvalidFormat("No file part")
	}

	file := files[0]
	switch {
	case file.Filename == "":
		r.MultipartForm.RemoveAll()
		return nil, errors.InvalidFormat("No selected file")
	case !strings.HasSuffix(file.Filename, ".csv"):
		r.MultipartForm.RemoveAll()
		return nil, errors.InvalidFormat("Invalid file format")
	}
	return file, nil
}

func (h *APIHandlers) HandleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.deps.Transactions.Categories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

func (h *APIHandlers) HandleItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Transactions.Items(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string][]string{"items": items})
}

func (h *APIHandlers) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := h.deps.Transactions.List(r.Context(), models.Filter{
		Category: q.Get("category"),
		ItemName: q.Get("item"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *APIHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Analytics.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSONWithHeaders(w, summary, map[string]string{
		"Cache-Control": "public, max-age=60",
	})
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.deps.Database.Ping(ctx); err != nil {
		h.fail(w, r, errors.ServiceUnavailableWrap(err, "Database unavailable"))
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   version,
		"database":  "ok",
	})
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Analytics.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, stats)
}
