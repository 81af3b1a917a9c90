package models

// ForecastRequest is the /predict body.
type ForecastRequest struct {
	Category  string `json:"kategori"`
	ItemName  string `json:"nama_barang"`
	Timeframe string `json:"timeframe"`
	Periods   *int   `json:"n_predictions"`
}

type ForecastPoint struct {
	DS        string  `json:"ds"`
	YHat      float64 `json:"yhat"`
	YHatLower float64 `json:"yhat_lower"`
	YHatUpper float64 `json:"yhat_upper"`
}
