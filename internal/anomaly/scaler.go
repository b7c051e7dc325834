package anomaly

import "github.com/SentinelX-Auth/SentinelX/internal/stats"

// Scaler standardizes each feature to zero mean and unit variance using the
// statistics of the enrollment set. Features with zero spread keep a scale
// of 1 so they pass through centered but unscaled.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-feature mean and population standard deviation.
func FitScaler(rows [][]float64) Scaler {
	if len(rows) == 0 {
		return Scaler{}
	}
	dims := len(rows[0])
	s := Scaler{
		Mean:  make([]float64, dims),
		Scale: make([]float64, dims),
	}

	col := make([]float64, len(rows))
	for f := 0; f < dims; f++ {
		for i, r := range rows {
			col[i] = r[f]
		}
		s.Mean[f] = stats.Mean(col)
		sd := stats.StdDev(col)
		if sd == 0 {
			sd = 1
		}
		s.Scale[f] = sd
	}
	return s
}

// Transform returns the standardized copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for f := range x {
		out[f] = (x[f] - s.Mean[f]) / s.Scale[f]
	}
	return out
}

// TransformAll standardizes every row.
func (s Scaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = s.Transform(r)
	}
	return out
}

// Dims returns the number of features the scaler was fitted on.
func (s Scaler) Dims() int {
	return len(s.Mean)
}
