package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type FeatureKind string

const (
	KindNumeric     FeatureKind = "numeric"
	KindCategorical FeatureKind = "categorical"
)

// FeatureValue is a tagged scalar: either a numeric or a categorical value.
// The kind is fixed at ingestion so downstream code never re-inspects types.
type FeatureValue struct {
	Kind FeatureKind
	Num  float64
	Cat  string
}

func Numeric(v float64) FeatureValue    { return FeatureValue{Kind: KindNumeric, Num: v} }
func Categorical(v string) FeatureValue { return FeatureValue{Kind: KindCategorical, Cat: v} }

func (v FeatureValue) MarshalJSON() ([]byte, error) {
	if v.Kind == KindCategorical {
		return json.Marshal(v.Cat)
	}
	return json.Marshal(v.Num)
}

func (v *FeatureValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Categorical(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Numeric(f)
		return nil
	}
	return fmt.Errorf("feature value must be a number or a string: %s", string(data))
}

type Event struct {
	ID        string                  `json:"id"`
	ProjectID string                  `json:"project_id"`
	ModelID   string                  `json:"model_id"`
	Endpoint  string                  `json:"endpoint"`
	Timestamp time.Time               `json:"timestamp"`
	LatencyMS *int64                  `json:"latency_ms,omitempty"`
	YPred     *int64                  `json:"y_pred,omitempty"`
	YProba    *float64                `json:"y_proba,omitempty"`
	Features  map[string]FeatureValue `json:"features"`
	CreatedAt time.Time               `json:"created_at"`
}

type ModelKey struct {
	ProjectID string `json:"project_id"`
	ModelID   string `json:"model_id"`
	Endpoint  string `json:"endpoint"`
}

// FeatureStat is either {Mean, Std} for numeric features or a normalized
// frequency map for categorical ones.
type FeatureStat struct {
	Kind        FeatureKind        `json:"kind"`
	Mean        float64            `json:"mean,omitempty"`
	Std         float64            `json:"std,omitempty"`
	Frequencies map[string]float64 `json:"frequencies,omitempty"`
	N           int                `json:"n"`
}

type DailyMetric struct {
	ProjectID      string                 `json:"project_id"`
	ModelID        string                 `json:"model_id"`
	Endpoint       string                 `json:"endpoint"`
	Day            string                 `json:"day"` // civil date, YYYY-MM-DD
	TZ             string                 `json:"tz"`
	NEvents        int                    `json:"n_events"`
	LatencyP50MS   *float64               `json:"latency_p50_ms"`
	LatencyP95MS   *float64               `json:"latency_p95_ms"`
	YPredRate      *float64               `json:"y_pred_rate"`
	YProbaMean     *float64               `json:"y_proba_mean"`
	FeatureStats   map[string]FeatureStat `json:"feature_stats"`
	TypeMismatches map[string]int         `json:"type_mismatches"`
	CreatedAt      time.Time              `json:"created_at"`
}

type Baseline struct {
	ProjectID    string             `json:"project_id"`
	ModelID      string             `json:"model_id"`
	Endpoint     string             `json:"endpoint"`
	Feature      string             `json:"feature"`
	FeatureType  FeatureKind        `json:"feature_type"`
	NBaseline    int                `json:"n_baseline"`
	BinEdges     []float64          `json:"bin_edges,omitempty"`   // numeric only
	Probs        []float64          `json:"probs,omitempty"`       // numeric: aligned to bins
	Frequencies  map[string]float64 `json:"frequencies,omitempty"` // categorical: normalized
	CapturedFrom time.Time          `json:"captured_from"`
	CapturedTo   time.Time          `json:"captured_to"`
	CreatedAt    time.Time          `json:"created_at"`
}

type DriftStatus string

const (
	DriftOK               DriftStatus = "ok"
	DriftMissingBaseline  DriftStatus = "missing_baseline"
	DriftInsufficientData DriftStatus = "insufficient_data"
)

type DriftResult struct {
	ProjectID string      `json:"project_id"`
	ModelID   string      `json:"model_id"`
	Endpoint  string      `json:"endpoint"`
	Day       string      `json:"day"`
	Feature   string      `json:"feature"`
	Status    DriftStatus `json:"status"`
	Score     *float64    `json:"score"`
	Severity  string      `json:"severity,omitempty"`
	Kind      FeatureKind `json:"kind,omitempty"`
	N         int         `json:"n"`
}

type AlertKind string

const (
	AlertDrift   AlertKind = "drift"
	AlertLatency AlertKind = "latency"
	AlertCost    AlertKind = "cost"
)

type Alert struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ModelID   string    `json:"model_id"`
	Endpoint  string    `json:"endpoint"`
	Feature   string    `json:"feature"` // empty for non-feature kinds
	Day       string    `json:"day"`
	Kind      AlertKind `json:"kind"`
	Severity  string    `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

type DailyCost struct {
	ProjectID string    `json:"project_id"`
	Day       string    `json:"day"`
	Service   string    `json:"service"` // provider service name or "TOTAL"
	Amount    float64   `json:"amount"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
}
