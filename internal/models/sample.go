package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Tags holds optional sample labels, stored as a JSON text column.
type Tags map[string]string

func (t Tags) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return json.Marshal(t)
}

func (t *Tags) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("unsupported tags column type %T", src)
	}
}

// MetricSample is a single measurement for a metric/target pair.
// Samples are immutable once written; the natural key
// (metric_name, target_id, timestamp) makes ingestion idempotent.
type MetricSample struct {
	ID         uint      `gorm:"primarykey" json:"-"`
	MetricName string    `gorm:"not null;uniqueIndex:idx_samples_natural,priority:1" json:"metric_name"`
	TargetID   string    `gorm:"not null;uniqueIndex:idx_samples_natural,priority:2" json:"target_id"`
	Timestamp  time.Time `gorm:"not null;uniqueIndex:idx_samples_natural,priority:3" json:"timestamp"`
	Value      float64   `json:"value"`
	Tags       Tags      `gorm:"type:text" json:"tags,omitempty"`
	CreatedAt  time.Time `json:"-"`
}

// MetricRollup is one aggregation bucket produced by the rollup loop.
// Upserts are keyed by (metric_name, target_id, bucket) so compaction
// reruns are idempotent.
type MetricRollup struct {
	ID         uint      `gorm:"primarykey" json:"-"`
	MetricName string    `gorm:"not null;uniqueIndex:idx_rollups_bucket,priority:1" json:"metric_name"`
	TargetID   string    `gorm:"not null;uniqueIndex:idx_rollups_bucket,priority:2" json:"target_id"`
	Bucket     time.Time `gorm:"not null;uniqueIndex:idx_rollups_bucket,priority:3" json:"bucket"`
	Count      int64     `json:"count"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Sum        float64   `json:"sum"`
	Avg        float64   `json:"avg"`
	UpdatedAt  time.Time `json:"-"`
}
