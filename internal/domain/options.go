package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Option bounds.
const (
	MaxSyncLimit   = 1000
	maxExtraFields = 32
)

var errUnsupportedJSONB = errors.New("unsupported type for JSONB column")

// SyncOptions parameterizes a sync run. The typed fields cover what the
// connectors understand; Extra carries connector-specific string settings.
type SyncOptions struct {
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
	UpdatedSince *time.Time        `json:"updated_since,omitempty"`
	SKUs         []string          `json:"skus,omitempty"`
	Force        bool              `json:"force,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Validate checks option bounds.
func (o SyncOptions) Validate() error {
	if o.Limit < 0 || o.Limit > MaxSyncLimit {
		return NewValidationError("options.limit must be between 0 and %d", MaxSyncLimit)
	}
	if o.Offset < 0 {
		return NewValidationError("options.offset must not be negative")
	}
	if len(o.Extra) > maxExtraFields {
		return NewValidationError("options.extra accepts at most %d keys", maxExtraFields)
	}
	for k := range o.Extra {
		if k == "" {
			return NewValidationError("options.extra keys must not be empty")
		}
	}
	return nil
}

// Merge returns o with every non-zero field of override applied on top.
// Extra maps are merged key by key, override winning.
func (o SyncOptions) Merge(override *SyncOptions) SyncOptions {
	merged := o
	merged.Extra = maps.Clone(o.Extra)
	if override == nil {
		return merged
	}

	if override.Limit != 0 {
		merged.Limit = override.Limit
	}
	if override.Offset != 0 {
		merged.Offset = override.Offset
	}
	if override.UpdatedSince != nil {
		merged.UpdatedSince = override.UpdatedSince
	}
	if len(override.SKUs) > 0 {
		merged.SKUs = override.SKUs
	}
	merged.Force = merged.Force || override.Force
	if len(override.Extra) > 0 {
		if merged.Extra == nil {
			merged.Extra = make(map[string]string, len(override.Extra))
		}
		maps.Copy(merged.Extra, override.Extra)
	}
	return merged
}

// Scan implements sql.Scanner for the JSONB options column.
func (o *SyncOptions) Scan(value any) error {
	return scanJSONB(value, o)
}

// Value implements driver.Valuer for the JSONB options column.
func (o SyncOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// SyncResult is the outcome a connector reports for a run.
type SyncResult struct {
	ItemsProcessed int            `json:"items_processed"`
	ItemsFailed    int            `json:"items_failed"`
	Errors         []string       `json:"errors,omitempty"`
	Details        map[string]int `json:"details,omitempty"`
}

// Scan implements sql.Scanner for the JSONB result column.
func (r *SyncResult) Scan(value any) error {
	return scanJSONB(value, r)
}

// Value implements driver.Valuer for the JSONB result column.
func (r SyncResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func scanJSONB(value, dest any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("%w: %T", errUnsupportedJSONB, value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
