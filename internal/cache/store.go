// Package cache is the content-addressed memoization layer: computed
// artifacts keyed by structure fingerprint and evaluator version, with
// at-most-one computation per key across concurrent callers and processes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"athanor/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("cache record version mismatch")
	ErrNotInitialized  = errors.New("cache store is not initialized")
)

// Store is the durable backend behind the cache. Implementations provide
// point reads, atomic insert-if-absent, an advisory per-key lease, and a
// bulk export. PutIfAbsent is the correctness anchor: whatever the lease
// traffic looks like, at most one record ever lands per key and records are
// never overwritten.
type Store interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) (model.CacheRecord, bool, error)
	PutIfAbsent(ctx context.Context, key string, record model.CacheRecord) (bool, error)
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
	Export(ctx context.Context) ([]model.CacheRecord, error)
	Close() error
}

// Key scopes a fingerprint by evaluator version, so upgrading an evaluator
// never serves stale artifacts.
func Key(fingerprint, evaluatorVersion string) string {
	return fingerprint + "@" + evaluatorVersion
}

func encodeRecord(record model.CacheRecord) ([]byte, error) {
	return json.Marshal(record)
}

func decodeRecord(data []byte) (model.CacheRecord, error) {
	var record model.CacheRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.CacheRecord{}, err
	}
	if record.SchemaVersion != CurrentSchemaVersion || record.CodecVersion != CurrentCodecVersion {
		return model.CacheRecord{}, fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, record.SchemaVersion, record.CodecVersion)
	}
	return record, nil
}

// sortRecords orders an export by fingerprint, then evaluator version.
func sortRecords(records []model.CacheRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Fingerprint != records[j].Fingerprint {
			return records[i].Fingerprint < records[j].Fingerprint
		}
		return records[i].EvaluatorVersion < records[j].EvaluatorVersion
	})
}

// NewRecord stamps a fresh record with current versions and timestamp.
func NewRecord(fingerprint, evaluatorName, evaluatorVersion string, artifact model.Artifact) model.CacheRecord {
	return model.CacheRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: CurrentSchemaVersion,
			CodecVersion:  CurrentCodecVersion,
		},
		Fingerprint:      fingerprint,
		EvaluatorName:    evaluatorName,
		EvaluatorVersion: evaluatorVersion,
		Artifact:         artifact,
		CreatedAtUTC:     time.Now().UTC(),
	}
}
