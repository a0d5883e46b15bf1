package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/domain/pair"
	"github.com/coachpo/pricebridge/internal/domain/schema"
	"github.com/coachpo/pricebridge/internal/infra/cache"
)

const (
	resultInsertSQL = `
INSERT INTO provider_results (
    id,
    batch_id,
    cache_key,
    adapter,
    endpoint,
    base,
    quote,
    params,
    value,
    data,
    error_code,
    error_message,
    provider_time,
    received_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10::jsonb, $11, $12, $13, $14);
`
	resultLatestSQL = `
SELECT base, quote, params, value, data, error_code, error_message, provider_time, received_at
FROM provider_results
WHERE cache_key = $1
ORDER BY received_at DESC, created_at DESC
LIMIT 1;
`
	resultRecentSQL = `
SELECT cache_key, base, quote, params, value, data, error_code, error_message, provider_time, received_at
FROM provider_results
WHERE adapter = $1
ORDER BY received_at DESC, created_at DESC
LIMIT $2;
`
)

// ArchivedResult is a stored result with its cache key.
type ArchivedResult struct {
	Key    string
	Result schema.Result
}

// ResultArchive appends reconciled results to the provider_results table.
type ResultArchive struct {
	pool  *pgxpool.Pool
	newID func() uuid.UUID
}

var _ cache.Sink = (*ResultArchive)(nil)

// NewResultArchive constructs an archive backed by the provided pgx pool.
func NewResultArchive(pool *pgxpool.Pool) *ResultArchive {
	return &ResultArchive{pool: pool, newID: uuid.New}
}

// Put inserts entries in one batch sharing a batch id.
func (a *ResultArchive) Put(ctx context.Context, entries []cache.Entry) error {
	if a.pool == nil {
		return fmt.Errorf("result archive: nil pool")
	}
	if len(entries) == 0 {
		return nil
	}
	batchID := a.newID()
	batch := &pgx.Batch{}
	for _, entry := range entries {
		args, err := a.insertArgs(batchID, entry)
		if err != nil {
			return err
		}
		batch.Queue(resultInsertSQL, args...)
	}
	results := a.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert provider result: %w", err)
		}
	}
	return nil
}

func (a *ResultArchive) insertArgs(batchID uuid.UUID, entry cache.Entry) ([]any, error) {
	adapterName, endpoint := splitKey(entry.Key)
	if adapterName == "" {
		return nil, fmt.Errorf("result archive: malformed cache key %q", entry.Key)
	}
	r := entry.Result
	params, err := encodeJSON(stringMap(r.Params))
	if err != nil {
		return nil, fmt.Errorf("marshal result params: %w", err)
	}
	var data []byte
	if len(r.Data) > 0 {
		if data, err = encodeJSON(r.Data); err != nil {
			return nil, fmt.Errorf("marshal result data: %w", err)
		}
	}
	var (
		value        pgtype.Numeric
		errorCode    *string
		errorMessage *string
	)
	if r.Err != nil {
		code := string(r.Err.Code)
		msg := r.Err.Public()
		errorCode, errorMessage = &code, &msg
	} else {
		if value, err = numericFromFloat(r.Value); err != nil {
			return nil, err
		}
	}
	receivedAt := r.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return []any{
		a.newID(),
		batchID,
		entry.Key,
		adapterName,
		endpoint,
		r.Pair.Base,
		r.Pair.Quote,
		params,
		value,
		data,
		errorCode,
		errorMessage,
		optionalTime(r.ProviderTime),
		receivedAt,
	}, nil
}

// Latest returns the most recently archived result for key.
func (a *ResultArchive) Latest(ctx context.Context, key string) (schema.Result, bool, error) {
	if a.pool == nil {
		return schema.Result{}, false, fmt.Errorf("result archive: nil pool")
	}
	row := a.pool.QueryRow(ctx, resultLatestSQL, key)
	result, err := scanResult(row, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Result{}, false, nil
		}
		return schema.Result{}, false, fmt.Errorf("load latest result: %w", err)
	}
	if result.Err != nil {
		result.Err.Adapter, _ = splitKey(key)
	}
	return result, true, nil
}

// Recent lists up to limit archived results for adapter, newest first.
func (a *ResultArchive) Recent(ctx context.Context, adapterName string, limit int) ([]ArchivedResult, error) {
	if a.pool == nil {
		return nil, fmt.Errorf("result archive: nil pool")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx, resultRecentSQL, strings.ToLower(strings.TrimSpace(adapterName)), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}
	defer rows.Close()

	var out []ArchivedResult
	for rows.Next() {
		var key string
		result, err := scanResult(rows, &key)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, ArchivedResult{Key: key, Result: result})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row, key *string) (schema.Result, error) {
	var (
		base, quote         string
		paramsBytes, data   []byte
		value               pgtype.Numeric
		errorCode, errorMsg *string
		providerTime        *time.Time
		receivedAt          time.Time
	)
	dest := []any{&base, &quote, &paramsBytes, &value, &data, &errorCode, &errorMsg, &providerTime, &receivedAt}
	if key != nil {
		dest = append([]any{key}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return schema.Result{}, err
	}
	params, err := decodeJSON(paramsBytes)
	if err != nil {
		return schema.Result{}, fmt.Errorf("decode result params: %w", err)
	}
	out := schema.Result{
		Pair:       pair.Pair{Base: base, Quote: quote},
		Params:     fromAnyMap(params),
		ReceivedAt: receivedAt.UTC(),
	}
	if len(data) > 0 {
		if out.Data, err = decodeJSON(data); err != nil {
			return schema.Result{}, fmt.Errorf("decode result data: %w", err)
		}
	}
	if providerTime != nil {
		out.ProviderTime = providerTime.UTC()
	}
	if errorCode != nil {
		msg := ""
		if errorMsg != nil {
			msg = *errorMsg
		}
		out.Err = errs.New(splitAdapter(key), errs.Code(*errorCode), errs.WithMessage(msg))
		return out, nil
	}
	if value.Valid {
		f, err := value.Float64Value()
		if err != nil {
			return schema.Result{}, fmt.Errorf("convert numeric value: %w", err)
		}
		out.Value = f.Float64
	}
	return out, nil
}

func splitKey(key string) (string, string) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) < 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func splitAdapter(key *string) string {
	if key == nil {
		return ""
	}
	name, _ := splitKey(*key)
	return name
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func stringMap(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func fromAnyMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func encodeJSON(value map[string]any) ([]byte, error) {
	if len(value) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

func decodeJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return out, nil
}
