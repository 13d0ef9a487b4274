package captcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dataman/internal/dataman"
	"dataman/internal/jsonvalue"
	"dataman/internal/psqltype"
)

const (
	TokensDatabase = "tokens"
	TokensTable    = "public.captcha_tokens"
)

// TokenRow — строка captcha_tokens.
type TokenRow struct {
	ID         int64
	Hashed     string
	IP         string
	ExpiresAt  time.Time
	UsageCount int64
	MaxUsages  int64
}

var tokenFieldTypes = dataman.FieldTypes{
	"id":           psqltype.TInteger,
	"hashed_token": psqltype.TText,
	"ip_address":   psqltype.TText,
	"expires_at":   psqltype.TTimestamptz,
	"usage_count":  psqltype.TInteger,
	"max_usages":   psqltype.TInteger,
	"invalidated":  psqltype.TBoolean,
	"created_at":   psqltype.TTimestamptz,
}

// Store — операции над captcha_tokens через любой dataman.Sender.
type Store struct {
	sender   dataman.Sender
	database string
	now      func() time.Time
}

func NewStore(sender dataman.Sender) *Store {
	return &Store{sender: sender, database: TokensDatabase, now: time.Now}
}

func (s *Store) request(op dataman.Operation) dataman.Request {
	return dataman.Request{
		Operation:  op,
		Database:   s.database,
		Table:      TokensTable,
		FieldTypes: tokenFieldTypes,
	}
}

func latestFirst() *jsonvalue.Value {
	return dataman.Ptr(jsonvalue.NewObject(jsonvalue.Pair{Key: "created_at", Value: jsonvalue.NewString("desc")}))
}

// FetchValidByIP — последний не инвалидированный токен для IP. Просроченный инвалидируется, вернётся nil.
func (s *Store) FetchValidByIP(ctx context.Context, ip string) (*TokenRow, error) {
	return s.fetchValid(ctx, "ip_address", ip)
}

// FetchValidByHash — то же по хэшу токена.
func (s *Store) FetchValidByHash(ctx context.Context, hashed string) (*TokenRow, error) {
	return s.fetchValid(ctx, "hashed_token", hashed)
}

func (s *Store) fetchValid(ctx context.Context, column, value string) (*TokenRow, error) {
	req := s.request(dataman.OpFetch)
	req.Criteria = dataman.Ptr(jsonvalue.NewObject(
		jsonvalue.Pair{Key: column, Value: jsonvalue.NewString(value)},
		jsonvalue.Pair{Key: "invalidated", Value: jsonvalue.NewBool(false)},
	))
	req.Order = latestFirst()
	req.Limit = dataman.Limit(1)

	res, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, nil
	}
	row, err := decodeRow(res.Results[0])
	if err != nil {
		return nil, err
	}
	if !row.ExpiresAt.After(s.now()) {
		if err := s.Invalidate(ctx, row.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return row, nil
}

// Create — новая строка; в базе хранится только хэш.
func (s *Store) Create(ctx context.Context, ip, hashed string, expiresAt time.Time, maxUsages int64) (*TokenRow, error) {
	req := s.request(dataman.OpCreate)
	req.Values = dataman.Ptr(jsonvalue.NewObject(
		jsonvalue.Pair{Key: "hashed_token", Value: jsonvalue.NewString(hashed)},
		jsonvalue.Pair{Key: "expires_at", Value: jsonvalue.NewString(expiresAt.UTC().Format(time.RFC3339Nano))},
		jsonvalue.Pair{Key: "max_usages", Value: jsonvalue.NewInt(maxUsages)},
		jsonvalue.Pair{Key: "ip_address", Value: jsonvalue.NewString(ip)},
	))
	res, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return nil, errors.New("captcher: insert returned no row")
	}
	return decodeRow(res.Results[0])
}

// Invalidate помечает строку invalidated = true.
func (s *Store) Invalidate(ctx context.Context, id int64) error {
	req := s.request(dataman.OpUpdate)
	req.Criteria = dataman.Ptr(jsonvalue.NewObject(jsonvalue.Pair{Key: "id", Value: jsonvalue.NewInt(id)}))
	req.Values = dataman.Ptr(jsonvalue.NewObject(jsonvalue.Pair{Key: "invalidated", Value: jsonvalue.NewBool(true)}))
	_, err := s.sender.Send(ctx, req)
	return err
}

// IncrementUsage — usage_count+1 при условии, что счётчик не изменился с момента чтения.
// false — строку успел обновить кто-то другой.
func (s *Store) IncrementUsage(ctx context.Context, row TokenRow) (bool, error) {
	req := s.request(dataman.OpUpdate)
	req.Criteria = dataman.Ptr(jsonvalue.NewObject(
		jsonvalue.Pair{Key: "id", Value: jsonvalue.NewInt(row.ID)},
		jsonvalue.Pair{Key: "usage_count", Value: jsonvalue.NewInt(row.UsageCount)},
	))
	req.Values = dataman.Ptr(jsonvalue.NewObject(
		jsonvalue.Pair{Key: "usage_count", Value: jsonvalue.NewInt(row.UsageCount + 1)},
	))
	res, err := s.sender.Send(ctx, req)
	if err != nil {
		return false, err
	}
	return len(res.Results) > 0, nil
}

func decodeRow(v jsonvalue.Value) (*TokenRow, error) {
	var raw struct {
		ID         int64  `json:"id"`
		Hashed     string `json:"hashed_token"`
		IP         string `json:"ip_address"`
		ExpiresAt  string `json:"expires_at"`
		UsageCount int64  `json:"usage_count"`
		MaxUsages  int64  `json:"max_usages"`
	}
	if err := jsonvalue.Decode(v, &raw); err != nil {
		return nil, fmt.Errorf("captcher: decode token row: %w", err)
	}
	exp, err := time.Parse(time.RFC3339Nano, raw.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("captcher: bad expires_at %q: %w", raw.ExpiresAt, err)
	}
	return &TokenRow{
		ID:         raw.ID,
		Hashed:     raw.Hashed,
		IP:         raw.IP,
		ExpiresAt:  exp,
		UsageCount: raw.UsageCount,
		MaxUsages:  raw.MaxUsages,
	}, nil
}
