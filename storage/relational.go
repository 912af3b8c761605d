package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/types"
)

type RelationalConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// DSN is the driver connection string. Defaults to an in-memory
	// sqlite database for the sqlite driver.
	DSN string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	// Dimension validates stored/search vectors when > 0.
	Dimension int

	// DB overrides connection setup with an existing handle. Used by tests.
	DB *gorm.DB
}

// memoryRecord is the relational row shape. Slice and map fields are
// serialized to JSON columns; similarity scoring happens in Go, not SQL.
type memoryRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	Content        string
	Fields         string
	Embedding      string
	Tier           string `gorm:"index;size:8"`
	Tags           string
	Importance     float64
	Strength       float64
	AccessCount    int
	CreatedAt      time.Time `gorm:"index"`
	LastAccessedAt time.Time
}

func (memoryRecord) TableName() string { return "memories" }

// RelationalBackend is the relational implementation of Backend, built on
// gorm with sqlite or postgres dialectors.
type RelationalBackend struct {
	mu     sync.Mutex
	db     *gorm.DB
	closed bool

	config RelationalConfig
	logger *zap.Logger
}

func NewRelationalBackend(config RelationalConfig, logger *zap.Logger) *RelationalBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Driver == "" {
		config.Driver = "sqlite"
	}
	if config.DSN == "" && config.Driver == "sqlite" {
		config.DSN = "file::memory:?cache=shared"
	}
	return &RelationalBackend{
		config: config,
		logger: logger.With(zap.String("component", "backend_relational"), zap.String("driver", config.Driver)),
	}
}

func (s *RelationalBackend) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		return nil
	}

	db := s.config.DB
	if db == nil {
		var dialector gorm.Dialector
		switch s.config.Driver {
		case "sqlite":
			dialector = sqlite.Open(s.config.DSN)
		case "postgres":
			dialector = postgres.Open(s.config.DSN)
		default:
			return types.ConfigurationError("unsupported relational driver: %s", s.config.Driver)
		}
		var err error
		db, err = gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
		if err != nil {
			return types.StorageError("open database", err)
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(&memoryRecord{}); err != nil {
		return types.StorageError("migrate memories table", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if s.config.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(s.config.MaxIdleConns)
		}
		if s.config.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(s.config.MaxOpenConns)
		}
		if s.config.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(s.config.ConnMaxLifetime)
		}
	}

	s.db = db
	s.closed = false
	s.logger.Info("relational backend initialized")
	return nil
}

func (s *RelationalBackend) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}

func (s *RelationalBackend) conn() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || s.closed {
		return nil, types.NewError(types.ErrShutdown, "relational backend not initialized")
	}
	return s.db, nil
}

func (s *RelationalBackend) Store(ctx context.Context, item *types.MemoryItem) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", types.ValidationError("item is required")
	}
	if s.config.Dimension > 0 && len(item.Embedding) > 0 && len(item.Embedding) != s.config.Dimension {
		return "", types.ValidationError("embedding dimension mismatch: got %d want %d", len(item.Embedding), s.config.Dimension)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Metadata.CreatedAt.IsZero() {
		item.Metadata.CreatedAt = time.Now()
	}

	rec, err := toRecord(item)
	if err != nil {
		return "", err
	}
	if err := db.WithContext(ctx).Save(rec).Error; err != nil {
		return "", types.StorageError("save memory row", err)
	}
	return item.ID, nil
}

func (s *RelationalBackend) Retrieve(ctx context.Context, id string) (*types.MemoryItem, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("id is required")
	}

	var rec memoryRecord
	err = db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.StorageError("load memory row", err)
	}
	return fromRecord(&rec)
}

func (s *RelationalBackend) Search(ctx context.Context, q Query) ([]ScoredItem, error) {
	if q.Limit <= 0 {
		return []ScoredItem{}, nil
	}
	if s.config.Dimension > 0 && len(q.Embedding) > 0 && len(q.Embedding) != s.config.Dimension {
		return nil, types.ValidationError("query dimension mismatch: got %d want %d", len(q.Embedding), s.config.Dimension)
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var recs []memoryRecord
	if err := applyRecordFilters(db.WithContext(ctx), q.Filters).Find(&recs).Error; err != nil {
		return nil, types.StorageError("query memory rows", err)
	}

	results := make([]ScoredItem, 0, len(recs))
	for i := range recs {
		item, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		// Tag containment cannot be pushed into SQL against a JSON
		// column portably; re-check in Go.
		if !MatchesFilters(item, q.Filters) {
			continue
		}
		results = append(results, ScoredItem{Item: item, Score: ScoreItem(item, q)})
	}
	return SortScored(results, q.Limit), nil
}

func (s *RelationalBackend) Delete(ctx context.Context, id string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	res := db.WithContext(ctx).Delete(&memoryRecord{}, "id = ?", id)
	if res.Error != nil {
		return false, types.StorageError("delete memory row", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *RelationalBackend) Count(ctx context.Context, filters map[string]any) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	if _, hasTag := filters["tag"]; hasTag {
		// Tag filters need the Go-side re-check.
		var recs []memoryRecord
		if err := applyRecordFilters(db.WithContext(ctx), filters).Find(&recs).Error; err != nil {
			return 0, types.StorageError("count memory rows", err)
		}
		var n int64
		for i := range recs {
			item, err := fromRecord(&recs[i])
			if err != nil {
				return 0, err
			}
			if MatchesFilters(item, filters) {
				n++
			}
		}
		return n, nil
	}

	var n int64
	if err := applyRecordFilters(db.WithContext(ctx).Model(&memoryRecord{}), filters).Count(&n).Error; err != nil {
		return 0, types.StorageError("count memory rows", err)
	}
	return n, nil
}

func (s *RelationalBackend) Stats(ctx context.Context) (Stats, error) {
	db, err := s.conn()
	if err != nil {
		return Stats{}, err
	}

	var n int64
	if err := db.WithContext(ctx).Model(&memoryRecord{}).Count(&n).Error; err != nil {
		return Stats{}, types.StorageError("count memory rows", err)
	}
	return Stats{
		BackendType: s.config.Driver,
		ItemCount:   n,
		AdditionalInfo: map[string]any{
			"driver": s.config.Driver,
		},
	}, nil
}

// RetrieveAll implements BulkReader, oldest first.
func (s *RelationalBackend) RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	tx := db.WithContext(ctx).Order("created_at asc, id asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var recs []memoryRecord
	if err := tx.Find(&recs).Error; err != nil {
		return nil, types.StorageError("list memory rows", err)
	}

	out := make([]*types.MemoryItem, 0, len(recs))
	for i := range recs {
		item, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// applyRecordFilters pushes the SQL-expressible filters into the query.
func applyRecordFilters(tx *gorm.DB, filters map[string]any) *gorm.DB {
	if tier, ok := filters["tier"].(string); ok {
		tx = tx.Where("tier = ?", tier)
	}
	if minImp, ok := toFloat(filters["min_importance"]); ok {
		tx = tx.Where("importance >= ?", minImp)
	}
	return tx
}

func toRecord(item *types.MemoryItem) (*memoryRecord, error) {
	fields, err := marshalJSON(item.Fields)
	if err != nil {
		return nil, types.StorageError("marshal fields", err)
	}
	embedding, err := marshalJSON(item.Embedding)
	if err != nil {
		return nil, types.StorageError("marshal embedding", err)
	}
	tags, err := marshalJSON(item.Metadata.Tags)
	if err != nil {
		return nil, types.StorageError("marshal tags", err)
	}
	return &memoryRecord{
		ID:             item.ID,
		Content:        item.Content,
		Fields:         fields,
		Embedding:      embedding,
		Tier:           string(item.Metadata.Tier),
		Tags:           tags,
		Importance:     item.Metadata.Importance,
		Strength:       item.Metadata.Strength,
		AccessCount:    item.Metadata.AccessCount,
		CreatedAt:      item.Metadata.CreatedAt,
		LastAccessedAt: item.Metadata.LastAccessedAt,
	}, nil
}

func fromRecord(rec *memoryRecord) (*types.MemoryItem, error) {
	item := &types.MemoryItem{
		ID:      rec.ID,
		Content: rec.Content,
		Metadata: types.Metadata{
			Tier:           types.Tier(rec.Tier),
			Importance:     rec.Importance,
			Strength:       rec.Strength,
			AccessCount:    rec.AccessCount,
			CreatedAt:      rec.CreatedAt,
			LastAccessedAt: rec.LastAccessedAt,
		},
	}
	if err := unmarshalJSON(rec.Fields, &item.Fields); err != nil {
		return nil, types.StorageError("unmarshal fields", err)
	}
	if err := unmarshalJSON(rec.Embedding, &item.Embedding); err != nil {
		return nil, types.StorageError("unmarshal embedding", err)
	}
	if err := unmarshalJSON(rec.Tags, &item.Metadata.Tags); err != nil {
		return nil, types.StorageError("unmarshal tags", err)
	}
	return item, nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

var (
	_ Backend    = (*RelationalBackend)(nil)
	_ BulkReader = (*RelationalBackend)(nil)
)
