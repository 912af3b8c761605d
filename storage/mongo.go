package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

type MongoConfig struct {
	URI        string
	Database   string
	Collection string

	// Dimension validates stored/search vectors when > 0.
	Dimension int
}

// memoryDocument is the document shape stored in the mongo collection.
type memoryDocument struct {
	ID             string         `bson:"_id"`
	Content        string         `bson:"content"`
	Fields         map[string]any `bson:"fields,omitempty"`
	Embedding      []float32      `bson:"embedding,omitempty"`
	Tier           string         `bson:"tier"`
	Tags           []string       `bson:"tags,omitempty"`
	Importance     float64        `bson:"importance"`
	Strength       float64        `bson:"strength"`
	AccessCount    int            `bson:"access_count"`
	CreatedAt      time.Time      `bson:"created_at"`
	LastAccessedAt time.Time      `bson:"last_accessed_at"`
}

// MongoBackend is the external document-store implementation of Backend.
type MongoBackend struct {
	mu     sync.Mutex
	client *mongo.Client
	coll   *mongo.Collection
	closed bool

	config MongoConfig
	logger *zap.Logger
}

func NewMongoBackend(config MongoConfig, logger *zap.Logger) *MongoBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.URI == "" {
		config.URI = "mongodb://localhost:27017"
	}
	if config.Database == "" {
		config.Database = "memflow"
	}
	if config.Collection == "" {
		config.Collection = "memories"
	}
	return &MongoBackend{
		config: config,
		logger: logger.With(zap.String("component", "backend_mongo")),
	}
}

func (s *MongoBackend) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && !s.closed {
		return nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(s.config.URI))
	if err != nil {
		return types.StorageError("connect to mongo", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return types.StorageError("ping mongo", err)
	}

	s.client = client
	s.coll = client.Database(s.config.Database).Collection(s.config.Collection)
	s.closed = false
	s.logger.Info("mongo backend initialized",
		zap.String("database", s.config.Database),
		zap.String("collection", s.config.Collection))
	return nil
}

func (s *MongoBackend) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.client.Disconnect(ctx)
}

func (s *MongoBackend) conn() (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll == nil || s.closed {
		return nil, types.NewError(types.ErrShutdown, "mongo backend not initialized")
	}
	return s.coll, nil
}

func (s *MongoBackend) Store(ctx context.Context, item *types.MemoryItem) (string, error) {
	coll, err := s.conn()
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

	doc := toDocument(item)
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": item.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", types.StorageError("mongo upsert", err)
	}
	return item.ID, nil
}

func (s *MongoBackend) Retrieve(ctx context.Context, id string) (*types.MemoryItem, error) {
	coll, err := s.conn()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ValidationError("id is required")
	}

	var doc memoryDocument
	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, types.StorageError("mongo find", err)
	}
	return fromDocument(&doc), nil
}

func (s *MongoBackend) Search(ctx context.Context, q Query) ([]ScoredItem, error) {
	if q.Limit <= 0 {
		return []ScoredItem{}, nil
	}
	if s.config.Dimension > 0 && len(q.Embedding) > 0 && len(q.Embedding) != s.config.Dimension {
		return nil, types.ValidationError("query dimension mismatch: got %d want %d", len(q.Embedding), s.config.Dimension)
	}
	coll, err := s.conn()
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, documentFilter(q.Filters))
	if err != nil {
		return nil, types.StorageError("mongo query", err)
	}
	var docs []memoryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, types.StorageError("mongo cursor", err)
	}

	results := make([]ScoredItem, 0, len(docs))
	for i := range docs {
		item := fromDocument(&docs[i])
		if !MatchesFilters(item, q.Filters) {
			continue
		}
		results = append(results, ScoredItem{Item: item, Score: ScoreItem(item, q)})
	}
	return SortScored(results, q.Limit), nil
}

func (s *MongoBackend) Delete(ctx context.Context, id string) (bool, error) {
	coll, err := s.conn()
	if err != nil {
		return false, err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, types.StorageError("mongo delete", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoBackend) Count(ctx context.Context, filters map[string]any) (int64, error) {
	coll, err := s.conn()
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, documentFilter(filters))
	if err != nil {
		return 0, types.StorageError("mongo count", err)
	}
	return n, nil
}

func (s *MongoBackend) Stats(ctx context.Context) (Stats, error) {
	coll, err := s.conn()
	if err != nil {
		return Stats{}, err
	}

	n, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return Stats{}, types.StorageError("mongo count", err)
	}
	return Stats{
		BackendType: "mongo",
		ItemCount:   n,
		AdditionalInfo: map[string]any{
			"database":   s.config.Database,
			"collection": s.config.Collection,
		},
	}, nil
}

// RetrieveAll implements BulkReader, oldest first.
func (s *MongoBackend) RetrieveAll(ctx context.Context, limit int) ([]*types.MemoryItem, error) {
	coll, err := s.conn()
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, types.StorageError("mongo list", err)
	}
	var docs []memoryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, types.StorageError("mongo cursor", err)
	}

	out := make([]*types.MemoryItem, 0, len(docs))
	for i := range docs {
		out = append(out, fromDocument(&docs[i]))
	}
	return out, nil
}

// documentFilter pushes the mongo-expressible filters into the query;
// the tag filter is expressible directly against the tags array.
func documentFilter(filters map[string]any) bson.M {
	out := bson.M{}
	if tier, ok := filters["tier"].(string); ok {
		out["tier"] = tier
	}
	if tag, ok := filters["tag"].(string); ok {
		out["tags"] = tag
	}
	if minImp, ok := toFloat(filters["min_importance"]); ok {
		out["importance"] = bson.M{"$gte": minImp}
	}
	return out
}

func toDocument(item *types.MemoryItem) *memoryDocument {
	return &memoryDocument{
		ID:             item.ID,
		Content:        item.Content,
		Fields:         item.Fields,
		Embedding:      item.Embedding,
		Tier:           string(item.Metadata.Tier),
		Tags:           item.Metadata.Tags,
		Importance:     item.Metadata.Importance,
		Strength:       item.Metadata.Strength,
		AccessCount:    item.Metadata.AccessCount,
		CreatedAt:      item.Metadata.CreatedAt,
		LastAccessedAt: item.Metadata.LastAccessedAt,
	}
}

func fromDocument(doc *memoryDocument) *types.MemoryItem {
	return &types.MemoryItem{
		ID:        doc.ID,
		Content:   doc.Content,
		Fields:    doc.Fields,
		Embedding: doc.Embedding,
		Metadata: types.Metadata{
			Tier:           types.Tier(doc.Tier),
			Tags:           doc.Tags,
			Importance:     doc.Importance,
			Strength:       doc.Strength,
			AccessCount:    doc.AccessCount,
			CreatedAt:      doc.CreatedAt,
			LastAccessedAt: doc.LastAccessedAt,
		},
	}
}

var (
	_ Backend    = (*MongoBackend)(nil)
	_ BulkReader = (*MongoBackend)(nil)
)
