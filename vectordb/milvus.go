package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/schema"
)

const (
	milvusFieldID       = "id"
	milvusFieldContent  = "content"
	milvusFieldMetadata = "metadata"
	milvusFieldVector   = "vector"

	milvusMaxIDLength      = 512
	milvusMaxContentLength = 65535
)

// MilvusStore keeps dense vectors in a Milvus collection. The collection
// and its vector index are created on first use.
type MilvusStore struct {
	c          client.Client
	collection string
	dim        int
	metricType entity.MetricType
	logger     *zap.Logger
}

// NewMilvusStore connects to Milvus and ensures the collection exists.
func NewMilvusStore(ctx context.Context, cfg *config.VectorDBConfig, dim int, logger *zap.Logger) (*MilvusStore, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, fmt.Errorf("milvus host is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metricType := entity.COSINE
	switch cfg.MetricType {
	case "", "COSINE":
	case "IP":
		metricType = entity.IP
	case "L2":
		metricType = entity.L2
	default:
		return nil, fmt.Errorf("unsupported metric type %q", cfg.MetricType)
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusStore{
		c:          c,
		collection: cfg.Collection,
		dim:        dim,
		metricType: metricType,
		logger:     logger.Named("milvus"),
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := s.c.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", s.collection, err)
	}
	if !has {
		collSchema := entity.NewSchema().
			WithName(s.collection).
			WithField(entity.NewField().
				WithName(milvusFieldID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(milvusMaxIDLength).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(milvusFieldContent).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(milvusMaxContentLength)).
			WithField(entity.NewField().
				WithName(milvusFieldMetadata).
				WithDataType(entity.FieldTypeJSON)).
			WithField(entity.NewField().
				WithName(milvusFieldVector).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(s.dim)))
		if err := s.c.CreateCollection(ctx, collSchema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection %q: %w", s.collection, err)
		}

		idx, err := entity.NewIndexAUTOINDEX(s.metricType)
		if err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		if err := s.c.CreateIndex(ctx, s.collection, milvusFieldVector, idx, false); err != nil {
			return fmt.Errorf("create index on %q: %w", s.collection, err)
		}
		s.logger.Info("collection created", zap.String("collection", s.collection), zap.Int("dim", s.dim))
	}

	if err := s.c.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("load collection %q: %w", s.collection, err)
	}
	return nil
}

func (s *MilvusStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	contents := make([]string, len(records))
	metas := make([][]byte, len(records))
	vectors := make([][]float32, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record %d has empty id: %w", i, schema.ErrIndex)
		}
		if len(rec.Vector) != s.dim {
			return fmt.Errorf("record %q vector dim %d, want %d: %w", rec.ID, len(rec.Vector), s.dim, schema.ErrIndex)
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %q: %w", rec.ID, err)
		}
		ids[i] = rec.ID
		contents[i] = rec.Content
		metas[i] = meta
		vectors[i] = rec.Vector
	}

	_, err := s.c.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(milvusFieldContent, contents),
		entity.NewColumnJSONBytes(milvusFieldMetadata, metas),
		entity.NewColumnFloatVector(milvusFieldVector, s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus upsert: %w", err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("build search params: %w", err)
	}

	results, err := s.c.Search(ctx, s.collection, nil, "",
		[]string{milvusFieldID, milvusFieldContent, milvusFieldMetadata},
		[]entity.Vector{entity.FloatVector(vector)},
		milvusFieldVector, s.metricType, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var matches []Match
	for _, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("milvus search result: %w", result.Err)
		}
		idCol, _ := result.Fields.GetColumn(milvusFieldID).(*entity.ColumnVarChar)
		contentCol, _ := result.Fields.GetColumn(milvusFieldContent).(*entity.ColumnVarChar)
		metaCol, _ := result.Fields.GetColumn(milvusFieldMetadata).(*entity.ColumnJSONBytes)
		if idCol == nil {
			continue
		}
		for i := 0; i < result.ResultCount; i++ {
			id, err := idCol.ValueByIdx(i)
			if err != nil {
				continue
			}
			m := Match{Record: Record{ID: id}, Score: float64(result.Scores[i])}
			if contentCol != nil {
				m.Content, _ = contentCol.ValueByIdx(i)
			}
			if metaCol != nil {
				if raw, err := metaCol.ValueByIdx(i); err == nil && len(raw) > 0 {
					_ = json.Unmarshal(raw, &m.Metadata)
				}
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// Clear drops and recreates the collection.
func (s *MilvusStore) Clear(ctx context.Context) error {
	if err := s.c.DropCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("drop collection %q: %w", s.collection, err)
	}
	return s.ensureCollection(ctx)
}

func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	stats, err := s.c.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("collection statistics: %w", err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("parse row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

func (s *MilvusStore) Close() error {
	return s.c.Close()
}
