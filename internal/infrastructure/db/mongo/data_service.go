package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

// DataService implements ports.DataService on a MongoDB database. Documents
// are keyed by _id and decoded through their bson tags.
type DataService struct {
	db *mongo.Database
}

// NewDataService creates a DataService.
func NewDataService(db *mongo.Database) *DataService {
	return &DataService{db: db}
}

// Get decodes the document with id into out.
func (s *DataService) Get(ctx context.Context, collection, id string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
		}
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return nil
}

// Put creates or replaces the document with id.
func (s *DataService) Put(ctx context.Context, collection, id string, doc any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Find decodes every document matching q into out.
func (s *DataService) Find(ctx context.Context, q ports.Query, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := s.db.Collection(q.Collection).Find(ctx, filterDoc(q.Filter), findOptions(q))
	if err != nil {
		return fmt.Errorf("find %s: %w", q.Collection, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("decode %s: %w", q.Collection, err)
	}
	return nil
}

func filterDoc(f map[string]any) bson.M {
	doc := bson.M{}
	for k, v := range f {
		doc[k] = v
	}
	return doc
}

func findOptions(q ports.Query) *options.FindOptions {
	opts := options.Find()
	if q.SortBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.SortBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	return opts
}
