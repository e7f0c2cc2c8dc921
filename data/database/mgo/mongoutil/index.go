package mongoutil

import (
	"context"

	"PChatGate/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

// IndexSpec 一个集合需要的索引
type IndexSpec struct {
	Collection string
	Models     []mongo.IndexModel
}

// EnsureIndexes creates the indexes; existing identical indexes are a no-op on the server.
func EnsureIndexes(ctx context.Context, db *mongo.Database, specs ...IndexSpec) error {
	for _, s := range specs {
		if len(s.Models) == 0 {
			continue
		}
		if _, err := db.Collection(s.Collection).Indexes().CreateMany(ctx, s.Models); err != nil {
			return errs.WrapMsg(err, "create indexes failed", "collection", s.Collection)
		}
	}
	return nil
}
