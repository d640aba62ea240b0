package request

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/apperr"
)

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (m *MongoRepository) Insert(ctx context.Context, r *Request) error {
	_, err := m.col.InsertOne(ctx, r)
	return err
}

func (m *MongoRepository) Get(ctx context.Context, id string) (*Request, error) {
	var r Request
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("request %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (m *MongoRepository) Update(ctx context.Context, r *Request) error {
	res, err := m.col.ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("request %s", r.ID)
	}
	return nil
}

func (m *MongoRepository) ListByParticipant(ctx context.Context, participantID string, dir Direction) ([]*Request, error) {
	field := "from_id"
	if dir == DirectionReceived {
		field = "to_id"
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := m.col.Find(ctx, bson.M{field: participantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Request
	for cur.Next(ctx) {
		var r Request
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, cur.Err()
}

func (m *MongoRepository) CountPending(ctx context.Context, toID string) (int64, error) {
	return m.col.CountDocuments(ctx, bson.M{"to_id": toID, "status": StatusPending})
}
