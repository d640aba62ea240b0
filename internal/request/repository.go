package request

import "context"

// Repository abstracts request persistence. The in-memory implementation
// backs tests; MongoRepository backs production.
type Repository interface {
	Insert(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListByParticipant(ctx context.Context, participantID string, dir Direction) ([]*Request, error)
	CountPending(ctx context.Context, toID string) (int64, error)
}
