package callback

import "context"

type Store interface {
	CreateCallback(ctx context.Context, e *Entry) error
	UpdateCallback(ctx context.Context, e *Entry) error
	ListCallbacks(ctx context.Context, opts ListOpts) ([]*Entry, error)
}

type ListOpts struct {
	Reference string
	Status    Status
	Limit     int
	Offset    int
}
