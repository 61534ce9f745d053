package queue

import (
	"context"
	"errors"
)

var ErrStoreNotFound = errors.New("queue item not found in store")

type Store interface {
	SaveItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id string) (Item, error)
	ListNonTerminal(ctx context.Context) ([]Item, error)
	Close() error
}
