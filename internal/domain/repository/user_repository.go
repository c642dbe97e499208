package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Peer, error)
	List(ctx context.Context) ([]entity.Peer, error)
}
