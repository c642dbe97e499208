package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
)

type memoryUserRepository struct {
	users map[int64]entity.Peer
}

// NewMemoryUserRepository serves a fixed user list.
func NewMemoryUserRepository(users []entity.Peer) repository.UserRepository {
	r := &memoryUserRepository{users: make(map[int64]entity.Peer, len(users))}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memoryUserRepository) GetByID(ctx context.Context, id int64) (*entity.Peer, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	return &u, nil
}

func (r *memoryUserRepository) List(ctx context.Context) ([]entity.Peer, error) {
	out := make([]entity.Peer, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ParseUsers reads "id:name:role" entries separated by commas.
func ParseUsers(list string) ([]entity.Peer, error) {
	var users []entity.Peer
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("user entry %q: want id:name:role", entry)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("user entry %q: %w", entry, err)
		}
		users = append(users, entity.Peer{ID: id, Name: parts[1], Role: strings.ToUpper(parts[2])})
	}
	return users, nil
}
