package adapter

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// PgProfileRepository reads profiles maintained by the identity provider.
// This system never writes to chat.profile.
type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

func (r *PgProfileRepository) GetProfile(ctx context.Context, userID string) (*chat.Profile, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgProfileRepository: nil pool")
	}
	var p chat.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, username, avatar_url
		FROM chat.profile
		WHERE id = $1::uuid
	`, userID).Scan(&p.ID, &p.Username, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
