package database

import (
	"context"

	"github.com/google/uuid"
)

const userColumns = `id, outlet_id, full_name, email, hashed_password, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.OutletID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role,
		&u.CreatedAt,
	)
	return u, err
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

type CreateUserParams struct {
	OutletID       uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO users
		(outlet_id, full_name, email, hashed_password, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		arg.OutletID, arg.FullName, arg.Email, arg.HashedPassword, arg.Role)
	return scanUser(row)
}
