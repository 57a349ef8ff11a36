package postgres

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/internal/users/store"
)

type usersRepo struct {
	q dbtx
}

const userColumns = `id, username, email, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		u.Username, u.Email, u.PasswordHash,
	).Scan(&id)
	if err != nil {
		return 0, mapConstraint(err)
	}
	return id, nil
}

func (r *usersRepo) UpdateUser(ctx context.Context, id int64, c domain.UserChanges) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users
		 SET username      = COALESCE($1, username),
		     email         = COALESCE($2, email),
		     password_hash = COALESCE($3, password_hash),
		     updated_at    = now()
		 WHERE id = $4`,
		mapNullString(c.Username),
		mapNullString(c.Email),
		mapNullString(c.PasswordHash),
		id,
	)
	if err != nil {
		return mapConstraint(err)
	}
	return requireAffected(res)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *usersRepo) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
