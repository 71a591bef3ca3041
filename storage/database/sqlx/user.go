package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

type userRow struct {
	ID           string         `db:"id"`
	Name         null.String    `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     null.Bool      `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    null.Time      `db:"created_at"`
	UpdatedAt    null.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (r userRow) unpack() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name.String,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive.Ptr(),
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash.Bytes,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
		LastLogin:    r.LastLogin.Time,
	}
}

func pack(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         null.NewString(usr.Name, usr.Name != ""),
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     null.BoolFromPtr(usr.IsActive),
		Roles:        usr.Roles,
		PasswordHash: null.BytesFrom(usr.PasswordHash),
		CreatedAt:    null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:    null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	exclIDs := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	var taken struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	err := repo.db.GetContext(
		ctx, &taken,
		`SELECT username, email FROM "user"
		 WHERE (username = $1 OR email = $2) AND NOT (id = ANY($3)) LIMIT 1`,
		username, email, pq.StringArray(exclIDs),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return errors.Wrap(err, "checking username uniqueness")
	}
	if taken.Username.String == username && username != "" {
		return user.ErrUsernameExists
	}
	return user.ErrEmailExists
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	row := pack(usr)
	_, err := repo.db.NamedExecContext(
		ctx,
		`INSERT INTO "user" (id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login)
		 VALUES (:id, :name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)`,
		row,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ID != "" {
		conds = append(conds, "id = "+arg(filter.ID))
	}
	if filter.Username != "" {
		conds = append(conds, "username = "+arg(filter.Username))
	}
	if filter.Email != "" {
		conds = append(conds, "email = "+arg(filter.Email))
	}
	if len(filter.UsernameOrEmail) == 2 {
		conds = append(conds, fmt.Sprintf(
			"(username = %s OR email = %s)", arg(filter.UsernameOrEmail[0]), arg(filter.UsernameOrEmail[1]),
		))
	}
	if len(conds) == 0 {
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	query := `SELECT * FROM "user" WHERE ` + strings.Join(conds, " OR ") + " LIMIT 1"
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.unpack(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	conds := []string{"TRUE"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE %s OR username ILIKE %s OR email ILIKE %s)", p, p, p))
	}
	if len(filter.Roles) > 0 {
		conds = append(conds, fmt.Sprintf("roles && %s", arg(pq.StringArray(filter.Roles))))
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
	}

	query := `SELECT * FROM "user" WHERE ` + strings.Join(conds, " AND ")
	if ordering := orderBy(orderings); ordering != "" {
		query += " ORDER BY " + ordering
	}

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.unpack())
	}
	return users, nil
}

// userOrderFields are the columns exposed for ordering.
var userOrderFields = map[string]bool{
	"name":       true,
	"username":   true,
	"email":      true,
	"created_at": true,
	"updated_at": true,
	"last_login": true,
}

func orderBy(orderings []core.DBOrdering) string {
	var parts []string
	for _, ord := range orderings {
		if userOrderFields[ord.Field] {
			parts = append(parts, ord.String())
		}
	}
	return strings.Join(parts, ", ")
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	sets := []string{"updated_at = :updated_at"}
	row := pack(usr)
	if !row.UpdatedAt.Valid {
		row.UpdatedAt = null.TimeFrom(usr.UpdatedAt)
	}
	if row.Name.Valid {
		sets = append(sets, "name = :name")
	}
	if row.Username.Valid {
		sets = append(sets, "username = :username")
	}
	if row.Email.Valid {
		sets = append(sets, "email = :email")
	}
	if usr.Roles != nil {
		sets = append(sets, "roles = :roles")
	}
	if len(usr.PasswordHash) > 0 {
		sets = append(sets, "password_hash = :password_hash")
	}
	if !usr.LastLogin.IsZero() {
		sets = append(sets, "last_login = :last_login")
	}
	if isActive != nil {
		row.IsActive = null.BoolFromPtr(isActive)
		sets = append(sets, "is_active = :is_active")
	}

	query := `UPDATE "user" SET ` + strings.Join(sets, ", ") + " WHERE id = :id"
	res, err := repo.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr)
	}
	updated, err := repo.UpdateUser(ctx, usr, usr.IsActive)
	if errors.Cause(err) == user.ErrNotFound {
		return repo.CreateUser(ctx, usr)
	}
	return updated, err
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id = ANY($1)`, pq.StringArray(ids))
	return errors.Wrap(err, "deleting users")
}
