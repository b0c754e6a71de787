package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	// user timezones are validated on hosts without a zoneinfo db too
	_ "time/tzdata"

	"github.com/2beens/repcount/internal/telemetry/tracing"
	"github.com/2beens/repcount/pkg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username taken")
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"createdAt"`
}

//go:generate mockgen -source=$GOFILE -destination=users_mocks_test.go -package=auth
type UserStore interface {
	Init(ctx context.Context) error
	Add(ctx context.Context, user User) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int) (*User, error)
	List(ctx context.Context) ([]User, error)
}

var (
	_ UserStore = (*UsersRepo)(nil)
	_ UserStore = (*MemoryUsers)(nil)
)

type UsersRepo struct {
	db *pgxpool.Pool
}

func NewUsersRepo(db *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{db: db}
}

func (r *UsersRepo) Init(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.init")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS repcount_user (
			id            SERIAL PRIMARY KEY,
			username      TEXT        NOT NULL UNIQUE,
			password_hash TEXT        NOT NULL,
			timezone      TEXT        NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (r *UsersRepo) Add(ctx context.Context, user User) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("username", user.Username))

	err = r.db.QueryRow(ctx, `
		INSERT INTO repcount_user (username, password_hash, timezone, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`,
		user.Username,
		user.PasswordHash,
		user.Timezone,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

func (r *UsersRepo) GetByUsername(ctx context.Context, username string) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.getbyusername")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return r.getOne(ctx, `
		SELECT id, username, password_hash, timezone, created_at
		FROM repcount_user
		WHERE username = $1
	`, username)
}

func (r *UsersRepo) GetByID(ctx context.Context, id int) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.getbyid")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return r.getOne(ctx, `
		SELECT id, username, password_hash, timezone, created_at
		FROM repcount_user
		WHERE id = $1
	`, id)
}

func (r *UsersRepo) getOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := r.db.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Timezone, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *UsersRepo) List(ctx context.Context) (_ []User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.users.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT id, username, password_hash, timezone, created_at
		FROM repcount_user
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Timezone, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MemoryUsers is the in-process user store used with memory storage.
type MemoryUsers struct {
	mu     sync.RWMutex
	byID   map[int]User
	nextID int
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: make(map[int]User)}
}

func (m *MemoryUsers) Init(_ context.Context) error {
	return nil
}

func (m *MemoryUsers) Add(_ context.Context, user User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == user.Username {
			return nil, ErrUsernameTaken
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.byID[user.ID] = user
	return &user, nil
}

func (m *MemoryUsers) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.byID {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryUsers) GetByID(_ context.Context, id int) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryUsers) List(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users, nil
}

var hashCost = pkg.DefaultHashCost

// NewUser validates the timezone and hashes the password.
func NewUser(username, password, timezone string, createdAt time.Time) (User, error) {
	if username == "" || password == "" {
		return User{}, errors.New("username and password required")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return User{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	hash, err := pkg.HashPasswordWithCost(password, hashCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return User{
		Username:     username,
		PasswordHash: hash,
		Timezone:     timezone,
		CreatedAt:    createdAt,
	}, nil
}
