package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock setup failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresRepository(db), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newRepository(t)

	mock.ExpectExec(createQuery).
		WithArgs("u1", "alice", "alice@example.com", "$argon2id$hash", []byte(`["user"]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &User{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$hash",
		Roles:        []string{"user"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo, mock := newRepository(t)

	mock.ExpectExec(createQuery).
		WithArgs("u1", "alice", "alice@example.com", "h", []byte(`["user"]`), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := repo.Create(context.Background(), &User{
		ID: "u1", Username: "alice", Email: "alice@example.com",
		PasswordHash: "h", Roles: []string{"user"},
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetByEmail(t *testing.T) {
	repo, mock := newRepository(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(getByEmailQuery).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.
			NewRows([]string{"id", "username", "email", "password_hash", "roles", "created_at"}).
			AddRow("u1", "alice", "alice@example.com", "h", []byte(`["user","admin"]`), created))

	u, err := repo.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("get by email failed: %v", err)
	}
	if u.ID != "u1" || len(u.Roles) != 2 || u.Roles[1] != "admin" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newRepository(t)

	mock.ExpectQuery(getByIDQuery).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "roles", "created_at"}))

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
