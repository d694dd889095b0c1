package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"motionhub/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the accounts tables (default "motion").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// ValidSchemaName reports whether s is a plain Postgres identifier.
func ValidSchemaName(s string) bool { return pgIdentRe.MatchString(s) }

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "motion"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, email, first_name, last_name, theme_preference, is_verified, is_active, password_hash, created_at, updated_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"
	in, err := prepareCreate(op, in)
	if err != nil {
		return Account{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Account{}, err
	}

	var out Account
	err = pgxscan.Get(ctx, s.pool, &out,
		`INSERT INTO `+s.table("accounts")+` (
		     id, email, first_name, last_name, theme_preference, is_verified, is_active,
		     password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, 'system', false, true, $5, $6, $6)
		   RETURNING `+accountColumns,
		id, in.Email, in.FirstName, in.LastName, in.PasswordHash, in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) AccountByID(ctx context.Context, id string) (Account, error) {
	return s.getAccount(ctx, "identity.AccountByID",
		`SELECT `+accountColumns+` FROM `+s.table("accounts")+` WHERE id = $1`, strings.TrimSpace(id))
}

func (s *PostgresStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	return s.getAccount(ctx, "identity.AccountByEmail",
		`SELECT `+accountColumns+` FROM `+s.table("accounts")+` WHERE email = $1`, NormalizeEmail(email))
}

func (s *PostgresStore) AccountByAPIToken(ctx context.Context, tokenHash string) (Account, error) {
	return s.getAccount(ctx, "identity.AccountByAPIToken",
		`SELECT a.`+strings.ReplaceAll(accountColumns, ", ", ", a.")+`
		   FROM `+s.table("api_tokens")+` t
		   JOIN `+s.table("accounts")+` a ON a.id = t.account_id
		  WHERE t.token_hash = $1`, tokenHash)
}

func (s *PostgresStore) getAccount(ctx context.Context, op, query string, args ...any) (Account, error) {
	var out Account
	if err := pgxscan.Get(ctx, s.pool, &out, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Account{}, notFound(op)
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, p ProfilePatch, now time.Time) (Account, error) {
	const op = "identity.UpdateProfile"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur Account
	err = pgxscan.Get(ctx, tx, &cur,
		`SELECT `+accountColumns+` FROM `+s.table("accounts")+` WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Account{}, notFound(op)
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := applyPatch(op, &cur, p); err != nil {
		return Account{}, err
	}
	cur.UpdatedAt = now

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("accounts")+`
		    SET first_name = $2, last_name = $3, theme_preference = $4, updated_at = $5
		  WHERE id = $1`,
		id, cur.FirstName, cur.LastName, cur.ThemePreference, now,
	); err != nil {
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return cur, nil
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return s.execOne(ctx, "identity.SetPasswordHash",
		`UPDATE `+s.table("accounts")+` SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, now)
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.execOne(ctx, "identity.SetActive",
		`UPDATE `+s.table("accounts")+` SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, now)
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) SetAPIToken(ctx context.Context, accountID, tokenHash string, now time.Time) error {
	const op = "identity.SetAPIToken"
	if strings.TrimSpace(tokenHash) == "" {
		return invalid(op, "empty token hash")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("api_tokens")+` (account_id, token_hash, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id) DO UPDATE
		    SET token_hash = EXCLUDED.token_hash, created_at = EXCLUDED.created_at`,
		accountID, tokenHash, now,
	)
	switch {
	case err == nil:
		return nil
	case pgIsForeignKeyViolation(err):
		return notFound(op)
	default:
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *PostgresStore) RevokeAPIToken(ctx context.Context, accountID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("api_tokens")+` WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("identity.RevokeAPIToken: %w", err)
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "token"):
		return "api_token", true
	default:
		return "unique", true
	}
}
