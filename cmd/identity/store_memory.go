package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"motionhub/cmd/identity/ids"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	byEmail  map[string]string // email -> id
	tokens   map[string]string // token hash -> account id
	tokenFor map[string]string // account id -> token hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Account),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]string),
		tokenFor: make(map[string]string),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	in, err := prepareCreate(op, in)
	if err != nil {
		return Account{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[in.Email]; ok {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}
	a := &Account{
		ID:              id,
		Email:           in.Email,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		ThemePreference: ThemeSystem,
		IsActive:        true,
		PasswordHash:    in.PasswordHash,
		CreatedAt:       in.Now,
		UpdatedAt:       in.Now,
	}
	s.byID[id] = a
	s.byEmail[in.Email] = id
	return *a, nil
}

func (s *MemoryStore) AccountByID(ctx context.Context, id string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Account{}, notFound("identity.AccountByID")
	}
	return *a, nil
}

func (s *MemoryStore) AccountByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, notFound("identity.AccountByEmail")
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, p ProfilePatch, now time.Time) (Account, error) {
	const op = "identity.UpdateProfile"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return Account{}, notFound(op)
	}
	next := *a
	if err := applyPatch(op, &next, p); err != nil {
		return Account{}, err
	}
	next.UpdatedAt = now
	*a = next
	return next, nil
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return s.mutate(ctx, "identity.SetPasswordHash", id, now, func(a *Account) { a.PasswordHash = hash })
}

func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.mutate(ctx, "identity.SetActive", id, now, func(a *Account) { a.IsActive = active })
}

func (s *MemoryStore) mutate(ctx context.Context, op, id string, now time.Time, fn func(*Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	fn(a)
	a.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetAPIToken(ctx context.Context, accountID, tokenHash string, _ time.Time) error {
	const op = "identity.SetAPIToken"
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(tokenHash) == "" {
		return invalid(op, "empty token hash")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[accountID]; !ok {
		return notFound(op)
	}
	if owner, ok := s.tokens[tokenHash]; ok && owner != accountID {
		return ConflictError{Op: op, Field: "api_token"}
	}
	if old, ok := s.tokenFor[accountID]; ok {
		delete(s.tokens, old)
	}
	s.tokens[tokenHash] = accountID
	s.tokenFor[accountID] = tokenHash
	return nil
}

func (s *MemoryStore) RevokeAPIToken(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tokenFor[accountID]; ok {
		delete(s.tokens, old)
		delete(s.tokenFor, accountID)
	}
	return nil
}

func (s *MemoryStore) AccountByAPIToken(ctx context.Context, tokenHash string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[tokenHash]
	if !ok {
		return Account{}, notFound("identity.AccountByAPIToken")
	}
	return *s.byID[id], nil
}
