package repositories

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/models"
)

// In-memory implementations of the repository interfaces. The challenge
// registry may run on these in production (single-instance deployments);
// the rest exist so services and controllers can be exercised without a
// database. Semantics mirror the Postgres implementations, including the
// guarded check-and-set behavior of Satisfy, MarkConsumed and
// UpdateIfVersion.

// ---------------------------------------------------------------------
// Challenges
// ---------------------------------------------------------------------

type memoryChallengeRepo struct {
	mu      sync.Mutex
	entries map[string]*models.PendingChallenge
}

func NewMemoryChallengeRepository() ChallengeRepository {
	return &memoryChallengeRepo{entries: make(map[string]*models.PendingChallenge)}
}

func (r *memoryChallengeRepo) Create(_ context.Context, c *models.PendingChallenge) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[c.ExchangeID]; exists {
		return false, nil
	}
	cp := *c
	r.entries[c.ExchangeID] = &cp
	return true, nil
}

func (r *memoryChallengeRepo) Get(_ context.Context, exchangeID string) (*models.PendingChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[exchangeID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memoryChallengeRepo) Satisfy(_ context.Context, exchangeID string, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[exchangeID]
	if !ok || c.Consumed || c.SatisfiedBy != nil || c.IsExpired(time.Now()) {
		return false, nil
	}
	id := userID
	c.SatisfiedBy = &id
	return true, nil
}

func (r *memoryChallengeRepo) MarkConsumed(_ context.Context, exchangeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[exchangeID]
	if !ok || c.Consumed || c.SatisfiedBy == nil || c.IsExpired(time.Now()) {
		return false, nil
	}
	c.Consumed = true
	return true, nil
}

func (r *memoryChallengeRepo) CleanupExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, c := range r.entries {
		if c.IsExpired(now) {
			delete(r.entries, id)
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------

type memoryUserRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.User
	byEmail map[string]uuid.UUID
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepo{
		byID:    make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *memoryUserRepo) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(u)
}

func (r *memoryUserRepo) createLocked(u *models.User) error {
	if _, exists := r.byEmail[u.Email]; exists {
		return errors.New("duplicate key value violates unique constraint \"users_email_key\"")
	}
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepo) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

// ---------------------------------------------------------------------
// Registration sessions
// ---------------------------------------------------------------------

type memoryRegistrationRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.RegistrationSession
	users    UserRepository
}

// NewMemoryRegistrationRepository takes the user repository so Promote can
// create the user and destroy the session under one lock.
func NewMemoryRegistrationRepository(users UserRepository) RegistrationRepository {
	return &memoryRegistrationRepo{
		sessions: make(map[uuid.UUID]*models.RegistrationSession),
		users:    users,
	}
}

func (r *memoryRegistrationRepo) Create(_ context.Context, s *models.RegistrationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return errors.New("registration session already exists")
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memoryRegistrationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RegistrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memoryRegistrationRepo) GetByPaymentReference(_ context.Context, ref string) (*models.RegistrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.PaymentReference == ref && ref != "" {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryRegistrationRepo) UpdateIfVersion(_ context.Context, s *models.RegistrationSession, expected int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok || cur.RowVersion != expected {
		return false, nil
	}
	cp := *s
	cp.RowVersion = expected + 1
	r.sessions[s.ID] = &cp
	s.RowVersion = cp.RowVersion
	return true, nil
}

func (r *memoryRegistrationRepo) Promote(ctx context.Context, s *models.RegistrationSession, u *models.User, expected int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok || cur.RowVersion != expected {
		return false, nil
	}
	if mu, isMem := r.users.(*memoryUserRepo); isMem {
		mu.mu.Lock()
		err := mu.createLocked(u)
		mu.mu.Unlock()
		if err != nil {
			return false, err
		}
	} else {
		if err := r.users.Create(ctx, u); err != nil {
			return false, err
		}
	}
	delete(r.sessions, s.ID)
	return true, nil
}

func (r *memoryRegistrationRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memoryRegistrationRepo) CleanupExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, id)
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Login attempts
// ---------------------------------------------------------------------

type memoryLoginAttempts struct {
	count       int
	lockedUntil *time.Time
	updatedAt   time.Time
}

type memoryLoginAttemptsRepo struct {
	mu      sync.Mutex
	entries map[string]*memoryLoginAttempts
}

func NewMemoryLoginAttemptsRepository() LoginAttemptsRepository {
	return &memoryLoginAttemptsRepo{entries: make(map[string]*memoryLoginAttempts)}
}

func (r *memoryLoginAttemptsRepo) Increment(
	_ context.Context,
	identity string,
	lockDuration, window time.Duration,
	maxAttempts int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	la, ok := r.entries[identity]
	if !ok {
		r.entries[identity] = &memoryLoginAttempts{count: 1, updatedAt: now}
		return nil
	}
	if la.lockedUntil != nil && la.lockedUntil.After(now) {
		return nil
	}
	if now.Sub(la.updatedAt) > window {
		la.count = 1
		la.lockedUntil = nil
	} else {
		la.count++
		if la.count >= maxAttempts {
			until := now.Add(lockDuration)
			la.lockedUntil = &until
		}
	}
	la.updatedAt = now
	return nil
}

func (r *memoryLoginAttemptsRepo) Reset(_ context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if la, ok := r.entries[identity]; ok {
		la.count = 0
		la.lockedUntil = nil
		la.updatedAt = time.Now()
	}
	return nil
}

func (r *memoryLoginAttemptsRepo) IsLocked(_ context.Context, identity string) (bool, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	la, ok := r.entries[identity]
	if !ok || la.lockedUntil == nil || !la.lockedUntil.After(time.Now()) {
		return false, time.Time{}, nil
	}
	return true, *la.lockedUntil, nil
}

func (r *memoryLoginAttemptsRepo) CleanupStale(_ context.Context, olderThan time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	now := time.Now()
	for id, la := range r.entries {
		locked := la.lockedUntil != nil && la.lockedUntil.After(now)
		if la.updatedAt.Before(cutoff) && !locked {
			delete(r.entries, id)
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Rate limit counters
// ---------------------------------------------------------------------

type memoryRateLimitEntry struct {
	count     int
	expiresAt time.Time
}

type memoryRateLimitRepo struct {
	mu      sync.Mutex
	entries map[string]*memoryRateLimitEntry
}

func NewMemoryRateLimitRepository() RateLimitRepository {
	return &memoryRateLimitRepo{entries: make(map[string]*memoryRateLimitEntry)}
}

func (r *memoryRateLimitRepo) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	e, ok := r.entries[key]
	if !ok || e.expiresAt.Before(now) {
		r.entries[key] = &memoryRateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return 1 <= limit, nil
	}
	e.count++
	return e.count <= limit, nil
}

func (r *memoryRateLimitRepo) CleanupExpired(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, e := range r.entries {
		if e.expiresAt.Before(now) {
			delete(r.entries, key)
		}
	}
	return nil
}
