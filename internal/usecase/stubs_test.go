package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/infra/security"
	"github.com/arklim/identity-link-service/internal/repository"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHasher(t *testing.T) *security.Argon2Hasher {
	t.Helper()
	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("failed to build hasher: %v", err)
	}
	return hasher
}

type memUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User

	failedCountUpdates int
	createErr          error
	// afterLookup runs once, outside the lock, after the next identifier lookup.
	afterLookup func()
}

func newMemUserRepository() *memUserRepository {
	return &memUserRepository{users: make(map[string]domain.User)}
}

func (r *memUserRepository) put(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *memUserRepository) get(id string) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *memUserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.users {
		if existing.NormalizedUsername == user.NormalizedUsername {
			return &repository.ConflictError{Constraint: repository.ConstraintUsersNormalizedUsername, Err: errors.New("duplicate")}
		}
		if existing.NormalizedEmail == user.NormalizedEmail {
			return &repository.ConflictError{Constraint: repository.ConstraintUsersNormalizedEmail, Err: errors.New("duplicate")}
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *memUserRepository) GetByNormalizedIdentifier(_ context.Context, normalized string) (*domain.User, error) {
	found, err := r.findByIdentifier(normalized)
	if hook := r.afterLookup; hook != nil {
		r.afterLookup = nil
		hook()
	}
	return found, err
}

func (r *memUserRepository) findByIdentifier(normalized string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.NormalizedUsername == normalized || user.NormalizedEmail == normalized {
			found := user
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepository) GetByNormalizedEmail(_ context.Context, normalizedEmail string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.NormalizedEmail == normalizedEmail {
			found := user
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepository) ExistsByNormalizedUsername(_ context.Context, normalized string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.NormalizedUsername == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepository) ExistsByNormalizedEmail(_ context.Context, normalized string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.NormalizedEmail == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepository) UpdateAccessFailedCount(_ context.Context, id string, count int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.failedCountUpdates++
	user.AccessFailedCount = count
	user.UpdatedAt = at
	r.users[id] = user
	return nil
}

func (r *memUserRepository) IncrementAccessFailedCount(_ context.Context, id string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	user.AccessFailedCount++
	user.UpdatedAt = at
	r.users[id] = user
	return user.AccessFailedCount, nil
}

func (r *memUserRepository) SetPasswordResetToken(_ context.Context, id string, token *string, expiresAt *time.Time, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordResetToken = token
	user.PasswordResetTokenExpiresAt = expiresAt
	user.UpdatedAt = at
	r.users[id] = user
	return nil
}

func (r *memUserRepository) UpdatePassword(_ context.Context, id string, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = &passwordHash
	user.AccessFailedCount = 0
	user.IsLocked = false
	user.PasswordResetToken = nil
	user.PasswordResetTokenExpiresAt = nil
	user.UpdatedAt = at
	r.users[id] = user
	return nil
}

type memSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session

	// beforeRotate runs once, outside the lock, ahead of the next Rotate.
	beforeRotate func()
}

func newMemSessionRepository() *memSessionRepository {
	return &memSessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *memSessionRepository) all() []domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *memSessionRepository) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.RefreshTokenHash == session.RefreshTokenHash {
			return &repository.ConflictError{Constraint: repository.ConstraintSessionsRefreshTokenHash, Err: errors.New("duplicate")}
		}
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *memSessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.RefreshTokenHash == tokenHash {
			found := session
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memSessionRepository) Rotate(_ context.Context, session domain.Session, previousHash string) error {
	if hook := r.beforeRotate; hook != nil {
		r.beforeRotate = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[session.ID]
	if !ok || current.RefreshTokenHash != previousHash || current.IsRevoked {
		return repository.ErrNotFound
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *memSessionRepository) Revoke(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.Revoke(at)
	r.sessions[sessionID] = session
	return nil
}

func (r *memSessionRepository) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, session := range r.sessions {
		if session.UserID != userID || session.IsRevoked {
			continue
		}
		session.Revoke(at)
		r.sessions[id] = session
		count++
	}
	return count, nil
}

type memAttemptRepository struct {
	mu       sync.Mutex
	attempts []domain.LoginAttempt
}

func (r *memAttemptRepository) Record(_ context.Context, attempt domain.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *memAttemptRepository) failed() []domain.LoginAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LoginAttempt
	for _, a := range r.attempts {
		if !a.IsSuccessful {
			out = append(out, a)
		}
	}
	return out
}

type stubRoleRepository struct {
	direct      []domain.Role
	groups      []domain.Role
	permissions map[string][]domain.Permission

	requestedRoleIDs []string
}

func (r *stubRoleRepository) ListDirectRoles(context.Context, string) ([]domain.Role, error) {
	return r.direct, nil
}

func (r *stubRoleRepository) ListGroupRoles(context.Context, string) ([]domain.Role, error) {
	return r.groups, nil
}

func (r *stubRoleRepository) ListPermissionsForRoles(_ context.Context, roleIDs []string) ([]domain.Permission, error) {
	r.requestedRoleIDs = append([]string(nil), roleIDs...)
	var out []domain.Permission
	for _, id := range roleIDs {
		out = append(out, r.permissions[id]...)
	}
	return out, nil
}

type identityKey struct {
	userID   string
	provider string
}

type memIdentityRepository struct {
	mu         sync.Mutex
	identities map[identityKey]domain.ExternalIdentity

	// beforeCreate runs once, outside the lock, ahead of the next Create.
	beforeCreate func()
}

func newMemIdentityRepository() *memIdentityRepository {
	return &memIdentityRepository{identities: make(map[identityKey]domain.ExternalIdentity)}
}

func (r *memIdentityRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities)
}

func (r *memIdentityRepository) GetByProviderSubject(_ context.Context, provider domain.ExternalProvider, subject domain.ExternalSubjectID) (*domain.ExternalIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.identities {
		if identity.Provider == provider && identity.SubjectID == subject {
			found := identity
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memIdentityRepository) GetByUserProvider(_ context.Context, userID string, provider domain.ExternalProvider) (*domain.ExternalIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[identityKey{userID, provider.String()}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &identity, nil
}

func (r *memIdentityRepository) ListByUser(_ context.Context, userID string) ([]domain.ExternalIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExternalIdentity
	for key, identity := range r.identities {
		if key.userID == userID {
			out = append(out, identity)
		}
	}
	return out, nil
}

func (r *memIdentityRepository) Create(_ context.Context, identity domain.ExternalIdentity) error {
	if hook := r.beforeCreate; hook != nil {
		r.beforeCreate = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, existing := range r.identities {
		if existing.Provider == identity.Provider && existing.SubjectID == identity.SubjectID {
			return &repository.ConflictError{Constraint: repository.ConstraintExternalIdentityProviderSubject, Err: errors.New("duplicate")}
		}
		if key == (identityKey{identity.UserID, identity.Provider.String()}) {
			return &repository.ConflictError{Constraint: repository.ConstraintExternalIdentityUserProvider, Err: errors.New("duplicate")}
		}
	}
	r.identities[identityKey{identity.UserID, identity.Provider.String()}] = identity
	return nil
}

func (r *memIdentityRepository) Update(_ context.Context, identity domain.ExternalIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identityKey{identity.UserID, identity.Provider.String()}
	if _, ok := r.identities[key]; !ok {
		return repository.ErrNotFound
	}
	r.identities[key] = identity
	return nil
}

func (r *memIdentityRepository) Delete(_ context.Context, userID string, provider domain.ExternalProvider) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identityKey{userID, provider.String()}
	if _, ok := r.identities[key]; !ok {
		return false, nil
	}
	delete(r.identities, key)
	return true, nil
}

type memTokenRepository struct {
	mu     sync.Mutex
	tokens map[identityKey]domain.ExternalToken
}

func newMemTokenRepository() *memTokenRepository {
	return &memTokenRepository{tokens: make(map[identityKey]domain.ExternalToken)}
}

func (r *memTokenRepository) get(userID, provider string) (domain.ExternalToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[identityKey{userID, provider}]
	return token, ok
}

func (r *memTokenRepository) GetByUserProvider(_ context.Context, userID string, provider domain.ExternalProvider) (*domain.ExternalToken, error) {
	token, ok := r.get(userID, provider.String())
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &token, nil
}

func (r *memTokenRepository) Upsert(_ context.Context, token domain.ExternalToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[identityKey{token.UserID, token.Provider.String()}] = token
	return nil
}

func (r *memTokenRepository) Delete(_ context.Context, userID string, provider domain.ExternalProvider) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identityKey{userID, provider.String()}
	if _, ok := r.tokens[key]; !ok {
		return false, nil
	}
	delete(r.tokens, key)
	return true, nil
}

type stubOAuthClient struct {
	tokens      *domain.ProviderTokens
	profile     *domain.ProviderProfile
	exchangeErr error
	profileErr  error

	exchangeCalls int
	lastCode      string
}

func (c *stubOAuthClient) AuthorizationURL(provider domain.ExternalProvider, state string) (string, error) {
	return "https://accounts.example.com/" + provider.String() + "/authorize?state=" + state, nil
}

func (c *stubOAuthClient) ExchangeCode(_ context.Context, _ domain.ExternalProvider, code string) (*domain.ProviderTokens, error) {
	c.exchangeCalls++
	c.lastCode = code
	if c.exchangeErr != nil {
		return nil, c.exchangeErr
	}
	copy := *c.tokens
	return &copy, nil
}

func (c *stubOAuthClient) RefreshAccessToken(context.Context, domain.ExternalProvider, string) (*domain.ProviderTokens, error) {
	return nil, errors.New("unexpected call: RefreshAccessToken")
}

func (c *stubOAuthClient) FetchProfile(context.Context, domain.ExternalProvider, string) (*domain.ProviderProfile, error) {
	if c.profileErr != nil {
		return nil, c.profileErr
	}
	copy := *c.profile
	return &copy, nil
}

type recordingPublisher struct {
	mu          sync.Mutex
	registered  []domain.UserRegisteredEvent
	changed     []domain.PasswordChangedEvent
	loginFailed []domain.LoginFailedEvent
	linked      []domain.ExternalAccountLinkedEvent
	unlinked    []domain.ExternalAccountUnlinkedEvent
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *recordingPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginFailed = append(p.loginFailed, event)
	return nil
}

func (p *recordingPublisher) PublishExternalAccountLinked(_ context.Context, event domain.ExternalAccountLinkedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linked = append(p.linked, event)
	return nil
}

func (p *recordingPublisher) PublishExternalAccountUnlinked(_ context.Context, event domain.ExternalAccountUnlinkedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlinked = append(p.unlinked, event)
	return nil
}

type countingMetrics struct {
	noopMetrics
	loginFailures map[string]int
	linkOutcomes  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{loginFailures: map[string]int{}, linkOutcomes: map[string]int{}}
}

func (m *countingMetrics) LoginFailed(reason string) {
	m.loginFailures[reason]++
}

func (m *countingMetrics) LinkCompleted(provider, outcome string) {
	m.linkOutcomes[provider+":"+outcome]++
}

type memReplayGuard struct {
	seen map[string]bool
}

func (g *memReplayGuard) Consume(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[nonce] {
		return false, nil
	}
	g.seen[nonce] = true
	return true, nil
}
