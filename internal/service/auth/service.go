package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/token"
)

const (
	PasswordMinLength = 8
	PasswordMaxLength = 128
	// MinBcryptCost is the lowest accepted hashing cost.
	MinBcryptCost = 12
)

const invalidCredentials = "invalid email or password"

// Repo is the read side the lifecycle needs.
type Repo interface {
	GetUser(ctx context.Context, id uuid.UUID) (ledger.User, error)
	GetUserByEmail(ctx context.Context, email string) (ledger.User, error)
	GetSession(ctx context.Context, token string) (ledger.Session, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// Writer applies atomic units.
type Writer interface {
	Apply(ctx context.Context, ops ...ledger.Op) error
}

// Config carries the signing keys and lifetimes. Both secrets are required
// and must differ.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
	Issuer        string
}

// Validate reports the first configuration problem.
func (c Config) Validate() error {
	switch {
	case c.AccessSecret == "" || c.RefreshSecret == "":
		return errors.New("access and refresh token secrets are required")
	case c.AccessSecret == c.RefreshSecret:
		return errors.New("access and refresh token secrets must differ")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return errors.New("token lifetimes must be positive")
	case c.BcryptCost < MinBcryptCost || c.BcryptCost > bcrypt.MaxCost:
		return fmt.Errorf("bcrypt cost must be between %d and %d", MinBcryptCost, bcrypt.MaxCost)
	}
	return nil
}

// Pair is an access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Result is returned by register and login.
type Result struct {
	User   ledger.User
	Tokens Pair
}

// RegisterInput holds the registration payload.
type RegisterInput struct {
	Email    string
	Password string
	Name     *string
}

// Service is the session/token lifecycle.
type Service interface {
	Register(ctx context.Context, in RegisterInput) (Result, error)
	Login(ctx context.Context, email, password string) (Result, error)
	VerifyAccessToken(tok string) (token.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (Pair, error)
	Logout(ctx context.Context, refreshToken string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) (Pair, error)
	Me(ctx context.Context, userID uuid.UUID) (ledger.User, ledger.Balance, error)
	PurgeExpired(ctx context.Context) (int, error)
}

type service struct {
	repo    Repo
	writer  Writer
	access  *token.Signer
	refresh *token.Signer
	cost    int
	// dummyHash is compared against when the email is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
	now       func() time.Time
	pub       events.Publisher
}

// Option customises a Service.
type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option { return func(s *service) { s.pub = p } }

// New builds the lifecycle. It fails if cfg is invalid.
func New(repo Repo, writer Writer, cfg Config, opts ...Option) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	access, err := token.NewSigner(token.Access, []byte(cfg.AccessSecret), cfg.AccessTTL, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	refresh, err := token.NewSigner(token.Refresh, []byte(cfg.RefreshSecret), cfg.RefreshTTL, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("fintrack-timing-equaliser"), cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	s := &service{
		repo:      repo,
		writer:    writer,
		access:    access,
		refresh:   refresh,
		cost:      cfg.BcryptCost,
		dummyHash: dummy,
		now:       time.Now,
		pub:       events.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func validateEmail(email string) error {
	if email == "" {
		return errs.Invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return errs.Invalid("invalid email address")
	}
	return nil
}

func validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < PasswordMinLength {
		return errs.Invalid("password must be at least %d characters", PasswordMinLength)
	}
	if n > PasswordMaxLength {
		return errs.Invalid("password must be at most %d characters", PasswordMaxLength)
	}
	return nil
}

func (s *service) Register(ctx context.Context, in RegisterInput) (Result, error) {
	email := NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return Result{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return Result{}, err
	}
	var name *string
	if in.Name != nil {
		if n := strings.TrimSpace(*in.Name); n != "" {
			if utf8.RuneCountInString(n) > 100 {
				return Result{}, errs.Invalid("name must be at most 100 characters")
			}
			name = &n
		}
	}
	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return Result{}, errs.Conflict("user already exists")
	} else if !errors.Is(err, errs.ErrNotFound) {
		return Result{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	user := ledger.User{ID: uuid.New(), Email: email, Name: name, PasswordHash: string(hash), CreatedAt: now, UpdatedAt: now}
	pair, session, err := s.issue(user, now)
	if err != nil {
		return Result{}, err
	}
	err = s.writer.Apply(ctx,
		ledger.CreateUser{User: user},
		ledger.CreateBalance{UserID: user.ID, At: now},
		ledger.CreateSession{Session: session},
	)
	if errors.Is(err, errs.ErrConflict) {
		return Result{}, errs.Conflict("user already exists")
	}
	if err != nil {
		return Result{}, err
	}
	ev := events.New(events.UserRegistered, user.ID, user.ID, now)
	s.pub.Publish(ctx, ev)
	return Result{User: user, Tokens: pair}, nil
}

func (s *service) Login(ctx context.Context, email, password string) (Result, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Result{}, errs.Invalid("email and password are required")
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return Result{}, errs.Unauthenticated(invalidCredentials)
	}
	if err != nil {
		return Result{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Result{}, errs.Unauthenticated(invalidCredentials)
	}
	now := s.now().UTC()
	pair, session, err := s.issue(user, now)
	if err != nil {
		return Result{}, err
	}
	if err := s.writer.Apply(ctx, ledger.CreateSession{Session: session}); err != nil {
		return Result{}, err
	}
	return Result{User: user, Tokens: pair}, nil
}

func (s *service) VerifyAccessToken(tok string) (token.Identity, error) {
	id, err := s.access.Verify(tok, s.now())
	if err != nil {
		return token.Identity{}, errs.Unauthenticated("invalid or expired token")
	}
	return id, nil
}

func (s *service) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	if refreshToken == "" {
		return Pair{}, errs.Invalid("refresh token is required")
	}
	session, err := s.repo.GetSession(ctx, refreshToken)
	if errors.Is(err, errs.ErrNotFound) {
		return Pair{}, errs.Unauthenticated("invalid refresh token")
	}
	if err != nil {
		return Pair{}, err
	}
	now := s.now().UTC()
	if session.Expired(now) {
		if err := s.writer.Apply(ctx, ledger.DeleteSession{Token: refreshToken}); err != nil {
			return Pair{}, err
		}
		return Pair{}, errs.Unauthenticated("refresh token expired")
	}
	id, err := s.refresh.Verify(refreshToken, now)
	if err != nil || id.UserID != session.UserID {
		if err := s.writer.Apply(ctx, ledger.DeleteSession{Token: refreshToken}); err != nil {
			return Pair{}, err
		}
		return Pair{}, errs.Unauthenticated("invalid refresh token")
	}
	user, err := s.repo.GetUser(ctx, session.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		return Pair{}, errs.Unauthenticated("invalid refresh token")
	}
	if err != nil {
		return Pair{}, err
	}
	pair, next, err := s.issue(user, now)
	if err != nil {
		return Pair{}, err
	}
	err = s.writer.Apply(ctx, ledger.RotateSession{UserID: user.ID, OldToken: refreshToken, Next: next})
	if errors.Is(err, errs.ErrNotFound) {
		// Another request rotated this token first.
		return Pair{}, errs.Unauthenticated("invalid refresh token")
	}
	if err != nil {
		return Pair{}, err
	}
	return pair, nil
}

func (s *service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return errs.Invalid("refresh token is required")
	}
	return s.writer.Apply(ctx, ledger.DeleteSession{Token: refreshToken})
}

func (s *service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) (Pair, error) {
	if err := validatePassword(next); err != nil {
		return Pair{}, err
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Pair{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return Pair{}, errs.Unauthenticated("current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return Pair{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	pair, session, err := s.issue(user, now)
	if err != nil {
		return Pair{}, err
	}
	err = s.writer.Apply(ctx,
		ledger.UpdatePassword{UserID: user.ID, PasswordHash: string(hash), At: now},
		ledger.DeleteUserSessions{UserID: user.ID},
		ledger.CreateSession{Session: session},
	)
	if err != nil {
		return Pair{}, err
	}
	s.pub.Publish(ctx, events.New(events.PasswordChanged, user.ID, user.ID, now))
	return pair, nil
}

func (s *service) Me(ctx context.Context, userID uuid.UUID) (ledger.User, ledger.Balance, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return ledger.User{}, ledger.Balance{}, err
	}
	bal, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return ledger.User{}, ledger.Balance{}, err
	}
	return user, bal, nil
}

func (s *service) PurgeExpired(ctx context.Context) (int, error) {
	return s.repo.PurgeExpiredSessions(ctx, s.now().UTC())
}

// issue mints a token pair and the session row backing its refresh token.
func (s *service) issue(user ledger.User, now time.Time) (Pair, ledger.Session, error) {
	id := token.Identity{UserID: user.ID, Email: user.Email}
	at, atExp, err := s.access.Sign(id, now)
	if err != nil {
		return Pair{}, ledger.Session{}, fmt.Errorf("sign access token: %w", err)
	}
	rt, rtExp, err := s.refresh.Sign(id, now)
	if err != nil {
		return Pair{}, ledger.Session{}, fmt.Errorf("sign refresh token: %w", err)
	}
	pair := Pair{AccessToken: at, RefreshToken: rt, AccessExpiresAt: atExp, RefreshExpiresAt: rtExp}
	session := ledger.Session{ID: uuid.New(), UserID: user.ID, Token: rt, ExpiresAt: rtExp, CreatedAt: now}
	return pair, session, nil
}
