package rbac

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

// UsersCollection holds back-office operators.
const UsersCollection = "users"

// ErrInvalidKey indicates an unknown or mismatching API key.
var ErrInvalidKey = fmt.Errorf("rbac: invalid api key: %w", shared.ErrPermissionDenied)

// User is the stored operator record.
type User struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name"`
	Role       string                    `json:"role"`
	Menus      map[string]MenuPermission `json:"menus"`
	APIKeyHash string                    `json:"api_key_hash,omitempty"`
}

// Principal converts the stored user into the acting principal.
func (u User) Principal() Principal {
	return Principal{UserID: u.ID, Name: u.Name, Role: u.Role, Menus: u.Menus}
}

// Service manages operators and resolves API keys to principals.
type Service struct {
	store store.Store
	cost  int
}

// NewService constructs a Service backed by the record store.
func NewService(s store.Store) *Service {
	return &Service{store: s, cost: bcrypt.DefaultCost}
}

// CreateUser stores a new operator. Only admins may create users.
func (s *Service) CreateUser(ctx context.Context, name, role string, menus map[string]MenuPermission) (User, error) {
	if err := requireAdmin(ctx); err != nil {
		return User{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, shared.Invalid("name", "is required")
	}
	user := User{ID: uuid.NewString(), Name: name, Role: strings.ToLower(strings.TrimSpace(role)), Menus: menus}
	if err := s.save(ctx, user, store.AnyVersion); err != nil {
		return User{}, err
	}
	return user, nil
}

// SetMenus replaces the menu permissions of a user.
func (s *Service) SetMenus(ctx context.Context, userID string, menus map[string]MenuPermission) (User, error) {
	if err := requireAdmin(ctx); err != nil {
		return User{}, err
	}
	user, version, err := s.load(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.Menus = menus
	if err := s.save(ctx, user, version); err != nil {
		return User{}, err
	}
	return user, nil
}

// IssueAPIKey rotates the user's key and returns the plaintext token once.
func (s *Service) IssueAPIKey(ctx context.Context, userID string) (string, error) {
	if err := requireAdmin(ctx); err != nil {
		return "", err
	}
	user, version, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	secret, err := randomSecret()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("rbac: hash key: %w", err)
	}
	user.APIKeyHash = string(hash)
	if err := s.save(ctx, user, version); err != nil {
		return "", err
	}
	return user.ID + "." + secret, nil
}

// Authenticate resolves a "<userID>.<secret>" token.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	userID, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || userID == "" || secret == "" {
		return Principal{}, ErrInvalidKey
	}
	user, _, err := s.load(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Principal{}, ErrInvalidKey
		}
		return Principal{}, err
	}
	if user.APIKeyHash == "" {
		return Principal{}, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.APIKeyHash), []byte(secret)); err != nil {
		return Principal{}, ErrInvalidKey
	}
	return user.Principal(), nil
}

// Bootstrap ensures an admin exists and returns it. Used by the CLI on an
// empty store.
func (s *Service) Bootstrap(ctx context.Context, name string) (User, error) {
	docs, err := s.store.Query(ctx, UsersCollection, store.Query{Match: map[string]any{"role": RoleAdmin}, Limit: 1})
	if err != nil {
		return User{}, err
	}
	if len(docs) > 0 {
		var user User
		if err := docs[0].Decode(&user); err != nil {
			return User{}, err
		}
		return user, nil
	}
	admin := ContextWithPrincipal(ctx, Principal{Name: "bootstrap", Role: RoleAdmin})
	return s.CreateUser(admin, name, RoleAdmin, nil)
}

func (s *Service) load(ctx context.Context, userID string) (User, int64, error) {
	doc, err := s.store.Get(ctx, UsersCollection, userID)
	if err != nil {
		return User{}, 0, err
	}
	var user User
	if err := doc.Decode(&user); err != nil {
		return User{}, 0, err
	}
	return user, doc.Version, nil
}

func (s *Service) save(ctx context.Context, user User, version int64) error {
	doc := store.NewDocument(user.ID)
	if err := doc.Encode(user); err != nil {
		return err
	}
	_, err := s.store.Put(ctx, UsersCollection, doc, version)
	return err
}

func requireAdmin(ctx context.Context) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok || !p.IsAdmin() {
		return fmt.Errorf("rbac: admin required: %w", shared.ErrPermissionDenied)
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rbac: generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
