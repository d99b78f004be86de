package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

type AuthManager struct {
	mu             sync.RWMutex
	secret         []byte
	tokenTTL       time.Duration
	centralStoreID string
	userStore      UserStore
	users          map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
}

type credential struct {
	id       string
	password string
	role     domain.Role
	storeID  string
	active   bool
	created  time.Time
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	UserID  string      `json:"uid"`
	Role    domain.Role `json:"role"`
	StoreID string      `json:"store_id,omitempty"`
}

const userStoreTimeout = 5 * time.Second

func NewAuthManager(secret string, tokenTTL time.Duration, centralStoreID string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:         []byte(secret),
		tokenTTL:       tokenTTL,
		centralStoreID: centralStoreID,
		userStore:      userStore,
		users:          make(map[string]credential),
	}
	ctx, cancel := context.WithTimeout(context.Background(), userStoreTimeout)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	// picks up accounts created by other replicas
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		StoreID:     cred.storeID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer("kitchensupply"))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	role, ok := domain.ParseRole(string(claims.Role))
	if !ok {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: role, StoreID: claims.StoreID}, nil
}

func (a *AuthManager) sign(username string, cred credential, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kitchensupply",
		},
		UserID:  cred.id,
		Role:    cred.role,
		StoreID: cred.storeID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateUser registers a staff account. Central staff are always bound to the
// central kitchen, store staff to an existing store, and admins to none.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.StaffUser, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.StaffUser{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidTransaction)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.StaffUser{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidTransaction)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.StaffUser{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidTransaction)
	}
	role, ok := domain.ParseRole(string(req.Role))
	if !ok {
		return domain.StaffUser{}, fmt.Errorf("%w: unknown role %q", store.ErrInvalidTransaction, req.Role)
	}

	storeID := strings.TrimSpace(req.StoreID)
	switch role {
	case domain.RoleAdmin:
		storeID = ""
	case domain.RoleCentral:
		storeID = a.centralStoreID
	case domain.RoleStore:
		if storeID == "" || storeID == a.centralStoreID {
			return domain.StaffUser{}, fmt.Errorf("%w: store staff need a store other than the central kitchen", store.ErrInvalidTransaction)
		}
		if a.userStore != nil {
			if _, err := a.userStore.GetStore(ctx, storeID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return domain.StaffUser{}, fmt.Errorf("%w: store %s does not exist", store.ErrInvalidTransaction, storeID)
				}
				return domain.StaffUser{}, err
			}
		}
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.StaffUser{}, fmt.Errorf("%w: username already exists", store.ErrInvalidTransaction)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffUser{}, fmt.Errorf("failed to hash password")
	}
	cred := credential{
		id:       xid.New("user"),
		password: passwordHash,
		role:     role,
		storeID:  storeID,
		active:   true,
		created:  time.Now().UTC(),
	}

	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, domain.UserAccount{
			ID:        cred.id,
			Username:  username,
			Password:  cred.password,
			Role:      cred.role,
			StoreID:   cred.storeID,
			Active:    true,
			CreatedAt: cred.created,
		}); err != nil {
			return domain.StaffUser{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = cred
	a.mu.Unlock()

	return cred.view(username), nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.StaffUser {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.StaffUser, 0, len(a.users))
	for username, cred := range a.users {
		result = append(result, cred.view(username))
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

func (c credential) view(username string) domain.StaffUser {
	return domain.StaffUser{
		ID:        c.id,
		Username:  username,
		Role:      c.role,
		StoreID:   c.storeID,
		Active:    c.active,
		CreatedAt: c.created,
	}
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache, upgrading any plain-text passwords to bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			id:       user.ID,
			password: password,
			role:     user.Role,
			storeID:  user.StoreID,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
