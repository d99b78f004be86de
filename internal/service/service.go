package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"kitchensupply/backend/internal/cache"
	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/lock"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

// ErrForbidden marks a caller whose role or store does not allow the
// operation.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// CentralStoreID identifies the location orders are fulfilled from.
	CentralStoreID string
	Cache          cache.OrderCache
	CacheTTL       time.Duration
	Locker         lock.Locker
	Logger         logrus.FieldLogger
	// Now is overridable in tests.
	Now func() time.Time
}

type Service struct {
	repo           store.Repository
	cache          cache.OrderCache
	cacheTTL       time.Duration
	locker         lock.Locker
	log            logrus.FieldLogger
	validate       *validator.Validate
	centralStoreID string
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.CentralStoreID == "" {
		opts.CentralStoreID = "central-kitchen"
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopOrderCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:           repo,
		cache:          opts.Cache,
		cacheTTL:       opts.CacheTTL,
		locker:         opts.Locker,
		log:            opts.Logger.WithField("component", "service"),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		centralStoreID: opts.CentralStoreID,
		now:            opts.Now,
	}
}

func (s *Service) CentralStoreID() string {
	return s.centralStoreID
}

func (s *Service) today() time.Time {
	return domain.TruncateDay(s.now())
}

func requireRole(ctx context.Context, roles ...domain.Role) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: caller identity missing", ErrForbidden)
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: role %s is not allowed", ErrForbidden, actor.Role)
	}
	return actor, nil
}

// requireOwnStore rejects store staff touching another store's data. Other
// roles pass.
func requireOwnStore(actor domain.Actor, storeID string) error {
	if actor.Role != domain.RoleStore {
		return nil
	}
	if actor.StoreID == "" || actor.StoreID != storeID {
		return fmt.Errorf("%w: store staff may only act on their own store", ErrForbidden)
	}
	return nil
}

// validateStruct runs the request's struct tags and folds failures into
// ErrInvalidTransaction.
func (s *Service) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
}

func orderLockKey(orderID string) string {
	return "supply-order:" + orderID
}

// withOrderLock runs fn while holding the order's lock. A successful fn drops
// the cached order before the lock is released.
func (s *Service) withOrderLock(ctx context.Context, orderID string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return fmt.Errorf("%w: supply order %s is being modified, try again", store.ErrStatusConflict, orderID)
		}
		return err
	}
	defer release()
	if err := fn(); err != nil {
		return err
	}
	s.invalidateOrder(ctx, orderID)
	return nil
}

// loadOrder reads the order from the store and caches it. The read and the
// cache write happen under the order's lock so a transition cannot slip in
// between them; when the lock is busy the order is served uncached.
func (s *Service) loadOrder(ctx context.Context, orderID string) (*domain.SupplyOrder, error) {
	release, err := s.locker.Acquire(ctx, orderLockKey(orderID))
	if err != nil {
		if !errors.Is(err, lock.ErrBusy) {
			return nil, err
		}
		return s.repo.GetSupplyOrder(ctx, orderID)
	}
	defer release()

	order, err := s.repo.GetSupplyOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, order, s.cacheTTL); err != nil {
		s.log.WithError(err).WithField("supply_order_id", orderID).Warn("supply order cache write failed")
	}
	return order, nil
}

func (s *Service) invalidateOrder(ctx context.Context, orderID string) {
	if err := s.cache.Delete(ctx, orderID); err != nil {
		s.log.WithError(err).WithField("supply_order_id", orderID).Warn("failed to invalidate cached supply order")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	if to.IsZero() {
		to = s.now().UTC().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", store.ErrInvalidTransaction)
	}
	return s.repo.ListAuditLogs(ctx, strings.TrimSpace(storeID), from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.centralStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "SYSTEM"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}
