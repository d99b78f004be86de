package service

import (
	"context"
	"fmt"
	"strings"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral, domain.RoleStore)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		includeInactive = false
	}
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prod"),
		Code:      req.Code,
		Name:      req.Name,
		Unit:      req.Unit,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.centralStoreID, "product_create", "product", created.ID, fmt.Sprintf("code=%s,name=%s", created.Code, created.Name))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name cannot be empty", store.ErrInvalidTransaction)
		}
		updated.Name = name
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, fmt.Errorf("%w: unit cannot be empty", store.ErrInvalidTransaction)
		}
		updated.Unit = unit
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.centralStoreID, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,unit=%s,active=%t", saved.Name, saved.Unit, saved.Active))
	return *saved, nil
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleCentral, domain.RoleStore); err != nil {
		return nil, err
	}
	return s.repo.ListStores(ctx)
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.Store, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Store{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.validateStruct(req); err != nil {
		return domain.Store{}, err
	}

	created, err := s.repo.CreateStore(ctx, domain.Store{
		ID:        xid.New("store"),
		Name:      req.Name,
		Address:   req.Address,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Store{}, err
	}

	s.logAudit(ctx, created.ID, "store_create", "store", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}
