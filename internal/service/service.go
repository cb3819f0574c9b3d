package service

import (
	"context"
	"log"
	"strings"
	"time"

	"saboracampo/backend/internal/cache"
	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/ledger"
	"saboracampo/backend/internal/store"
	"saboracampo/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	ledger     *ledger.Ledger
	catalog    cache.ItemCache
	catalogTTL time.Duration
}

func New(repo store.Repository, stockLedger *ledger.Ledger, catalogCache cache.ItemCache, catalogTTL time.Duration) *Service {
	if catalogCache == nil {
		catalogCache = cache.NoopItemCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		ledger:     stockLedger,
		catalog:    catalogCache,
		catalogTTL: catalogTTL,
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, store.ErrForbidden
	}
	return actor, nil
}

func (s *Service) LookupItemByID(ctx context.Context, id string) (domain.CatalogItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CatalogItem{}, store.ErrValidation
	}
	item, err := s.repo.FindItemByID(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return *item, nil
}

// LookupItemByBarcode resolves a scanned barcode, short-circuiting through
// the catalog cache. Cached entries omit stock counts; availability always
// comes from the ledger.
func (s *Service) LookupItemByBarcode(ctx context.Context, code string) (domain.CatalogItem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.CatalogItem{}, store.ErrValidation
	}

	if cached, ok, err := s.catalog.Get(ctx, code); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed for barcode %s: %v", code, err)
	}

	item, err := s.repo.FindItemByBarcode(ctx, code)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	snapshot := *item
	snapshot.BranchStocks = nil
	snapshot.TotalQuantity = 0
	if err := s.catalog.Set(ctx, code, &snapshot, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed for barcode %s: %v", code, err)
	}

	return *item, nil
}

func (s *Service) SearchCatalog(ctx context.Context, query string, limit int) ([]domain.CatalogItem, error) {
	if limit < 1 || limit > 50 {
		limit = 20
	}
	return s.repo.SearchItems(ctx, strings.TrimSpace(query), limit)
}

// StockAlerts lists branch stock rows at or below their minimum threshold,
// optionally narrowed to one branch.
func (s *Service) StockAlerts(ctx context.Context, branchID string) ([]domain.StockAlert, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, store.ErrForbidden
	}

	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	branchNames := make(map[string]string, len(branches))
	for _, branch := range branches {
		branchNames[branch.ID] = branch.Name
	}

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.StockAlert, 0, 16)
	for _, item := range items {
		for _, row := range item.BranchStocks {
			if branchID != "" && row.BranchID != branchID {
				continue
			}
			if row.MinimumThreshold < 1 || row.Quantity > row.MinimumThreshold {
				continue
			}
			alerts = append(alerts, domain.StockAlert{
				BranchID:         row.BranchID,
				BranchName:       branchNames[row.BranchID],
				ItemID:           item.ID,
				ItemName:         item.Name,
				Quantity:         row.Quantity,
				MinimumThreshold: row.MinimumThreshold,
			})
		}
	}
	return alerts, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, store.ErrForbidden
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrValidation
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     string(actor.Role),
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func snapshotOf(actor domain.Actor) domain.PersonSnapshot {
	return domain.PersonSnapshot{ID: actor.ID, Name: actor.Name, Email: actor.Email}
}
