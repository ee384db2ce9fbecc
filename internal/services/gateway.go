package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/synccache"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var errMissingScope = errors.New("document is missing scope fields")

// Notifier queues the partner notification that follows a create
type Notifier interface {
	NotifyPartner(session models.SessionContext, notice Notice)
}

// Gateway is the only path to a shared collection. Every operation is scoped
// to the caller's pair.
type Gateway[F, P any] struct {
	kind     Kind[F, P]
	store    repository.DocumentStore
	notifier Notifier
	metrics  metrics.Recorder
	pageSize int
	now      func() time.Time
}

// NewGateway creates a gateway for one collection kind
func NewGateway[F, P any](
	kind Kind[F, P],
	store repository.DocumentStore,
	notifier Notifier,
	recorder metrics.Recorder,
	pageSize int,
) *Gateway[F, P] {
	return &Gateway[F, P]{
		kind:     kind,
		store:    store,
		notifier: notifier,
		metrics:  recorder,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Collection returns the collection name
func (g *Gateway[F, P]) Collection() string {
	return g.kind.Collection()
}

// List returns the pair's entities, newest first
func (g *Gateway[F, P]) List(ctx context.Context, session models.SessionContext) (items []models.Shared[F], err error) {
	defer g.record("list", &err)

	pairID, err := requirePairID(session)
	if err != nil {
		return nil, err
	}

	docs, err := g.store.Query(ctx, g.Collection(), g.query(pairID))
	if err != nil {
		return nil, models.Transient(err)
	}
	return g.decodeAll(docs)
}

// Get returns one entity of the caller's pair
func (g *Gateway[F, P]) Get(ctx context.Context, session models.SessionContext, id string) (item *models.Shared[F], err error) {
	defer g.record("get", &err)

	pairID, err := requirePairID(session)
	if err != nil {
		return nil, err
	}

	doc, err := g.fetchScoped(ctx, pairID, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, models.NewNotFoundError(g.Collection(), id)
	}

	entity, err := g.decode(doc)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Create stores a new entity stamped with the caller's pair and uid, then
// queues the partner notification. Notification failures never fail Create.
func (g *Gateway[F, P]) Create(ctx context.Context, session models.SessionContext, fields F) (id string, err error) {
	defer g.record("create", &err)

	if session.UID == "" {
		return "", models.ErrNotAuthenticated
	}
	pairID, err := requirePairID(session)
	if err != nil {
		return "", err
	}

	g.kind.Normalize(&fields)
	if err := g.kind.Validate(fields); err != nil {
		return "", err
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	now := g.now()
	doc := &repository.Document{
		ID:        uuid.New().String(),
		PairID:    pairID,
		CreatedBy: session.UID,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      data,
	}
	if err := g.store.Create(ctx, g.Collection(), doc); err != nil {
		return "", models.Transient(err)
	}

	notice := g.kind.Notice(fields)
	notice.Data = map[string]any{"collection": g.Collection(), "id": doc.ID}
	g.notifier.NotifyPartner(session, notice)

	return doc.ID, nil
}

// Update applies the kind's allow-listed fields of patch. Scoping fields never change.
func (g *Gateway[F, P]) Update(ctx context.Context, session models.SessionContext, id string, patch P) (err error) {
	defer g.record("update", &err)

	pairID, err := requirePairID(session)
	if err != nil {
		return err
	}

	doc, err := g.fetchScoped(ctx, pairID, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return models.NewNotFoundError(g.Collection(), id)
	}

	entity, err := g.decode(doc)
	if err != nil {
		return err
	}

	fields := entity.Fields
	g.kind.Apply(&fields, patch)
	if err := g.kind.Validate(fields); err != nil {
		return err
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := g.store.Update(ctx, g.Collection(), id, data, g.now()); err != nil {
		return models.Transient(err)
	}
	return nil
}

// Remove deletes an entity of the caller's pair. Removing a missing entity succeeds.
func (g *Gateway[F, P]) Remove(ctx context.Context, session models.SessionContext, id string) (err error) {
	defer g.record("remove", &err)

	pairID, err := requirePairID(session)
	if err != nil {
		return err
	}

	doc, err := g.fetchScoped(ctx, pairID, id)
	if err != nil || doc == nil {
		return err
	}

	if err := g.store.Delete(ctx, g.Collection(), id); err != nil {
		return models.Transient(err)
	}
	return nil
}

// Source returns the session's pair-scoped view of the collection for a sync cache
func (g *Gateway[F, P]) Source(session models.SessionContext) synccache.Source[models.Shared[F]] {
	return &gatewaySource[F, P]{gateway: g, session: session}
}

// fetchScoped returns the document, nil if absent, or ErrForbidden if it
// belongs to another pair.
func (g *Gateway[F, P]) fetchScoped(ctx context.Context, pairID, id string) (*repository.Document, error) {
	doc, err := g.store.Get(ctx, g.Collection(), id)
	if err != nil {
		return nil, models.Transient(err)
	}
	if doc == nil {
		return nil, nil
	}
	if doc.PairID == "" {
		return nil, models.NewMalformedDocumentError(g.Collection(), id, errMissingScope)
	}
	if doc.PairID != pairID {
		return nil, models.ErrForbidden
	}
	return doc, nil
}

func (g *Gateway[F, P]) decodeAll(docs []*repository.Document) ([]models.Shared[F], error) {
	items := make([]models.Shared[F], 0, len(docs))
	for _, doc := range docs {
		entity, err := g.decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, entity)
	}
	return items, nil
}

// decode converts a raw document into a typed entity. Missing scope fields,
// undecodable data and invalid field values are all malformed.
func (g *Gateway[F, P]) decode(doc *repository.Document) (models.Shared[F], error) {
	var entity models.Shared[F]
	if doc.ID == "" || doc.PairID == "" || doc.CreatedBy == "" || doc.CreatedAt.IsZero() {
		return entity, models.NewMalformedDocumentError(g.Collection(), doc.ID, errMissingScope)
	}

	var fields F
	if err := json.Unmarshal(doc.Data, &fields); err != nil {
		return entity, models.NewMalformedDocumentError(g.Collection(), doc.ID, err)
	}
	if err := g.kind.Validate(fields); err != nil {
		return entity, models.NewMalformedDocumentError(g.Collection(), doc.ID, err)
	}

	entity.Scope = models.Scope{
		ID:        doc.ID,
		PairID:    doc.PairID,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	entity.Fields = fields
	return entity, nil
}

func (g *Gateway[F, P]) query(pairID string) repository.Query {
	return repository.Query{PairID: pairID, Limit: g.pageSize}
}

func (g *Gateway[F, P]) record(op string, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = models.CategoryOf(*err)
		if outcome == models.CategoryMalformed || outcome == models.CategoryTransient {
			log.Error().Err(*err).Str("collection", g.Collection()).Str("op", op).Msg("Gateway operation failed")
		}
	}
	g.metrics.RecordGatewayOp(g.Collection(), op, outcome)
}

func requirePairID(session models.SessionContext) (string, error) {
	if session.PairID == "" {
		return "", models.ErrNotPaired
	}
	return session.PairID, nil
}

type gatewaySource[F, P any] struct {
	gateway *Gateway[F, P]
	session models.SessionContext
}

func (s *gatewaySource[F, P]) Fetch(ctx context.Context) ([]models.Shared[F], error) {
	return s.gateway.List(ctx, s.session)
}

func (s *gatewaySource[F, P]) Subscribe(ctx context.Context, onChange func([]models.Shared[F]), onError func(error)) (func(), error) {
	pairID, err := requirePairID(s.session)
	if err != nil {
		return nil, err
	}

	g := s.gateway
	unsub, err := g.store.Subscribe(ctx, g.Collection(), g.query(pairID),
		func(docs []*repository.Document) {
			items, err := g.decodeAll(docs)
			if err != nil {
				onError(err)
				return
			}
			onChange(items)
		},
		func(err error) {
			g.metrics.RecordFeedError(g.Collection())
			onError(models.Transient(err))
		},
	)
	if err != nil {
		return nil, models.Transient(err)
	}
	return unsub, nil
}
