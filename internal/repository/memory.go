package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"couple-sync-backend/internal/models"
)

// MemoryStore is an in-process store implementing every repository interface.
// All state sits behind one mutex, so redemption is atomic with respect to
// every other operation. Used by the memory driver and by tests.
type MemoryStore struct {
	mu            sync.Mutex
	profiles      map[string]*models.UserProfile
	codes         map[string]*models.PairCode
	pairs         map[string]*models.Pair
	notifications map[string]*models.AppNotification
	documents     map[string]map[string]*Document

	// deliverMu serializes change delivery so subscribers see snapshots in commit order
	deliverMu sync.Mutex
	subs      map[int]*memorySubscription
	nextSubID int
}

type memorySubscription struct {
	collection string
	query      Query
	onChange   func([]*Document)
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]*models.UserProfile),
		codes:         make(map[string]*models.PairCode),
		pairs:         make(map[string]*models.Pair),
		notifications: make(map[string]*models.AppNotification),
		documents:     make(map[string]map[string]*Document),
		subs:          make(map[int]*memorySubscription),
	}
}

// Profiles returns the profile repository view of the store
func (s *MemoryStore) Profiles() ProfileRepository { return memoryProfiles{s} }

// PairCodes returns the pair code repository view of the store
func (s *MemoryStore) PairCodes() PairCodeRepository { return memoryPairCodes{s} }

// Pairs returns the pair repository view of the store
func (s *MemoryStore) Pairs() PairRepository { return memoryPairs{s} }

// Notifications returns the notification repository view of the store
func (s *MemoryStore) Notifications() NotificationRepository { return memoryNotifications{s} }

// Documents returns the shared document store view
func (s *MemoryStore) Documents() DocumentStore { return memoryDocuments{s} }

// SubscriberCount returns the number of live change-feed subscriptions
func (s *MemoryStore) SubscriberCount() int {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	return len(s.subs)
}

// --- profiles ---

type memoryProfiles struct{ s *MemoryStore }

func (r memoryProfiles) FindByUID(ctx context.Context, uid string) (*models.UserProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[uid]
	if !ok {
		return nil, nil
	}
	return copyProfile(p), nil
}

func (r memoryProfiles) CreateIfAbsent(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.profiles[profile.UID]; ok {
		return copyProfile(existing), nil
	}
	r.s.profiles[profile.UID] = copyProfile(profile)
	return copyProfile(profile), nil
}

func (r memoryProfiles) Update(ctx context.Context, uid string, upd models.ProfileUpdate, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[uid]
	if !ok {
		return models.NewNotFoundError("profile", uid)
	}
	if upd.DisplayName != nil {
		p.DisplayName = *upd.DisplayName
	}
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	p.UpdatedAt = updatedAt
	return nil
}

func (r memoryProfiles) UpdatePushToken(ctx context.Context, uid string, token *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[uid]
	if !ok {
		return models.NewNotFoundError("profile", uid)
	}
	p.PushToken = copyString(token)
	return nil
}

// --- pair codes ---

type memoryPairCodes struct{ s *MemoryStore }

func (r memoryPairCodes) Create(ctx context.Context, code *models.PairCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.codes[code.Code]; ok {
		return ErrCodeCollision
	}
	c := *code
	c.PairID = copyString(code.PairID)
	r.s.codes[code.Code] = &c
	return nil
}

func (r memoryPairCodes) FindByCode(ctx context.Context, code string) (*models.PairCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[code]
	if !ok {
		return nil, nil
	}
	out := *c
	out.PairID = copyString(c.PairID)
	return &out, nil
}

func (r memoryPairCodes) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, c := range r.s.codes {
		if c.ExpiresAt.Before(cutoff) || (c.Used && c.CreatedAt.Before(cutoff)) {
			delete(r.s.codes, k)
			n++
		}
	}
	return n, nil
}

// --- pairs ---

type memoryPairs struct{ s *MemoryStore }

func (r memoryPairs) Redeem(ctx context.Context, p RedeemParams) (*models.Pair, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	code, ok := r.s.codes[p.Code]
	if !ok {
		return nil, models.ErrPairCodeNotFound
	}
	if err := code.CheckRedeemable(p.RedeemerUID, p.Now); err != nil {
		return nil, err
	}

	owner := r.s.profileLocked(code.OwnerUID, p.Now)
	redeemer := r.s.profileLocked(p.RedeemerUID, p.Now)
	if owner.PairID != nil || redeemer.PairID != nil {
		return nil, models.ErrAlreadyPaired
	}

	pair := &models.Pair{
		ID:           p.PairID,
		Participants: [2]string{code.OwnerUID, p.RedeemerUID},
		Status:       models.PairStatusActive,
		CreatedAt:    p.Now,
	}
	code.Used = true
	code.PairID = copyString(&pair.ID)
	r.s.pairs[pair.ID] = pair
	owner.PairID = copyString(&pair.ID)
	owner.UpdatedAt = p.Now
	redeemer.PairID = copyString(&pair.ID)
	redeemer.UpdatedAt = p.Now

	out := *pair
	return &out, nil
}

func (r memoryPairs) FindByID(ctx context.Context, id string) (*models.Pair, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pair, ok := r.s.pairs[id]
	if !ok {
		return nil, nil
	}
	out := *pair
	return &out, nil
}

func (r memoryPairs) FindActiveByUser(ctx context.Context, uid string) (*models.Pair, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, pair := range r.s.pairs {
		if pair.Status == models.PairStatusActive && pair.HasParticipant(uid) {
			out := *pair
			return &out, nil
		}
	}
	return nil, nil
}

func (r memoryPairs) Deactivate(ctx context.Context, id string) (*models.Pair, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pair, ok := r.s.pairs[id]
	if !ok || pair.Status != models.PairStatusActive {
		return nil, models.NewNotFoundError("pair", id)
	}
	pair.Status = models.PairStatusInactive
	for _, uid := range pair.Participants {
		if prof, ok := r.s.profiles[uid]; ok && prof.CurrentPairID() == id {
			prof.PairID = nil
		}
	}
	out := *pair
	return &out, nil
}

// profileLocked returns the stored profile for uid, creating the default one if absent
func (s *MemoryStore) profileLocked(uid string, now time.Time) *models.UserProfile {
	p, ok := s.profiles[uid]
	if !ok {
		p = models.NewDefaultProfile(uid, now)
		s.profiles[uid] = p
	}
	return p
}

// --- notifications ---

type memoryNotifications struct{ s *MemoryStore }

func (r memoryNotifications) Create(ctx context.Context, n *models.AppNotification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *n
	r.s.notifications[n.ID] = &c
	return nil
}

func (r memoryNotifications) FindByID(ctx context.Context, id string) (*models.AppNotification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok {
		return nil, nil
	}
	out := *n
	return &out, nil
}

func (r memoryNotifications) ListByRecipient(ctx context.Context, uid string, limit int) ([]*models.AppNotification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AppNotification
	for _, n := range r.s.notifications {
		if n.RecipientUID == uid {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryNotifications) MarkRead(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n, ok := r.s.notifications[id]; ok {
		n.Read = true
	}
	return nil
}

func (r memoryNotifications) MarkAllRead(ctx context.Context, uid string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, n := range r.s.notifications {
		if n.RecipientUID == uid && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

func (r memoryNotifications) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.notifications, id)
	return nil
}

func (r memoryNotifications) DeleteByRecipient(ctx context.Context, uid string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for id, n := range r.s.notifications {
		if n.RecipientUID == uid {
			delete(r.s.notifications, id)
			count++
		}
	}
	return count, nil
}

// --- shared documents ---

type memoryDocuments struct{ s *MemoryStore }

func (r memoryDocuments) Create(ctx context.Context, collection string, doc *Document) error {
	r.s.mu.Lock()
	docs, ok := r.s.documents[collection]
	if !ok {
		docs = make(map[string]*Document)
		r.s.documents[collection] = docs
	}
	docs[doc.ID] = copyDocument(doc)
	r.s.mu.Unlock()

	r.s.publish(collection, doc.PairID)
	return nil
}

func (r memoryDocuments) Get(ctx context.Context, collection, id string) (*Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.documents[collection][id]
	if !ok {
		return nil, nil
	}
	return copyDocument(doc), nil
}

func (r memoryDocuments) Update(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error {
	r.s.mu.Lock()
	doc, ok := r.s.documents[collection][id]
	if !ok {
		r.s.mu.Unlock()
		return models.NewNotFoundError(collection, id)
	}
	doc.Data = append(json.RawMessage(nil), data...)
	doc.UpdatedAt = updatedAt
	pairID := doc.PairID
	r.s.mu.Unlock()

	r.s.publish(collection, pairID)
	return nil
}

func (r memoryDocuments) Delete(ctx context.Context, collection, id string) error {
	r.s.mu.Lock()
	doc, ok := r.s.documents[collection][id]
	if !ok {
		r.s.mu.Unlock()
		return nil
	}
	delete(r.s.documents[collection], id)
	r.s.mu.Unlock()

	r.s.publish(collection, doc.PairID)
	return nil
}

func (r memoryDocuments) Query(ctx context.Context, collection string, q Query) ([]*Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.queryLocked(collection, q), nil
}

func (r memoryDocuments) Subscribe(ctx context.Context, collection string, q Query, onChange func([]*Document), onError func(error)) (Unsubscribe, error) {
	r.s.deliverMu.Lock()
	defer r.s.deliverMu.Unlock()

	id := r.s.nextSubID
	r.s.nextSubID++
	r.s.subs[id] = &memorySubscription{collection: collection, query: q, onChange: onChange}

	r.s.mu.Lock()
	initial := r.s.queryLocked(collection, q)
	r.s.mu.Unlock()
	onChange(initial)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			r.s.deliverMu.Lock()
			delete(r.s.subs, id)
			r.s.deliverMu.Unlock()
		})
	}
	context.AfterFunc(ctx, unsub)
	return unsub, nil
}

func (s *MemoryStore) queryLocked(collection string, q Query) []*Document {
	var out []*Document
	for _, doc := range s.documents[collection] {
		if doc.PairID == q.PairID {
			out = append(out, copyDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// publish delivers a fresh snapshot to every subscription watching the pair's collection
func (s *MemoryStore) publish(collection, pairID string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for _, sub := range s.subs {
		if sub.collection != collection || sub.query.PairID != pairID {
			continue
		}
		s.mu.Lock()
		snapshot := s.queryLocked(collection, sub.query)
		s.mu.Unlock()
		sub.onChange(snapshot)
	}
}

func copyDocument(d *Document) *Document {
	c := *d
	c.Data = append(json.RawMessage(nil), d.Data...)
	return &c
}

func copyProfile(p *models.UserProfile) *models.UserProfile {
	c := *p
	c.PairID = copyString(p.PairID)
	c.PushToken = copyString(p.PushToken)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
