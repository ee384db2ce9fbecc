package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/services"
	"couple-sync-backend/internal/synccache"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// view is one live collection subscription of a connection
type view interface {
	bind(session models.SessionContext)
	refresh() error
	close()
}

// ViewFactory creates a view whose snapshots are sent to client
type ViewFactory func(client *services.Client) view

// CollectionView returns a factory of cache-backed views over a gateway
func CollectionView[F, P any](gateway *services.Gateway[F, P]) ViewFactory {
	return func(client *services.Client) view {
		return newCollectionView(gateway, client)
	}
}

type collectionView[F, P any] struct {
	gateway   *services.Gateway[F, P]
	cache     *synccache.Cache[models.Shared[F]]
	stopWatch func()
}

func newCollectionView[F, P any](gateway *services.Gateway[F, P], client *services.Client) *collectionView[F, P] {
	collection := gateway.Collection()
	v := &collectionView[F, P]{
		gateway: gateway,
		cache:   synccache.New[models.Shared[F]](collection),
	}
	v.stopWatch = v.cache.Watch(func(st synccache.Status[models.Shared[F]]) {
		if err := client.Send(snapshotMessage(collection, st)); err != nil {
			log.Debug().Err(err).Str("user_id", client.UID).Str("collection", collection).Msg("Dropped snapshot")
		}
	})
	return v
}

func (v *collectionView[F, P]) bind(session models.SessionContext) {
	if session.PairID == "" {
		v.cache.Bind("", nil)
		return
	}
	v.cache.Bind(session.PairID, v.gateway.Source(session))
}

func (v *collectionView[F, P]) refresh() error {
	return v.cache.Refresh()
}

func (v *collectionView[F, P]) close() {
	v.cache.Close()
	v.stopWatch()
}

func snapshotMessage[T any](collection string, st synccache.Status[T]) services.WSMessage {
	data := st.Data
	if data == nil {
		data = []T{}
	}
	msg := services.WSMessage{
		Type:         services.MessageSnapshot,
		Collection:   collection,
		IsLoading:    &st.IsLoading,
		IsRefetching: &st.IsRefetching,
		Data:         data,
	}
	if st.Err != nil {
		msg.Code, msg.Message = errorFields(st.Err)
	}
	return msg
}

func errorFields(err error) (code, message string) {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}
	return models.CodeStoreUnavailable, models.ErrStoreUnavailable.Message
}

// ParticipantLookup returns the two uids of a pair
type ParticipantLookup interface {
	GetParticipants(ctx context.Context, pairID string) ([2]string, error)
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub            *services.WSHub
	identity       middleware.TokenValidator
	sessions       middleware.SessionLoader
	pairs          ParticipantLookup
	views          map[string]ViewFactory
	metrics        metrics.Recorder
	upgrader       websocket.Upgrader
	maxMessageSize int64

	mu          sync.Mutex
	activeViews int
}

// NewWebSocketHandler creates a new WebSocket handler. views maps collection
// names to the views clients can subscribe to.
func NewWebSocketHandler(
	hub *services.WSHub,
	identity middleware.TokenValidator,
	sessions middleware.SessionLoader,
	pairs ParticipantLookup,
	views map[string]ViewFactory,
	recorder metrics.Recorder,
	cfg config.WebSocketConfig,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		identity:       identity,
		sessions:       sessions,
		pairs:          pairs,
		views:          views,
		metrics:        recorder,
		maxMessageSize: cfg.MaxMessageSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.AllowedOrigins),
		},
	}
}

// checkOrigin allows every origin when none are configured. Native clients
// send no Origin header.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	uid, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.identity)
	if err != nil {
		respondError(w, err)
		return
	}

	session, err := h.sessions.Resolve(r.Context(), uid)
	if err != nil {
		respondError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := services.NewClient(uid, conn)
	c := &connection{
		ctx:         r.Context(),
		handler:     h,
		client:      client,
		session:     session,
		views:       make(map[string]view),
		pairChanged: make(chan struct{}, 1),
	}
	client.OnPairChange(c.signalPairChange)

	h.hub.Register(client)
	go client.WritePump()
	go c.watchPair()

	defer func() {
		c.closeViews()
		h.hub.Unregister(client)
		if !h.hub.IsOnline(uid) {
			h.hub.NotifyPartnerStatus(c.currentPartner(), false)
		}
		log.Info().Str("user_id", uid).Msg("WebSocket connection closed")
	}()

	c.announce(session)

	log.Info().Str("user_id", uid).Msg("WebSocket connection established")

	c.readLoop()
}

func (h *WebSocketHandler) addActiveViews(delta int) {
	h.mu.Lock()
	h.activeViews += delta
	n := h.activeViews
	h.mu.Unlock()
	h.metrics.SetActiveViews(n)
}

// connection is the state of one device connection
type connection struct {
	ctx         context.Context
	handler     *WebSocketHandler
	client      *services.Client
	pairChanged chan struct{}

	mu      sync.Mutex
	session models.SessionContext
	partner string
	views   map[string]view
	closed  bool
}

func (c *connection) readLoop() {
	c.client.PrepareRead(c.handler.maxMessageSize)

	for {
		data, err := c.client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", c.client.UID).Msg("WebSocket error")
			}
			return
		}

		var msg services.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", models.NewInvalidInputError("message", "invalid message format"))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *connection) handleMessage(msg services.WSMessage) {
	switch msg.Type {
	case services.MessageSubscribe:
		c.subscribe(msg.Collection)
	case services.MessageUnsubscribe:
		c.unsubscribe(msg.Collection)
	case services.MessageRefresh:
		c.refresh(msg.Collection)
	default:
		c.sendError(msg.Collection, models.NewInvalidInputError("type", "unknown message type "+msg.Type))
	}
}

// subscribe opens a view of the collection. A second subscribe replaces the first.
func (c *connection) subscribe(collection string) {
	factory, ok := c.handler.views[collection]
	if !ok {
		c.sendError(collection, models.NewInvalidInputError("collection", "unknown collection "+collection))
		return
	}

	v := factory(c.client)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		v.close()
		return
	}
	old := c.views[collection]
	c.views[collection] = v
	session := c.session
	c.mu.Unlock()

	if old != nil {
		old.close()
	} else {
		c.handler.addActiveViews(1)
	}

	if session.PairID == "" {
		c.sendError(collection, models.ErrNotPaired)
	}
	v.bind(session)
}

func (c *connection) unsubscribe(collection string) {
	c.mu.Lock()
	v, ok := c.views[collection]
	delete(c.views, collection)
	c.mu.Unlock()

	if ok {
		v.close()
		c.handler.addActiveViews(-1)
	}
}

func (c *connection) refresh(collection string) {
	c.mu.Lock()
	v, ok := c.views[collection]
	c.mu.Unlock()

	if !ok {
		c.sendError(collection, models.NewInvalidInputError("collection", "not subscribed to "+collection))
		return
	}
	// Errors also reach the client through the snapshot status
	if err := v.refresh(); err != nil {
		log.Warn().Err(err).Str("user_id", c.client.UID).Str("collection", collection).Msg("Refresh failed")
	}
}

func (c *connection) closeViews() {
	c.mu.Lock()
	c.closed = true
	views := c.views
	c.views = make(map[string]view)
	c.mu.Unlock()

	for _, v := range views {
		v.close()
	}
	if len(views) > 0 {
		c.handler.addActiveViews(-len(views))
	}
}

func (c *connection) currentPartner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partner
}

// signalPairChange is called by the hub. It only wakes watchPair, so the
// hub never waits on store reads.
func (c *connection) signalPairChange() {
	select {
	case c.pairChanged <- struct{}{}:
	default:
	}
}

// watchPair re-resolves the session after each pair change and rebinds every view
func (c *connection) watchPair() {
	for {
		select {
		case <-c.client.Done():
			return
		case <-c.pairChanged:
			c.rebind()
		}
	}
}

func (c *connection) rebind() {
	session, err := c.handler.sessions.Resolve(c.ctx, c.client.UID)
	if err != nil {
		log.Error().Err(err).Str("user_id", c.client.UID).Msg("Failed to resolve session after pair change")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.session = session
	views := make([]view, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		v.bind(session)
	}
	c.announce(session)
}

// announce sends pair_status to the client and tells the partner it is online
func (c *connection) announce(session models.SessionContext) {
	partner := c.lookupPartner(session)

	c.mu.Lock()
	c.partner = partner
	c.mu.Unlock()

	data := map[string]interface{}{"has_pair": session.PairID != ""}
	if session.PairID != "" {
		data["pair_id"] = session.PairID
		data["partner_id"] = partner
		data["partner_online"] = c.handler.hub.IsOnline(partner)
	}
	if err := c.client.Send(services.WSMessage{Type: services.MessagePairStatus, Data: data}); err != nil {
		log.Error().Err(err).Str("user_id", c.client.UID).Msg("Failed to send pair_status message")
	}
	c.handler.hub.NotifyPartnerStatus(partner, true)
}

func (c *connection) lookupPartner(session models.SessionContext) string {
	if session.PairID == "" {
		return ""
	}
	participants, err := c.handler.pairs.GetParticipants(c.ctx, session.PairID)
	if err != nil {
		log.Error().Err(err).Str("pair_id", session.PairID).Msg("Failed to load pair participants")
		return ""
	}
	if participants[0] == session.UID {
		return participants[1]
	}
	return participants[0]
}

func (c *connection) sendError(collection string, err error) {
	code, message := errorFields(err)
	if sendErr := c.client.Send(services.WSMessage{
		Type:       services.MessageError,
		Collection: collection,
		Code:       code,
		Message:    message,
	}); sendErr != nil {
		log.Debug().Err(sendErr).Str("user_id", c.client.UID).Msg("Failed to send error message")
	}
}
