package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/auth"
	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/publish"
	"github.com/MarcoPoloResearchLab/dailydust/internal/reconcile"
	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const playerAccountContextKey = "dailydust_player_account"

var (
	errMissingNotesReader   = errors.New("notes reader dependency required")
	errMissingStores        = errors.New("local store dependencies required")
	errMissingSessions      = errors.New("session validator dependency required")
	errMissingPublisher     = errors.New("publisher dependency required")
	errMissingChangeStream  = errors.New("change stream dependency required")
	errInvalidAuthorization = errors.New("session cookie missing or invalid")
)

// NotesReader is the read side of the indexer-backed note catalogue.
type NotesReader interface {
	ListNotes(ctx context.Context, filters notes.ListFilters, pager notes.Pager) ([]notes.Note, error)
	GetNoteByID(ctx context.Context, rawID string) (*notes.Note, error)
	ListNotesNear(ctx context.Context, x, y, z, radius int64) ([]notes.Note, error)
	ListBoosted(ctx context.Context, pager notes.Pager) ([]notes.Note, error)
	ListTrending(ctx context.Context, pager notes.Pager) ([]notes.Note, error)
	GetRoutesForNote(ctx context.Context, rawNoteID string) ([]notes.WaypointGroup, error)
}

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Publisher interface {
	Publish(ctx context.Context, draftID, owner string) (publish.Result, error)
}

type Hydrator interface {
	Hydrate(ctx context.Context, draftID string) (localstore.Draft, error)
}

type NearbyTracker interface {
	UpdatePosition(position reconcile.Position)
	Refresh(ctx context.Context) (reconcile.Snapshot, error)
	Latest() (reconcile.Snapshot, bool)
}

// ChangeStream feeds /stream with storage change messages of every key.
type ChangeStream interface {
	SubscribeAll(ctx context.Context) (<-chan storage.Message, func())
}

type Dependencies struct {
	Notes          NotesReader
	LocalNotes     *localstore.NotesStore
	Drafts         *localstore.DraftsStore
	Waypoints      *localstore.WaypointsStore
	Collections    *localstore.CollectionsStore
	Links          *localstore.LinksStore
	Autosaver      *localstore.Autosaver
	Publisher      Publisher
	Hydrator       Hydrator
	Nearby         NearbyTracker
	Changes        ChangeStream
	Sessions       SessionValidator
	AllowedOrigins []string
	Heartbeat      time.Duration
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Notes == nil {
		return nil, errMissingNotesReader
	}
	if deps.LocalNotes == nil || deps.Drafts == nil || deps.Waypoints == nil || deps.Collections == nil || deps.Links == nil {
		return nil, errMissingStores
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Publisher == nil {
		return nil, errMissingPublisher
	}
	if deps.Changes == nil {
		return nil, errMissingChangeStream
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		notes:       deps.Notes,
		localNotes:  deps.LocalNotes,
		drafts:      deps.Drafts,
		waypoints:   deps.Waypoints,
		collections: deps.Collections,
		links:       deps.Links,
		autosaver:   deps.Autosaver,
		publisher:   deps.Publisher,
		hydrator:    deps.Hydrator,
		nearby:      deps.Nearby,
		changes:     deps.Changes,
		sessions:    deps.Sessions,
		heartbeat:   heartbeat,
		logger:      logger,
	}

	router.GET("/notes", handler.handleListNotes)
	router.GET("/notes/boosted", handler.handleListBoosted)
	router.GET("/notes/trending", handler.handleListTrending)
	router.GET("/notes/near", handler.handleListNear)
	router.GET("/notes/published", handler.handleListPublished)
	router.GET("/notes/:id", handler.handleGetNote)
	router.GET("/notes/:id/routes", handler.handleGetRoutes)

	router.GET("/waypoints", handler.handleListWaypoints)
	router.GET("/waypoints/export", handler.handleExportWaypoints)
	router.GET("/collections", handler.handleListCollections)
	router.GET("/collections/export", handler.handleExportCollections)
	router.GET("/nearby", handler.handleNearby)
	router.GET("/stream", handler.handleStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/drafts", handler.handleListDrafts)
	protected.POST("/drafts", handler.handleCreateDraft)
	protected.GET("/drafts/:id", handler.handleGetDraft)
	protected.PUT("/drafts/:id", handler.handleSaveDraft)
	protected.DELETE("/drafts/:id", handler.handleDeleteDraft)
	protected.POST("/drafts/:id/publish", handler.handlePublishDraft)
	protected.POST("/drafts/:id/hydrate", handler.handleHydrateDraft)
	protected.POST("/drafts/:id/links", handler.handleLinkDraft)

	protected.POST("/waypoints", handler.handleAddWaypoint)
	protected.DELETE("/waypoints/:id", handler.handleDeleteWaypoint)
	protected.POST("/waypoints/import", handler.handleImportWaypoints)

	protected.POST("/collections", handler.handleCreateCollection)
	protected.PUT("/collections/:id", handler.handleUpdateCollection)
	protected.DELETE("/collections/:id", handler.handleDeleteCollection)
	protected.POST("/collections/:id/notes", handler.handleAddCollectionNote)
	protected.DELETE("/collections/:id/notes/:noteId", handler.handleRemoveCollectionNote)
	protected.POST("/collections/:id/notes/move", handler.handleMoveCollectionNote)
	protected.POST("/collections/:id/publish", handler.handlePublishCollection)
	protected.DELETE("/collections/:id/publish", handler.handleUnpublishCollection)
	protected.POST("/collections/import", handler.handleImportCollections)

	protected.PUT("/nearby/position", handler.handleUpdatePosition)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	notes       NotesReader
	localNotes  *localstore.NotesStore
	drafts      *localstore.DraftsStore
	waypoints   *localstore.WaypointsStore
	collections *localstore.CollectionsStore
	links       *localstore.LinksStore
	autosaver   *localstore.Autosaver
	publisher   Publisher
	hydrator    Hydrator
	nearby      NearbyTracker
	changes     ChangeStream
	sessions    SessionValidator
	heartbeat   time.Duration
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error(), "code": "unauthorized"})
		return
	}
	c.Set(playerAccountContextKey, claims.PlayerAccount)
	c.Next()
}
