package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/reconcile"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const exportContentType = "application/json; charset=utf-8"

type waypointPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	EntityID    string `json:"entityId"`
	X           *int64 `json:"x"`
	Y           *int64 `json:"y"`
	Z           *int64 `json:"z"`
}

func (h *httpHandler) handleListWaypoints(c *gin.Context) {
	waypoints, err := h.waypoints.List()
	if err != nil {
		h.respondError(c, "list_waypoints", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waypoints": waypoints})
}

func (h *httpHandler) handleAddWaypoint(c *gin.Context) {
	var payload waypointPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid waypoint payload")
		return
	}
	waypoint, err := h.waypoints.Add(c.Request.Context(), localstore.WaypointInput{
		Name:        payload.Name,
		Description: payload.Description,
		Category:    payload.Category,
		EntityID:    payload.EntityID,
		X:           payload.X,
		Y:           payload.Y,
		Z:           payload.Z,
	})
	if err != nil {
		h.respondError(c, "add_waypoint", err)
		return
	}
	c.JSON(http.StatusCreated, waypoint)
}

func (h *httpHandler) handleDeleteWaypoint(c *gin.Context) {
	id := c.Param("id")
	if err := h.waypoints.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, "delete_waypoint", err)
		return
	}
	if err := h.links.RemoveForWaypoint(c.Request.Context(), id); err != nil {
		h.logger.Warn("removing waypoint links failed", zap.String("waypoint_id", id), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExportWaypoints(c *gin.Context) {
	document, err := h.waypoints.Export()
	if err != nil {
		h.respondError(c, "export_waypoints", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="waypoints.json"`)
	c.Data(http.StatusOK, exportContentType, document)
}

func (h *httpHandler) handleImportWaypoints(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, "unreadable import body")
		return
	}
	result, err := h.waypoints.Import(c.Request.Context(), payload, localstore.ParseImportMode(c.Query("mode")))
	if err != nil {
		h.respondError(c, "import_waypoints", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type collectionPayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	CoverImageURL string   `json:"coverImageUrl"`
	Tags          []string `json:"tags"`
	Category      string   `json:"category"`
	NoteIDs       []string `json:"noteIds"`
	Featured      *bool    `json:"featured"`
}

func (p collectionPayload) input() localstore.CollectionInput {
	return localstore.CollectionInput{
		Title:         p.Title,
		Description:   p.Description,
		CoverImageURL: p.CoverImageURL,
		Tags:          p.Tags,
		Category:      p.Category,
		NoteIDs:       p.NoteIDs,
	}
}

func (h *httpHandler) handleListCollections(c *gin.Context) {
	collections, err := h.collections.List()
	if err != nil {
		h.respondError(c, "list_collections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

func (h *httpHandler) handleCreateCollection(c *gin.Context) {
	var payload collectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid collection payload")
		return
	}
	collection, err := h.collections.Create(c.Request.Context(), payload.input())
	if err != nil {
		h.respondError(c, "create_collection", err)
		return
	}
	if payload.Featured != nil && *payload.Featured {
		collection, err = h.collections.SetFeatured(c.Request.Context(), collection.ID, true)
		if err != nil {
			h.respondError(c, "create_collection", err)
			return
		}
	}
	c.JSON(http.StatusCreated, collection)
}

func (h *httpHandler) handleUpdateCollection(c *gin.Context) {
	var payload collectionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid collection payload")
		return
	}
	id := c.Param("id")
	collection, err := h.collections.Update(c.Request.Context(), id, payload.input())
	if err != nil {
		h.respondError(c, "update_collection", err)
		return
	}
	if payload.Featured != nil && *payload.Featured != collection.Featured {
		collection, err = h.collections.SetFeatured(c.Request.Context(), id, *payload.Featured)
		if err != nil {
			h.respondError(c, "update_collection", err)
			return
		}
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleDeleteCollection(c *gin.Context) {
	if err := h.collections.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "delete_collection", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type collectionNotePayload struct {
	NoteID   string `json:"noteId"`
	Position int    `json:"position"`
}

func (h *httpHandler) handleAddCollectionNote(c *gin.Context) {
	var payload collectionNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.NoteID == "" {
		badRequest(c, "noteId is required")
		return
	}
	collection, err := h.collections.AddNote(c.Request.Context(), c.Param("id"), payload.NoteID)
	if err != nil {
		h.respondError(c, "add_collection_note", err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleRemoveCollectionNote(c *gin.Context) {
	collection, err := h.collections.RemoveNote(c.Request.Context(), c.Param("id"), c.Param("noteId"))
	if err != nil {
		h.respondError(c, "remove_collection_note", err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleMoveCollectionNote(c *gin.Context) {
	var payload collectionNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.NoteID == "" {
		badRequest(c, "noteId is required")
		return
	}
	collection, err := h.collections.MoveNote(c.Request.Context(), c.Param("id"), payload.NoteID, payload.Position)
	if err != nil {
		h.respondError(c, "move_collection_note", err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handlePublishCollection(c *gin.Context) {
	collection, err := h.collections.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "publish_collection", err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleUnpublishCollection(c *gin.Context) {
	collection, err := h.collections.Unpublish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "unpublish_collection", err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleExportCollections(c *gin.Context) {
	document, err := h.collections.Export()
	if err != nil {
		h.respondError(c, "export_collections", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="collections.json"`)
	c.Data(http.StatusOK, exportContentType, document)
}

func (h *httpHandler) handleImportCollections(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, "unreadable import body")
		return
	}
	result, err := h.collections.Import(c.Request.Context(), payload, localstore.ParseImportMode(c.Query("mode")))
	if err != nil {
		h.respondError(c, "import_collections", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleNearby(c *gin.Context) {
	if h.nearby == nil {
		c.JSON(http.StatusOK, gin.H{"hits": []reconcile.NearbyHit{}})
		return
	}
	snapshot, ok := h.nearby.Latest()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"hits": []reconcile.NearbyHit{}})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// handleUpdatePosition moves the player and scans at once; a stale scan still answers 202.
func (h *httpHandler) handleUpdatePosition(c *gin.Context) {
	if h.nearby == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "nearby tracking unavailable", "code": "nearby_unavailable"})
		return
	}
	var position reconcile.Position
	if err := c.ShouldBindJSON(&position); err != nil {
		badRequest(c, "invalid position payload")
		return
	}
	h.nearby.UpdatePosition(position)
	snapshot, err := h.nearby.Refresh(c.Request.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrStaleScan) {
			c.JSON(http.StatusAccepted, gin.H{"position": position})
			return
		}
		h.respondError(c, "update_position", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
