package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type draftPayload struct {
	NoteID             string                 `json:"noteId"`
	Title              string                 `json:"title"`
	Content            string                 `json:"content"`
	Tags               []string               `json:"tags"`
	HeaderImageURL     string                 `json:"headerImageUrl"`
	SelectedWaypointID string                 `json:"selectedWaypointId"`
	RouteSteps         []localstore.RouteStep `json:"routeSteps"`
}

func (p draftPayload) draft(id string) localstore.Draft {
	return localstore.Draft{
		ID:                 id,
		NoteID:             strings.ToLower(strings.TrimSpace(p.NoteID)),
		Title:              p.Title,
		Content:            p.Content,
		Tags:               p.Tags,
		HeaderImageURL:     strings.TrimSpace(p.HeaderImageURL),
		SelectedWaypointID: strings.TrimSpace(p.SelectedWaypointID),
		RouteSteps:         p.RouteSteps,
	}
}

func (h *httpHandler) handleListDrafts(c *gin.Context) {
	drafts, err := h.drafts.List()
	if err != nil {
		h.respondError(c, "list_drafts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": drafts})
}

// handleCreateDraft starts a blank draft, or an edit draft when the body names a local note.
func (h *httpHandler) handleCreateDraft(c *gin.Context) {
	var payload draftPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid draft payload")
		return
	}
	if noteID := strings.TrimSpace(payload.NoteID); noteID != "" && strings.TrimSpace(payload.Title) == "" {
		note, err := h.localNotes.Get(noteID)
		if err == nil {
			draft, err := h.drafts.CreateFromNote(c.Request.Context(), note)
			if err != nil {
				h.respondError(c, "create_draft", err)
				return
			}
			c.JSON(http.StatusCreated, draft)
			return
		}
	}
	draft, err := h.drafts.Create(c.Request.Context(), payload.draft(""))
	if err != nil {
		h.respondError(c, "create_draft", err)
		return
	}
	c.JSON(http.StatusCreated, draft)
}

func (h *httpHandler) handleGetDraft(c *gin.Context) {
	draft, err := h.drafts.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, "get_draft", err)
		return
	}
	links, err := h.links.ForDraft(draft.ID)
	if err != nil {
		h.respondError(c, "get_draft", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft, "links": links})
}

// handleSaveDraft writes through unless autosave=true, which defers to the debounced saver.
func (h *httpHandler) handleSaveDraft(c *gin.Context) {
	var payload draftPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid draft payload")
		return
	}
	id := c.Param("id")
	existing, err := h.drafts.Get(id)
	if err != nil {
		h.respondError(c, "save_draft", err)
		return
	}
	draft := payload.draft(id)
	if draft.NoteID == "" {
		draft.NoteID = existing.NoteID
	}
	if h.autosaver != nil && c.Query("autosave") == "true" {
		h.autosaver.Schedule(draft)
		c.JSON(http.StatusAccepted, gin.H{"scheduled": true})
		return
	}
	if h.autosaver != nil {
		h.autosaver.Cancel(id)
	}
	saved, err := h.drafts.Save(c.Request.Context(), draft)
	if err != nil {
		h.respondError(c, "save_draft", err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleDeleteDraft(c *gin.Context) {
	id := c.Param("id")
	if h.autosaver != nil {
		h.autosaver.Cancel(id)
	}
	if err := h.drafts.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, "delete_draft", err)
		return
	}
	if err := h.links.RemoveForDraft(c.Request.Context(), id); err != nil {
		h.logger.Warn("removing draft links failed", zap.String("draft_id", id), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePublishDraft(c *gin.Context) {
	owner := c.GetString(playerAccountContextKey)
	if h.autosaver != nil {
		if err := h.autosaver.FlushDraft(c.Request.Context(), c.Param("id")); err != nil {
			h.respondError(c, "publish_draft", err)
			return
		}
	}
	result, err := h.publisher.Publish(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		h.respondError(c, "publish_draft", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleHydrateDraft(c *gin.Context) {
	if h.hydrator == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "hydration unavailable", "code": "hydration_unavailable"})
		return
	}
	draft, err := h.hydrator.Hydrate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "hydrate_draft", err)
		return
	}
	c.JSON(http.StatusOK, draft)
}

type linkPayload struct {
	WaypointID string `json:"waypointId"`
}

func (h *httpHandler) handleLinkDraft(c *gin.Context) {
	var payload linkPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid link payload")
		return
	}
	draftID := c.Param("id")
	if _, err := h.drafts.Get(draftID); err != nil {
		h.respondError(c, "link_draft", err)
		return
	}
	if _, err := h.waypoints.Get(payload.WaypointID); err != nil {
		h.respondError(c, "link_draft", err)
		return
	}
	link, err := h.links.Link(c.Request.Context(), payload.WaypointID, localstore.LinkOwner{DraftID: draftID})
	if err != nil {
		h.respondError(c, "link_draft", err)
		return
	}
	c.JSON(http.StatusOK, link)
}
