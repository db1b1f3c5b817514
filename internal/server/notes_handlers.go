package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
	"github.com/MarcoPoloResearchLab/dailydust/internal/notes"
	"github.com/MarcoPoloResearchLab/dailydust/internal/reconcile"
	"github.com/gin-gonic/gin"
)

type notesResponse struct {
	Notes []notes.Note `json:"notes"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	filters, err := parseListFilters(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	pager, err := parsePager(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := h.notes.ListNotes(c.Request.Context(), filters, pager)
	if err != nil {
		h.respondError(c, "list_notes", err)
		return
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(result)})
}

func (h *httpHandler) handleListBoosted(c *gin.Context) {
	pager, err := parsePager(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := h.notes.ListBoosted(c.Request.Context(), pager)
	if err != nil {
		h.respondError(c, "list_boosted", err)
		return
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(result)})
}

func (h *httpHandler) handleListTrending(c *gin.Context) {
	pager, err := parsePager(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := h.notes.ListTrending(c.Request.Context(), pager)
	if err != nil {
		h.respondError(c, "list_trending", err)
		return
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(result)})
}

func (h *httpHandler) handleListNear(c *gin.Context) {
	values := make([]int64, 0, 4)
	for _, name := range []string{"x", "y", "z", "radius"} {
		value, err := requiredInt(c, name)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		values = append(values, value)
	}
	if values[3] < 0 {
		badRequest(c, "radius must not be negative")
		return
	}
	result, err := h.notes.ListNotesNear(c.Request.Context(), values[0], values[1], values[2], values[3])
	if err != nil {
		h.respondError(c, "list_notes_near", err)
		return
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(result)})
}

// handleListPublished merges the indexer view with notes published from this instance
// that the indexer has not caught up with yet.
func (h *httpHandler) handleListPublished(c *gin.Context) {
	owner := strings.ToLower(strings.TrimSpace(c.Query("owner")))
	pager, err := parsePager(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	onChain, err := h.notes.ListNotes(c.Request.Context(), notes.ListFilters{Owner: owner}, pager)
	if err != nil {
		h.respondError(c, "list_published", err)
		return
	}
	local, err := h.localNotes.Published()
	if err != nil {
		h.respondError(c, "list_published", err)
		return
	}
	if owner != "" {
		owned := make([]localstore.LocalNote, 0, len(local))
		for _, note := range local {
			if note.Owner == owner {
				owned = append(owned, note)
			}
		}
		local = owned
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(reconcile.MergePublished(onChain, local))})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.notes.GetNoteByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get_note", err)
		return
	}
	if note == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found", "code": codeNotFound})
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleGetRoutes(c *gin.Context) {
	groups, err := h.notes.GetRoutesForNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get_routes", err)
		return
	}
	if groups == nil {
		groups = []notes.WaypointGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func parseListFilters(c *gin.Context) (notes.ListFilters, error) {
	filters := notes.ListFilters{
		Owner:  strings.TrimSpace(c.Query("owner")),
		Tag:    strings.TrimSpace(c.Query("tag")),
		Search: strings.TrimSpace(c.Query("q")),
	}
	from, err := optionalInt(c, "from")
	if err != nil {
		return notes.ListFilters{}, err
	}
	to, err := optionalInt(c, "to")
	if err != nil {
		return notes.ListFilters{}, err
	}
	filters.UpdatedFrom, filters.UpdatedTo = from, to
	if raw := strings.TrimSpace(c.Query("boosted")); raw != "" {
		boosted, err := strconv.ParseBool(raw)
		if err != nil {
			return notes.ListFilters{}, errInvalidQuery("boosted")
		}
		filters.BoostedOnly = boosted
	}
	return filters, nil
}

func parsePager(c *gin.Context) (notes.Pager, error) {
	limit, err := optionalInt(c, "limit")
	if err != nil {
		return notes.Pager{}, err
	}
	offset, err := optionalInt(c, "offset")
	if err != nil {
		return notes.Pager{}, err
	}
	pager := notes.Pager{}
	if limit != nil {
		pager.Limit = *limit
	}
	if offset != nil {
		pager.Offset = *offset
	}
	return pager, nil
}

type queryError string

func (e queryError) Error() string {
	return "invalid query parameter " + string(e)
}

func errInvalidQuery(name string) error {
	return queryError(name)
}

func optionalInt(c *gin.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errInvalidQuery(name)
	}
	return &value, nil
}

func requiredInt(c *gin.Context, name string) (int64, error) {
	value, err := optionalInt(c, name)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, errInvalidQuery(name)
	}
	return *value, nil
}

func nonNilNotes(values []notes.Note) []notes.Note {
	if values == nil {
		return []notes.Note{}
	}
	return values
}
