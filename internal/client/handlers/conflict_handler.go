package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	vsync "github.com/openmined/vaultsync/internal/client/sync"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
)

type ConflictHandler struct {
	mgr *vaultmgr.VaultManager
}

func NewConflictHandler(mgr *vaultmgr.VaultManager) *ConflictHandler {
	return &ConflictHandler{mgr: mgr}
}

// List returns the pending conflicts, oldest first, without file bodies.
func (h *ConflictHandler) List(c *gin.Context) {
	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	pending := engine.Conflicts().Pending()
	resp := ConflictsResponse{Conflicts: make([]ConflictItem, 0, len(pending))}
	for _, pc := range pending {
		resp.Conflicts = append(resp.Conflicts, conflictItem(pc, false))
	}
	c.PureJSON(http.StatusOK, &resp)
}

// Get returns one conflict including both bodies when they are text.
func (h *ConflictHandler) Get(c *gin.Context) {
	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	id := c.Param("id")
	pc, found := engine.Conflicts().Get(id)
	if !found {
		AbortWithError(c, http.StatusNotFound, ErrCodeConflictNotFound, fmt.Errorf("%w: %s", vsync.ErrConflictNotFound, id))
		return
	}

	item := conflictItem(pc, true)
	c.PureJSON(http.StatusOK, &item)
}

func (h *ConflictHandler) Resolve(c *gin.Context) {
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	res := vsync.Resolution{
		ConflictID: c.Param("id"),
		Kind:       vsync.ResolutionKind(req.Resolution),
	}
	if req.Content != nil {
		res.Content = []byte(*req.Content)
	}

	err := engine.ResolveConflict(context.WithoutCancel(c.Request.Context()), res)
	switch {
	case err == nil:
	case errors.Is(err, vsync.ErrConflictNotFound):
		AbortWithError(c, http.StatusNotFound, ErrCodeConflictNotFound, err)
		return
	case errors.Is(err, vsync.ErrInvalidResolution), errors.Is(err, vsync.ErrMissingMergeContent):
		AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidResolution, err)
		return
	default:
		// the conflict left the pending set, the file is retried by the next pass
		AbortWithError(c, http.StatusInternalServerError, ErrCodeSyncFailed, fmt.Errorf("resolved but not applied: %w", err))
		return
	}

	c.PureJSON(http.StatusOK, &ResolveConflictResponse{
		Code:       CodeOk,
		ID:         res.ConflictID,
		Resolution: string(res.Kind),
	})
}

func conflictItem(pc vsync.PendingConflict, withContent bool) ConflictItem {
	item := ConflictItem{
		ID:           pc.ID,
		Path:         pc.FilePath,
		RemoteFileID: pc.RemoteFileID,
		Local:        ConflictVersion{Size: pc.Local.Size, LastModified: pc.Local.LastModified},
		Remote:       ConflictVersion{Size: pc.Remote.Size, LastModified: pc.Remote.LastModified},
		DetectedAt:   pc.DetectedAt,
	}
	if !withContent {
		return item
	}

	item.Local.Content = textPtr(pc.Local.Content)
	item.Remote.Content = textPtr(pc.Remote.Content)
	if item.Local.Content != nil && item.Remote.Content != nil {
		merged := string(vsync.MergeContent(pc.Local.Content, pc.Remote.Content))
		item.Merged = &merged
	}
	return item
}

func textPtr(b []byte) *string {
	if b == nil || !utf8.Valid(b) {
		return nil
	}
	s := string(b)
	return &s
}
