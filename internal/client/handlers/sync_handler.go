package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vaultsync/internal/client/index"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/openmined/vaultsync/internal/utils"
)

type SyncHandler struct {
	mgr *vaultmgr.VaultManager
}

func NewSyncHandler(mgr *vaultmgr.VaultManager) *SyncHandler {
	return &SyncHandler{mgr: mgr}
}

// TriggerSync runs a full vault pass and returns its summary. It waits for a
// pass that is already running. A partly failed pass is still a 200, the
// summary carries the per file errors.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	// a client hanging up must not abort the pass half way
	summary := engine.SyncVault(context.WithoutCancel(c.Request.Context()))

	c.PureJSON(http.StatusOK, &SyncResponse{
		Success:         summary.Success,
		UploadedFiles:   summary.UploadedFiles,
		DownloadedFiles: summary.DownloadedFiles,
		Conflicts:       summary.Conflicts,
		SkippedFiles:    summary.SkippedFiles,
		Errors:          summary.Errors,
		DurationMs:      summary.Duration.Milliseconds(),
	})
}

func (h *SyncHandler) Reconcile(c *gin.Context) {
	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	res, err := engine.Reconcile(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeSyncFailed, err)
		return
	}

	c.PureJSON(http.StatusOK, &ReconcileResponse{
		Uploaded:       res.Uploaded,
		FoldersAdded:   res.FoldersAdded,
		FoldersRemoved: res.FoldersRemoved,
		StaleRemoved:   res.StaleRemoved,
		Failed:         res.Failed,
	})
}

func (h *SyncHandler) CheckRemote(c *gin.Context) {
	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	res, err := engine.CheckRemote(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeSyncFailed, err)
		return
	}

	c.PureJSON(http.StatusOK, &RemoteCheckResponse{
		Checked:    res.Checked,
		Downloaded: res.Downloaded,
		Conflicts:  res.Conflicts,
		Skipped:    res.Skipped,
		Errors:     res.Errors,
	})
}

// Files lists the tracked files, optionally below a folder prefix.
func (h *SyncHandler) Files(c *gin.Context) {
	var req SyncFilesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	prefix := utils.NormPath(req.Prefix)

	idx := engine.Index()
	resp := SyncFilesResponse{Files: []SyncFileStatus{}}
	for _, p := range idx.FilePaths() {
		if prefix != "" && p != prefix && !utils.HasPathPrefix(p, prefix) {
			continue
		}
		rec, ok := idx.GetFile(p)
		if !ok {
			continue
		}
		st := fileStatus(rec, engine.Conflicts().HasPath(p))
		switch st.State {
		case FileStateSynced:
			resp.Summary.Synced++
		case FileStatePending:
			resp.Summary.Pending++
		case FileStateError:
			resp.Summary.Error++
		case FileStateConflict:
			resp.Summary.Conflict++
		}
		resp.Files = append(resp.Files, st)
	}

	c.PureJSON(http.StatusOK, &resp)
}

// FileStatus returns the index entry of one file.
func (h *SyncHandler) FileStatus(c *gin.Context) {
	var req SyncFileRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("path is required"))
		return
	}

	engine, ok := requireEngine(c, h.mgr)
	if !ok {
		return
	}

	p := utils.NormPath(req.Path)
	rec, found := engine.Index().GetFile(p)
	if !found {
		AbortWithError(c, http.StatusNotFound, ErrCodeNotFound, errors.New("path not tracked"))
		return
	}

	st := fileStatus(rec, engine.Conflicts().HasPath(p))
	c.PureJSON(http.StatusOK, &st)
}

func fileStatus(rec index.FileRecord, conflicted bool) SyncFileStatus {
	st := SyncFileStatus{
		Path:          rec.Path,
		RemoteFileID:  rec.RemoteFileID,
		Size:          rec.LastSyncedSize,
		SyncCount:     rec.SyncCount,
		ConflictCount: rec.ConflictCount,
		Error:         rec.LastError,
	}
	if rec.LastSyncedTime > 0 {
		st.LastSynced = timePtr(time.UnixMilli(rec.LastSyncedTime))
	}
	if last, ok := rec.History.Latest(); ok {
		st.LastOperation = string(last.Operation)
	}

	switch {
	case conflicted:
		st.State = FileStateConflict
	case rec.LastError != "":
		st.State = FileStateError
	case rec.IsSentinel():
		st.State = FileStatePending
	default:
		st.State = FileStateSynced
	}
	return st
}
