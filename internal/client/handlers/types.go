package handlers

import "github.com/gin-gonic/gin"

const (
	CodeOk                   string = "OK"
	ErrCodeBadRequest        string = "ERR_BAD_REQUEST"
	ErrCodeNotFound          string = "ERR_NOT_FOUND"
	ErrCodeUnknownError      string = "ERR_UNKNOWN_ERROR"
	ErrCodeVaultNotReady     string = "ERR_VAULT_NOT_READY"
	ErrCodeSyncFailed        string = "ERR_SYNC_FAILED"
	ErrCodeConflictNotFound  string = "ERR_CONFLICT_NOT_FOUND"
	ErrCodeInvalidResolution string = "ERR_INVALID_RESOLUTION"
	ErrCodeInvalidSettings   string = "ERR_INVALID_SETTINGS"
	ErrCodeUnauthorized      string = "ERR_UNAUTHORIZED"
	ErrCodeRateLimited       string = "ERR_RATE_LIMITED"
)

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
