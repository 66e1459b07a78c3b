package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/bibswap/swapchat/internal/convo"
	"github.com/gin-gonic/gin"
)

var httpCodes = map[convo.ErrorCode]int{
	convo.CodeUnauthorized:           http.StatusForbidden,
	convo.CodeNotFound:               http.StatusNotFound,
	convo.CodeBlocked:                http.StatusConflict,
	convo.CodeValidation:             http.StatusBadRequest,
	convo.CodeTransientStore:         http.StatusServiceUnavailable,
	convo.CodeTranslationUnavailable: http.StatusServiceUnavailable,
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// fail writes err as a JSON error. Unclassified errors become 500 and their
// text stays in the log.
func fail(c *gin.Context, err error) {
	var ce *convo.Error
	if errors.As(err, &ce) {
		status, ok := httpCodes[ce.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		msg := ce.Reason
		if msg == "" {
			msg = string(ce.Code)
		}
		abort(c, status, string(ce.Code), msg)
		return
	}
	_ = c.Error(err)
	if errors.Is(err, context.DeadlineExceeded) {
		abort(c, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
		return
	}
	abort(c, http.StatusInternalServerError, "INTERNAL", "internal error")
}
