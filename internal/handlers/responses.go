package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mediakeep/mediakeep/internal/apperrors"
)

type Failure struct {
	Error string `json:"error"`
}

type DownloadStartedResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type AckResponse struct {
	State string `json:"state"`
}

type PartsResponse struct {
	Parts int `json:"parts"`
}

type ClearedResponse struct {
	Removed int64 `json:"removed"`
}

func ResponseSuccess(ctx *gin.Context, data any) {
	ctx.JSON(200, data)
}

func ResponseFailure(ctx *gin.Context, err error) {
	ctx.AbortWithStatusJSON(400, Failure{Error: err.Error()})
}

// ResponseError maps the service error types onto status codes; anything
// unclassified is a 500.
func ResponseError(ctx *gin.Context, err error) {
	switch {
	case apperrors.IsValidation(err):
		ctx.AbortWithStatusJSON(400, Failure{Error: err.Error()})
	case apperrors.IsNotFound(err):
		ctx.AbortWithStatusJSON(404, Failure{Error: err.Error()})
	case apperrors.IsDuplicate(err), apperrors.IsCancelled(err):
		ctx.AbortWithStatusJSON(409, Failure{Error: err.Error()})
	default:
		ctx.AbortWithStatusJSON(500, Failure{Error: err.Error()})
	}
}
