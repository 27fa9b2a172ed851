package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/repository"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: message})
}

// HandleRepositoryError maps storage errors to HTTP responses.
func HandleRepositoryError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "Not found")
		return
	}
	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled internal server error")
	abortWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
}
