package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/couponmesh/registry-node/internal/domain"
)

// envelope is the uniform JSON body for non-paginated responses.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Context any    `json:"context,omitempty"`
}

// Success writes a 200 response with data.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

// Created writes a 201 response with data.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

// BadRequest writes a 400 response with a message.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, envelope{Success: false, Error: message})
}

// Unauthorized writes a 401 response with a message.
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, envelope{Success: false, Error: message})
}

// Paginated writes a 200 response with a data page and total count.
func Paginated(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      data,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Error maps a service error to an HTTP status by its domain category.
// Unrecognized errors become a 500 with a generic message so internals
// never leak to callers.
func Error(c *gin.Context, err error) {
	var domErr *domain.DomainError
	if errors.As(err, &domErr) {
		body := envelope{Success: false, Error: domErr.Message}
		if len(domErr.Context) > 0 {
			body.Context = domErr.Context
		}
		switch {
		case errors.Is(domErr, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, body)
		case errors.Is(domErr, domain.ErrValidation), errors.Is(domErr, domain.ErrInvalidState):
			c.JSON(http.StatusBadRequest, body)
		case errors.Is(domErr, domain.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, body)
		case errors.Is(domErr, domain.ErrConflict):
			c.JSON(http.StatusConflict, body)
		default:
			c.JSON(http.StatusInternalServerError, body)
		}
		return
	}
	c.JSON(http.StatusInternalServerError, envelope{Success: false, Error: "internal server error"})
}
