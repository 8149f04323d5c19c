package handlers

import (
	"errors"
	"net/http"

	"appointqix/services/scheduling"

	"github.com/gin-gonic/gin"
)

// respondSchedulingError maps the scheduling error taxonomy onto HTTP status
// codes. Conflict and capacity failures tell the client to re-query
// availability before retrying.
func respondSchedulingError(c *gin.Context, err error) {
	var valErr *scheduling.ValidationError
	if errors.As(err, &valErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Code, "message": valErr.Message})
		return
	}
	var conflictErr *scheduling.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error": conflictErr.Code, "message": conflictErr.Message,
			"hint": "re-query availability and retry",
		})
		return
	}
	var capErr *scheduling.CapacityError
	if errors.As(err, &capErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error": capErr.Code, "message": capErr.Message,
			"hint": "re-query availability and retry",
		})
		return
	}
	var polErr *scheduling.PolicyError
	if errors.As(err, &polErr) {
		body := gin.H{"error": polErr.Code, "message": polErr.Message}
		if polErr.FeeCents > 0 {
			body["feeCents"] = polErr.FeeCents
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}
	getLogger(c).Error("scheduling request failed: " + err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "infrastructureError", "message": "internal error"})
}
