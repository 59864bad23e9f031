package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/internal/model"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/validator"
)

const callerKey = "caller"

// SetCaller stores the authenticated principal on the request.
func SetCaller(c *gin.Context, caller model.Caller) {
	c.Set(callerKey, caller)
}

// Caller returns the principal set by the auth middleware.
func Caller(c *gin.Context) (model.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return model.Caller{}, false
	}
	caller, ok := v.(model.Caller)
	return caller, ok
}

// MustCaller is Caller for routes behind the auth middleware. It records an
// Unauthorized error and reports false when no caller is present.
func MustCaller(c *gin.Context) (model.Caller, bool) {
	caller, ok := Caller(c)
	if !ok {
		Fail(c, apperrors.Unauthorized("authentication required"))
	}
	return caller, ok
}

// Fail hands err to the error middleware and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParamID parses a uuid path parameter.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Fail(c, apperrors.BadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

// Bind decodes and validates a JSON body.
func Bind(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		Fail(c, apperrors.Validation(validator.Humanize(err).Error()))
		return false
	}
	return true
}
