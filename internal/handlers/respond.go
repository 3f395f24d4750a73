package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/4xmen/gapchat/internal/apperr"
)

// Translator localizes a response message.
type Translator func(string) string

func (t Translator) orIdentity() Translator {
	if t == nil {
		return func(s string) string { return s }
	}
	return t
}

// respondError writes err as {"error", "code"} with the status of its kind.
func respondError(c *gin.Context, t Translator, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{
		"error": t(apperr.Message(err)),
		"code":  kind.Code(),
	})
}

func badRequest(c *gin.Context, t Translator, msg string) {
	respondError(c, t, apperr.Validation("", msg))
}

// paramID parses a positive int64 path parameter. It writes a 400 and returns
// false when the parameter is malformed.
func paramID(c *gin.Context, t Translator, name, msg string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, t, msg)
		return 0, false
	}
	return id, true
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}
