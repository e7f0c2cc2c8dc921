package security

import (
	"net/http"
	"strings"

	"PChatGate/module/chat/model"
	"PChatGate/tools/errs"
	jwtx "PChatGate/tools/security"

	"github.com/gin-gonic/gin"
)

// —— context key ——
// 后续 handler 统一用这个 key 读取当前用户
const (
	PPCtxUserIDKey = "userId"
	PPCtxAuthKey   = "authorization"
)

type Options struct {
	JWT         jwtx.Options
	HeaderToken string // 默认 "Authorization"，也兼容裸 token
	QueryToken  string // 为空则不读 query
}

func DefaultOptions(jwt jwtx.Options) *Options {
	return &Options{
		JWT:         jwt,
		HeaderToken: "Authorization",
	}
}

// Middleware verifies the bearer credential and stores the caller's user id.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := readToken(c, opts)
		uid, err := jwtx.Verify(opts.JWT, token)
		if err == nil {
			if _, perr := model.ParseID("userId", uid); perr != nil {
				err = errs.ErrUnauthorized.WrapMsg("credential carries a malformed user id")
			}
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.From(err))
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserIDKey, uid)
		c.Next()
	}
}

func readToken(c *gin.Context, opts *Options) string {
	header := opts.HeaderToken
	if header == "" {
		header = "Authorization"
	}
	// 兼容 Authorization: Bearer xxx
	if raw := strings.TrimSpace(c.GetHeader(header)); raw != "" {
		if t := jwtx.BearerToken(raw); t != "" {
			return t
		}
		return raw
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return ""
}

// UserID returns the id set by Middleware; empty when the route is public.
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserIDKey)
}
