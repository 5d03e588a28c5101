package middleware

import (
	"net/http"
	"strings"

	"autoflow/internal/config"

	"github.com/gin-gonic/gin"
)

const (
	anyOrigin             = "*"
	defaultAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	defaultAllowedHeaders = "authorization, x-client-info, apikey, content-type"
)

// CORS 跨域中间件；预检请求直接返回 204
// 配置了来源白名单时，只回显命中白名单的 Origin
func CORS(cfg *config.Config) gin.HandlerFunc {
	allowAny := true
	allowed := map[string]bool{}
	allowedMethods := defaultAllowedMethods
	allowedHeaders := defaultAllowedHeaders
	if cfg != nil && cfg.Security.CORS.Enabled {
		for _, o := range cfg.Security.CORS.AllowedOrigins {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			if o == anyOrigin {
				allowAny = true
				break
			}
			allowAny = false
			allowed[o] = true
		}
		if len(cfg.Security.CORS.AllowedMethods) > 0 {
			allowedMethods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
		}
		if len(cfg.Security.CORS.AllowedHeaders) > 0 {
			allowedHeaders = strings.Join(cfg.Security.CORS.AllowedHeaders, ", ")
		}
	}
	return func(c *gin.Context) {
		if allowAny {
			c.Header("Access-Control-Allow-Origin", anyOrigin)
		} else {
			c.Header("Vary", "Origin")
			if origin := c.GetHeader("Origin"); allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
