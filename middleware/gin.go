package middleware

import (
	"github.com/MrEthical07/cardauth"
	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the resolved [cardauth.Principal].
const PrincipalKey = "cardauth.principal"

// GinHandler renders g as gin middleware. Authorized requests continue with the
// principal both in the request context and under [PrincipalKey].
func GinHandler(g *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Evaluate(c.Request)
		if d.Outcome != OutcomeAllow {
			g.Write(c.Writer, c.Request, d)
			c.Abort()
			return
		}

		writeRateHeaders(c.Writer.Header(), d)
		c.Request = c.Request.WithContext(g.Attach(c.Request.Context(), c.Request, d))
		if d.Authenticated() {
			c.Set(PrincipalKey, d.Principal)
		}
		c.Next()
	}
}

// GinPrincipal returns the principal stored by [GinHandler].
func GinPrincipal(c *gin.Context) (cardauth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return cardauth.Principal{}, false
	}
	p, ok := v.(cardauth.Principal)
	return p, ok && p.ID != ""
}
