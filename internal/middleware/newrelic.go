package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicAttributes tags the request's New Relic transaction, started by
// nrgin, with the acting user and the route's trip or ticket id, and
// reports every error a handler attached to the context.
func NewRelicAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if username := Username(c); username != "" {
			txn.AddAttribute("username", username)
		}
		if id := c.Param("id"); id != "" {
			txn.AddAttribute("entity_id", id)
		}

		c.Next()

		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
