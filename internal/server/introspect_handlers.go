package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/ledger"
)

// accessVisibility tells a caller whose resources they can see. Clients
// use it to scope pickers without probing individual projects.
func (s *Server) accessVisibility(c *gin.Context) {
	vis, err := s.resolver.VisibleUserIDs(c.Request.Context(), identityFrom(c))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	userIDs := vis.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"unbounded": vis.Unbounded,
		"user_ids":  userIDs,
	})
}

func (s *Server) listLedger(c *gin.Context) {
	filter := ledger.Filter{
		Operation: c.Query("operation"),
		Limit:     intQuery(c, "limit", 100),
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondErr(c, s.logger, errors.Preconditionf("invalid %s timestamp %q", name, v))
			return
		}
		*dst = t
	}

	records, err := s.costs.List(c.Request.Context(), filter)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
