package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"leadpilot/internal/campaign"
	"leadpilot/internal/orchestrator"
	"leadpilot/internal/store"
)

// Every response carries the same envelope so clients branch on one
// field.

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var verr *campaign.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	respond(c, http.StatusOK, s.orch.CheckHealth())
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.orch.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, st)
}

func (s *Server) createCampaign(c *gin.Context) {
	var req orchestrator.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &campaign.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	created, err := s.orch.Create(req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, created)
}

func (s *Server) listCampaigns(c *gin.Context) {
	filter := store.CampaignFilter{
		Status:    campaign.Status(c.Query("status")),
		ProjectID: c.Query("project_id"),
	}
	campaigns, err := s.orch.List(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if campaigns == nil {
		campaigns = []*campaign.Campaign{}
	}
	respond(c, http.StatusOK, campaigns)
}

func (s *Server) getCampaign(c *gin.Context) {
	found, err := s.orch.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, found)
}

func (s *Server) updateCampaign(c *gin.Context) {
	var req orchestrator.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &campaign.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	updated, err := s.orch.Update(c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, updated)
}

func (s *Server) deleteCampaign(c *gin.Context) {
	if err := s.orch.Delete(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// triggerCampaign is fire-and-forget: the campaign is checked
// synchronously, the run itself proceeds in the background and lands
// in the run history.
func (s *Server) triggerCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := s.orch.TriggerAsync(id); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("manual run started", zap.String("campaign_id", id))
	respond(c, http.StatusOK, gin.H{"started": true, "campaign_id": id})
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(c, &campaign.ValidationError{
				Field: "limit", Message: "must be a non-negative integer",
			})
			return
		}
		limit = n
	}
	runs, err := s.orch.Runs(c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*campaign.Run{}
	}
	respond(c, http.StatusOK, runs)
}

func (s *Server) spending(c *gin.Context) {
	sp, err := s.orch.Spending(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, sp)
}

func (s *Server) pauseCampaign(c *gin.Context) {
	paused, err := s.orch.Pause(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, paused)
}

func (s *Server) resumeCampaign(c *gin.Context) {
	resumed, err := s.orch.Resume(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, resumed)
}
