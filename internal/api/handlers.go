package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/slackreports/internal/aggregate"
	"github.com/slackreports/internal/chunker"
	"github.com/slackreports/internal/taskstore"
	"github.com/slackreports/pkg/models"
)

type rangeRequest struct {
	ChannelID string `json:"channel_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type topRepliersRequest struct {
	rangeRequest
	Top any `json:"top"`
}

type summarizeRequest struct {
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts"`
	Model     string `json:"model"`
}

type taskCreated struct {
	TaskID string `json:"task_id"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// validate checks the channel and the date range
func (r *rangeRequest) validate() error {
	r.ChannelID = strings.TrimSpace(r.ChannelID)
	if r.ChannelID == "" {
		return errors.New("channel_id is required")
	}
	_, _, err := chunker.ParseRange(r.StartDate, r.EndDate)
	return err
}

func (s *Server) home(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Slack reports API. POST /fetch-messages, /top-repliers or /summarize-thread, then poll GET /task-status/{task_id}.",
	})
}

func (s *Server) fetchMessages(c echo.Context) error {
	var req rangeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	id, err := s.queue.EnqueueFetchMessages(c.Request().Context(), req.ChannelID, req.StartDate, req.EndDate)
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue fetch task")
		return errorJSON(c, http.StatusInternalServerError, "failed to queue task")
	}
	return c.JSON(http.StatusAccepted, taskCreated{TaskID: id})
}

func (s *Server) topRepliers(c echo.Context) error {
	var req topRepliersRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	topN := aggregate.ValidateTopN(req.Top)
	id, err := s.queue.EnqueueTopRepliers(c.Request().Context(), req.ChannelID, req.StartDate, req.EndDate, topN)
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue top-repliers task")
		return errorJSON(c, http.StatusInternalServerError, "failed to queue task")
	}
	return c.JSON(http.StatusAccepted, taskCreated{TaskID: id})
}

func (s *Server) summarizeThread(c echo.Context) error {
	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	req.ThreadTS = strings.TrimSpace(req.ThreadTS)
	if req.ChannelID == "" {
		return errorJSON(c, http.StatusBadRequest, "channel_id is required")
	}
	if _, err := models.PostTime(req.ThreadTS); err != nil {
		return errorJSON(c, http.StatusBadRequest, "thread_ts must be a message timestamp")
	}
	switch strings.ToLower(req.Model) {
	case "", "openai", "ollama":
	default:
		return errorJSON(c, http.StatusBadRequest, "model must be openai or ollama")
	}

	id, err := s.queue.EnqueueSummarizeThread(c.Request().Context(), req.ChannelID, req.ThreadTS, req.Model)
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue summary task")
		return errorJSON(c, http.StatusInternalServerError, "failed to queue task")
	}
	return c.JSON(http.StatusAccepted, taskCreated{TaskID: id})
}

func (s *Server) taskStatus(c echo.Context) error {
	status, err := s.statuses.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "task not found")
		}
		log.Error().Err(err).Str("task_id", c.Param("id")).Msg("Failed to load task")
		return errorJSON(c, http.StatusInternalServerError, "failed to load task")
	}

	switch status.State {
	case models.TaskSuccess:
		return c.JSON(http.StatusOK, status)
	case models.TaskFailure:
		return c.JSON(http.StatusInternalServerError, status)
	default:
		return c.JSON(http.StatusAccepted, status)
	}
}
