package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/warriorguo/ensemble/types"
)

const (
	maxDefinitionSize = 1 << 20
)

type WorkflowSummary struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Status    types.WorkflowState `json:"status"`
	Canceled  bool                `json:"canceled,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

type SubmitResponse struct {
	ID string `json:"id"`
}

func summaryOf(w *types.WorkflowStatus) WorkflowSummary {
	return WorkflowSummary{
		ID:        w.ID,
		Name:      w.Name,
		Status:    w.Status,
		Canceled:  w.Canceled,
		CreatedAt: w.CreatedAt,
	}
}

func ListWorkflowsHandler(o types.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		workflows, err := o.ListWorkflows(c.Request().Context())
		if err != nil {
			return httpError(err)
		}

		summaries := make([]WorkflowSummary, 0, len(workflows))
		for _, w := range workflows {
			summaries = append(summaries, summaryOf(w))
		}
		return c.JSON(http.StatusOK, summaries)
	}
}

func GetWorkflowHandler(o types.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		w, err := o.GetWorkflow(c.Request().Context(), c.Param("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, w)
	}
}

func RenderWorkflowHandler(o types.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		dot, err := o.RenderWorkflow(c.Request().Context(), c.Param("id"))
		if err != nil {
			return httpError(err)
		}
		return c.Blob(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(dot))
	}
}

// SubmitWorkflowHandler takes the YAML definition as request body and an
// optional workflow id as the "id" query parameter.
func SubmitWorkflowHandler(o types.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionSize+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, ErrorResponse{
				Message: ErrorMessage{Reason: "cannot read request body"},
			}).SetInternal(err)
		}
		if len(body) > maxDefinitionSize {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, ErrorResponse{
				Message: ErrorMessage{Reason: "workflow definition is too large"},
			})
		}

		id, err := o.Submit(c.Request().Context(), c.QueryParam("id"), body)
		if err != nil {
			return httpError(err)
		}
		c.Response().Header().Set(echo.HeaderLocation, "/workflows/"+id)
		return c.JSON(http.StatusCreated, SubmitResponse{ID: id})
	}
}

func CancelWorkflowHandler(o types.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := o.CancelWorkflow(c.Request().Context(), id); err != nil {
			return httpError(err)
		}
		w, err := o.GetWorkflow(c.Request().Context(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, summaryOf(w))
	}
}
