// Package api exposes the flow engine over HTTP.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"hrplatform/backend/internal/auth"
	"hrplatform/backend/internal/repository"
	"hrplatform/backend/internal/services"
	"hrplatform/backend/pkg/models"
)

// FlowHandler wires the flow services into Echo routes.
type FlowHandler struct {
	definitions *services.DefinitionService
	versions    *services.VersionService
	steps       *services.StepService
	execution   *services.ExecutionService
}

// NewFlowHandler creates a new FlowHandler.
func NewFlowHandler(definitions *services.DefinitionService, versions *services.VersionService, steps *services.StepService, execution *services.ExecutionService) *FlowHandler {
	return &FlowHandler{
		definitions: definitions,
		versions:    versions,
		steps:       steps,
		execution:   execution,
	}
}

// Register mounts all flow routes on the given group. The group is expected
// to carry the auth middleware.
func (h *FlowHandler) Register(g *echo.Group) {
	g.POST("/definitions", h.createDefinition)
	g.GET("/definitions", h.listDefinitions)
	g.GET("/definitions/:id", h.getDefinition)
	g.GET("/definitions/type/:flowType", h.getDefinitionByType)
	g.PATCH("/definitions/:id", h.updateDefinition)
	g.DELETE("/definitions/:id", h.deleteDefinition)
	g.POST("/definitions/:id/activate", h.activateDefinition)
	g.POST("/definitions/:id/deactivate", h.deactivateDefinition)

	g.POST("/definitions/:id/versions", h.createVersion)
	g.GET("/definitions/:id/versions", h.listVersions)
	g.GET("/definitions/:id/active-version", h.activeVersion)
	g.GET("/types/:flowType/active-version", h.activeVersionByType)
	g.GET("/versions/:id", h.getVersion)
	g.POST("/versions/:id/publish", h.publishVersion)
	g.POST("/versions/:id/archive", h.archiveVersion)
	g.DELETE("/versions/:id", h.deleteVersion)

	g.POST("/versions/:id/steps", h.createStep)
	g.GET("/versions/:id/steps", h.listSteps)
	g.POST("/versions/:id/steps/reorder", h.reorderSteps)
	g.GET("/versions/:id/next-step-order", h.nextStepOrder)
	g.GET("/steps/:id", h.getStep)
	g.PATCH("/steps/:id", h.updateStep)
	g.DELETE("/steps/:id", h.deleteStep)

	g.POST("/execute", h.startFlow)
	g.GET("/instances", h.listInstances)
	g.GET("/instances/:id", h.getInstance)
	g.GET("/instances/:id/current-step", h.currentStep)
	g.GET("/instances/:id/steps", h.instanceSteps)
	g.POST("/instances/:id/submit-step", h.submitStep)
	g.POST("/instances/:id/cancel", h.cancelInstance)
	g.POST("/instances/:id/complete", h.completeInstance)
	g.GET("/step-instances/:id", h.getStepInstance)
	g.POST("/step-instances/:id/assign", h.assignStep)
}

func (h *FlowHandler) createDefinition(c echo.Context) error {
	id := auth.FromContext(c)
	var in services.CreateDefinitionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	def, err := h.definitions.Create(c.Request().Context(), id.TenantID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, def)
}

func (h *FlowHandler) listDefinitions(c echo.Context) error {
	id := auth.FromContext(c)
	defs, err := h.definitions.FindAll(c.Request().Context(), id.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, defs)
}

func (h *FlowHandler) getDefinition(c echo.Context) error {
	id := auth.FromContext(c)
	def, err := h.definitions.FindOne(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (h *FlowHandler) getDefinitionByType(c echo.Context) error {
	id := auth.FromContext(c)
	def, err := h.definitions.FindByType(c.Request().Context(), id.TenantID, c.Param("flowType"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (h *FlowHandler) updateDefinition(c echo.Context) error {
	id := auth.FromContext(c)
	var in services.UpdateDefinitionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	def, err := h.definitions.Update(c.Request().Context(), id.TenantID, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (h *FlowHandler) deleteDefinition(c echo.Context) error {
	id := auth.FromContext(c)
	if err := h.definitions.Remove(c.Request().Context(), id.TenantID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *FlowHandler) activateDefinition(c echo.Context) error {
	id := auth.FromContext(c)
	def, err := h.definitions.Activate(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (h *FlowHandler) deactivateDefinition(c echo.Context) error {
	id := auth.FromContext(c)
	def, err := h.definitions.Deactivate(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (h *FlowHandler) createVersion(c echo.Context) error {
	id := auth.FromContext(c)
	version, err := h.versions.Create(c.Request().Context(), id.TenantID, id.UserID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, version)
}

func (h *FlowHandler) listVersions(c echo.Context) error {
	id := auth.FromContext(c)
	versions, err := h.versions.FindAll(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, versions)
}

func (h *FlowHandler) getVersion(c echo.Context) error {
	id := auth.FromContext(c)
	version, err := h.versions.FindOne(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, version)
}

func (h *FlowHandler) publishVersion(c echo.Context) error {
	id := auth.FromContext(c)
	var in struct {
		ArchiveOldVersion *bool `json:"archive_old_version"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// archiving the previous version is the default; callers opt out
	archiveOld := true
	if in.ArchiveOldVersion != nil {
		archiveOld = *in.ArchiveOldVersion
	}
	version, err := h.versions.Publish(c.Request().Context(), id.TenantID, c.Param("id"), archiveOld)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, version)
}

func (h *FlowHandler) archiveVersion(c echo.Context) error {
	id := auth.FromContext(c)
	version, err := h.versions.Archive(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, version)
}

func (h *FlowHandler) deleteVersion(c echo.Context) error {
	id := auth.FromContext(c)
	if err := h.versions.Remove(c.Request().Context(), id.TenantID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *FlowHandler) activeVersion(c echo.Context) error {
	id := auth.FromContext(c)
	version, err := h.versions.ActiveVersion(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, version)
}

func (h *FlowHandler) activeVersionByType(c echo.Context) error {
	id := auth.FromContext(c)
	version, err := h.versions.ActiveVersionByType(c.Request().Context(), id.TenantID, c.Param("flowType"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, version)
}

func (h *FlowHandler) createStep(c echo.Context) error {
	id := auth.FromContext(c)
	var in services.CreateStepInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in.FlowVersionID = c.Param("id")
	step, err := h.steps.CreateStep(c.Request().Context(), id.TenantID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, step)
}

func (h *FlowHandler) listSteps(c echo.Context) error {
	id := auth.FromContext(c)
	steps, err := h.steps.StepsForVersion(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

func (h *FlowHandler) getStep(c echo.Context) error {
	id := auth.FromContext(c)
	step, err := h.steps.FindOne(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (h *FlowHandler) updateStep(c echo.Context) error {
	id := auth.FromContext(c)
	var in services.UpdateStepInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	step, err := h.steps.UpdateStep(c.Request().Context(), id.TenantID, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (h *FlowHandler) deleteStep(c echo.Context) error {
	id := auth.FromContext(c)
	if err := h.steps.DeleteStep(c.Request().Context(), id.TenantID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *FlowHandler) reorderSteps(c echo.Context) error {
	id := auth.FromContext(c)
	var in struct {
		Steps []services.StepOrderInput `json:"steps"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	steps, err := h.steps.ReorderSteps(c.Request().Context(), id.TenantID, c.Param("id"), in.Steps)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

func (h *FlowHandler) nextStepOrder(c echo.Context) error {
	id := auth.FromContext(c)
	next, err := h.steps.NextStepOrder(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"next_step_order": next})
}

func (h *FlowHandler) startFlow(c echo.Context) error {
	id := auth.FromContext(c)
	var in struct {
		FlowType   string  `json:"flow_type"`
		EntityID   *string `json:"entity_id"`
		EntityType *string `json:"entity_type"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.FlowType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow_type is required")
	}
	inst, err := h.execution.StartFlow(c.Request().Context(), id.TenantID, in.FlowType, id.UserID, in.EntityID, in.EntityType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *FlowHandler) listInstances(c echo.Context) error {
	id := auth.FromContext(c)
	var filter repository.InstanceFilter
	if v := c.QueryParam("flow_type"); v != "" {
		filter.FlowType = &v
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.FlowInstanceStatus(v)
		filter.Status = &status
	}
	if v := c.QueryParam("initiated_by"); v != "" {
		filter.InitiatedBy = &v
	}
	if v := c.QueryParam("entity_type"); v != "" {
		filter.EntityType = &v
	}
	if v := c.QueryParam("entity_id"); v != "" {
		filter.EntityID = &v
	}
	instances, err := h.execution.FindAll(c.Request().Context(), id.TenantID, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instances)
}

func (h *FlowHandler) getInstance(c echo.Context) error {
	id := auth.FromContext(c)
	inst, err := h.execution.GetFlowInstance(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *FlowHandler) currentStep(c echo.Context) error {
	id := auth.FromContext(c)
	step, err := h.execution.CurrentStep(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (h *FlowHandler) instanceSteps(c echo.Context) error {
	id := auth.FromContext(c)
	steps, err := h.execution.GetFlowSteps(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

func (h *FlowHandler) submitStep(c echo.Context) error {
	id := auth.FromContext(c)
	var in struct {
		StepInstanceID string         `json:"step_instance_id"`
		Data           map[string]any `json:"data"`
		Comments       *string        `json:"comments"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.StepInstanceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "step_instance_id is required")
	}
	inst, err := h.execution.SubmitStep(c.Request().Context(), id.TenantID, c.Param("id"), in.StepInstanceID, id.UserID, in.Data, in.Comments)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *FlowHandler) cancelInstance(c echo.Context) error {
	id := auth.FromContext(c)
	inst, err := h.execution.CancelFlow(c.Request().Context(), id.TenantID, c.Param("id"), id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *FlowHandler) completeInstance(c echo.Context) error {
	id := auth.FromContext(c)
	inst, err := h.execution.CompleteFlow(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *FlowHandler) getStepInstance(c echo.Context) error {
	id := auth.FromContext(c)
	step, err := h.execution.GetStepInstance(c.Request().Context(), id.TenantID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (h *FlowHandler) assignStep(c echo.Context) error {
	id := auth.FromContext(c)
	var in struct {
		AssignedTo string `json:"assigned_to"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.AssignedTo == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "assigned_to is required")
	}
	step, err := h.execution.AssignStep(c.Request().Context(), id.TenantID, c.Param("id"), in.AssignedTo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}
