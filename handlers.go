package main

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/fieldfocus/fieldops_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("fieldops-backend")

// errorResponse maps domain errors onto HTTP statuses. Shortfall errors are
// 409 so clients can distinguish "fix your request" from "not enough stock,
// decide whether to override".
func errorResponse(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var insufficientErr *models.InsufficientStock
	var overAllocErr *models.OverAllocation
	var overConsumeErr *models.OverConsumption
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"available": insufficientErr.Available,
			"requested": insufficientErr.Requested,
		})
	case errors.As(err, &overAllocErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":           err.Error(),
			"required":        overAllocErr.Required,
			"attempted_total": overAllocErr.AttemptedTotal,
		})
	case errors.As(err, &overConsumeErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":           err.Error(),
			"allocated":       overConsumeErr.Allocated,
			"attempted_total": overConsumeErr.AttemptedTotal,
		})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// bindingErrorResponse renders request-binding failures. Validator failures
// come back as a field-to-rule map so the client sees which fields to fix.
func bindingErrorResponse(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid request",
			"fields": utils.ProcessValidationErrors(validationErrors),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func requestActor(c *gin.Context) (models.Actor, bool) {
	actor, err := models.ActorFromContext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return models.Actor{}, false
	}
	return actor, true
}

func createItemHandler(c *gin.Context) {
	var input models.NewItem
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	item, err := models.CreateItem(c.Request.Context(), &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func updateItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewItem
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	item, err := models.UpdateItem(c.Request.Context(), id, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func getItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	item, err := models.GetItem(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func listItemHandler(c *gin.Context) {
	var name *string
	if v := strings.TrimSpace(c.Query("name")); v != "" {
		name = &v
	}
	items, err := models.ListItem(c.Request.Context(), name)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func toggleItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	isActive := c.Query("active") != "false"
	item, err := models.ToggleActiveItem(c.Request.Context(), id, isActive)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func createLocationHandler(c *gin.Context) {
	var input models.NewLocation
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	location, err := models.CreateLocation(c.Request.Context(), &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, location)
}

func updateLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewLocation
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	location, err := models.UpdateLocation(c.Request.Context(), id, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

func deleteLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	location, err := models.DeleteLocation(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

func getLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	location, err := models.GetLocation(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

func listLocationHandler(c *gin.Context) {
	// physical=true narrows to locations that count toward on-hand; this is
	// what transfer and receipt dropdowns consume.
	if c.Query("physical") == "true" {
		locations, err := models.ListPhysicalLocations(c.Request.Context())
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, locations)
		return
	}
	var name *string
	if v := strings.TrimSpace(c.Query("name")); v != "" {
		name = &v
	}
	locations, err := models.ListLocation(c.Request.Context(), name)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, locations)
}

func toggleLocationHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	isActive := c.Query("active") != "false"
	location, err := models.ToggleActiveLocation(c.Request.Context(), id, isActive)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

func itemIdQuery(c *gin.Context) (int, bool) {
	itemId, err := strconv.Atoi(c.Query("item_id"))
	if err != nil || itemId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id is required"})
		return 0, false
	}
	return itemId, true
}

func onHandHandler(c *gin.Context) {
	itemId, ok := itemIdQuery(c)
	if !ok {
		return
	}
	if v := c.Query("location_id"); v != "" {
		locationId, err := strconv.Atoi(v)
		if err != nil || locationId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_id"})
			return
		}
		qty, err := models.GetQuantity(c.Request.Context(), itemId, locationId)
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item_id": itemId, "location_id": locationId, "qty": qty})
		return
	}
	qty, err := models.OnHand(c.Request.Context(), itemId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemId, "on_hand": qty})
}

func inboundHandler(c *gin.Context) {
	itemId, ok := itemIdQuery(c)
	if !ok {
		return
	}
	qty, err := models.InboundQty(c.Request.Context(), itemId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemId, "inbound": qty})
}

func listQuantitiesHandler(c *gin.Context) {
	var itemId *int
	if v := c.Query("item_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item_id"})
			return
		}
		itemId = &id
	}
	quantities, err := models.ListQuantities(c.Request.Context(), itemId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, quantities)
}

func movementHistoryHandler(c *gin.Context) {
	itemId, ok := itemIdQuery(c)
	if !ok {
		return
	}
	var locationId *int
	if v := c.Query("location_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_id"})
			return
		}
		locationId = &id
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	movements, err := models.MovementHistory(c.Request.Context(), itemId, locationId, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func receiptHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	var input workflow.ReceiptInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	movement, err := workflow.RecordReceipt(c.Request.Context(), config.GetLogger(), actor, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func transferHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	var input workflow.TransferInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	movement, err := workflow.RecordTransfer(c.Request.Context(), config.GetLogger(), actor, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func adjustmentHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	var input workflow.AdjustmentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	movement, err := workflow.RecordAdjustment(c.Request.Context(), config.GetLogger(), actor, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func createRequirementHandler(c *gin.Context) {
	var input models.NewRequirementLine
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	line, err := models.CreateRequirementLine(c.Request.Context(), &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func updateRequirementHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewRequirementLine
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	line, err := models.UpdateRequirementLine(c.Request.Context(), id, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func removeRequirementHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	line, err := models.RemoveRequirementLine(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func listRequirementsHandler(c *gin.Context) {
	projectId, ok := pathId(c)
	if !ok {
		return
	}
	lines, err := models.ListRequirementLines(c.Request.Context(), projectId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

func readinessHandler(c *gin.Context) {
	projectId, ok := pathId(c)
	if !ok {
		return
	}
	report, err := workflow.ProjectReadiness(c.Request.Context(), projectId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func allocateHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	var input workflow.AllocateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	allocation, err := workflow.Allocate(c.Request.Context(), config.GetLogger(), actor, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, allocation)
}

type advanceAllocationRequest struct {
	Status string `json:"status" binding:"required"`
}

func advanceAllocationHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req advanceAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	allocation, err := workflow.AdvanceAllocation(c.Request.Context(), config.GetLogger(), actor, id, models.AllocationStatus(req.Status))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, allocation)
}

func listAllocationsHandler(c *gin.Context) {
	jobId, ok := pathId(c)
	if !ok {
		return
	}
	allocations, err := models.ListAllocationsByJob(c.Request.Context(), jobId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, allocations)
}

func consumeHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	var input workflow.ConsumeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	consumption, err := workflow.ConsumeStock(c.Request.Context(), config.GetLogger(), actor, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, consumption)
}

func listConsumptionsHandler(c *gin.Context) {
	jobId, ok := pathId(c)
	if !ok {
		return
	}
	consumptions, err := models.ListConsumptionsByJob(c.Request.Context(), jobId)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, consumptions)
}

func dispatchRunHandler(c *gin.Context) {
	actor, ok := requestActor(c)
	if !ok {
		return
	}
	var input workflow.RunDispatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	run, created, err := workflow.GetOrCreateRun(c.Request.Context(), config.GetLogger(), actor, &input)
	if err != nil {
		errorResponse(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"run": run, "created": created})
}

func getRunHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	run, err := models.GetLogisticsRun(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func findRunByIntentHandler(c *gin.Context) {
	intentKey := strings.TrimSpace(c.Query("intent_key"))
	if intentKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent_key is required"})
		return
	}
	run, err := models.FindRunByIntentKey(c.Request.Context(), intentKey)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func reconcileHandler(c *gin.Context) {
	isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
	if !isAdmin {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx, span := tracer.Start(c.Request.Context(), "reconcile-quantities")
	defer span.End()
	mismatches, err := workflow.ReconcileQuantities(ctx, config.GetLogger())
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mismatches": mismatches,
		"clean":      len(mismatches) == 0,
	})
}

type devTokenRequest struct {
	UserId     int    `json:"user_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email"`
	BusinessId string `json:"business_id" binding:"required"`
	Role       string `json:"role"`
}

// devTokenHandler mints a signed token for local testing. Disabled in
// production.
func devTokenHandler(c *gin.Context) {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
		return
	}
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingErrorResponse(c, err)
		return
	}
	token, err := utils.JwtGenerate(req.UserId, req.Name, req.Email, req.BusinessId, req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
