package models_test

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestAllocationConsumptionAndDispatch(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	logger := logrus.New()
	actor := models.Actor{Id: 2, Name: "Dispatcher Dana"}

	item, err := models.CreateItem(ctx, &models.NewItem{Sku: "PNL-SOLAR", Name: "Solar Panel", Unit: "pcs"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	warehouse, err := models.CreateLocation(ctx, &models.NewLocation{Name: "Depot", Type: "warehouse"})
	if err != nil {
		t.Fatalf("CreateLocation: %v", err)
	}
	if _, err := workflow.RecordReceipt(ctx, logger, actor, &workflow.ReceiptInput{
		ItemId:     item.ID,
		LocationId: warehouse.ID,
		Qty:        decimal.NewFromInt(50),
	}); err != nil {
		t.Fatalf("RecordReceipt: %v", err)
	}

	const projectId = 301
	const jobId = 88

	// Requirement: 10 panels, blocking.
	line, err := models.CreateRequirementLine(ctx, &models.NewRequirementLine{
		ProjectId:   projectId,
		ItemId:      &item.ID,
		QtyRequired: decimal.NewFromInt(10),
		IsBlocking:  true,
		Priority:    "urgent",
	})
	if err != nil {
		t.Fatalf("CreateRequirementLine: %v", err)
	}

	// 1) Allocate 6, then 5 more: 11 > 10 is a soft block with exact numbers.
	first, err := workflow.Allocate(ctx, logger, actor, &workflow.AllocateInput{
		RequirementLineId: &line.ID,
		JobId:             jobId,
		Qty:               decimal.NewFromInt(6),
	})
	if err != nil {
		t.Fatalf("Allocate(6): %v", err)
	}
	_, err = workflow.Allocate(ctx, logger, actor, &workflow.AllocateInput{
		RequirementLineId: &line.ID,
		JobId:             jobId,
		Qty:               decimal.NewFromInt(5),
	})
	var overAlloc *models.OverAllocation
	if !errors.As(err, &overAlloc) {
		t.Fatalf("expected OverAllocation, got %v", err)
	}
	if overAlloc.Required.Cmp(decimal.NewFromInt(10)) != 0 || overAlloc.AttemptedTotal.Cmp(decimal.NewFromInt(11)) != 0 {
		t.Fatalf("overallocation payload wrong: %+v", overAlloc)
	}

	// 2) Override without a note is rejected; with a note it succeeds and
	// the note is persisted on the record.
	_, err = workflow.Allocate(ctx, logger, actor, &workflow.AllocateInput{
		RequirementLineId: &line.ID,
		JobId:             jobId,
		Qty:               decimal.NewFromInt(5),
		AllowOverride:     true,
	})
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "override_note" {
		t.Fatalf("expected override-note validation error, got %v", err)
	}
	overridden, err := workflow.Allocate(ctx, logger, actor, &workflow.AllocateInput{
		RequirementLineId: &line.ID,
		JobId:             jobId,
		Qty:               decimal.NewFromInt(5),
		AllowOverride:     true,
		OverrideNote:      "customer signed off extra stock",
	})
	if err != nil {
		t.Fatalf("Allocate(override): %v", err)
	}
	if overridden.OverrideNote == nil || *overridden.OverrideNote != "customer signed off extra stock" {
		t.Fatalf("expected persisted override note, got %+v", overridden.OverrideNote)
	}

	// 3) Releasing frees the reserved quantity for new allocations.
	released, err := workflow.AdvanceAllocation(ctx, logger, actor, overridden.ID, models.AllocationStatusReleased)
	if err != nil {
		t.Fatalf("AdvanceAllocation(released): %v", err)
	}
	if released.Status != models.AllocationStatusReleased {
		t.Fatalf("expected released, got %s", released.Status)
	}
	if _, err := workflow.Allocate(ctx, logger, actor, &workflow.AllocateInput{
		RequirementLineId: &line.ID,
		JobId:             jobId,
		Qty:               decimal.NewFromInt(4),
	}); err != nil {
		t.Fatalf("Allocate after release should fit (6+4 <= 10): %v", err)
	}

	// Released is terminal; it cannot come back.
	if _, err := workflow.AdvanceAllocation(ctx, logger, actor, released.ID, models.AllocationStatusLoaded); err == nil {
		t.Fatalf("expected released -> loaded to be rejected")
	}

	// 4) Readiness counts only non-released allocations, recomputed live.
	report, err := workflow.ProjectReadiness(ctx, projectId)
	if err != nil {
		t.Fatalf("ProjectReadiness: %v", err)
	}
	if report.TotalLines != 1 || report.BlockingLines != 1 {
		t.Fatalf("expected 1 blocking line, got %+v", report)
	}
	if report.TotalAllocated.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("expected allocated 10 (6+4, released excluded), got %s", report.TotalAllocated)
	}
	if !report.Ready || report.BlockingMissing != 0 {
		t.Fatalf("expected ready project, got %+v", report)
	}

	// Two blocking lines each short by 2 count as two missing lines, not a
	// summed shortfall of four.
	railDesc := "mounting rail kit"
	shortLine, err := models.CreateRequirementLine(ctx, &models.NewRequirementLine{
		ProjectId:   projectId,
		Description: &railDesc,
		QtyRequired: decimal.NewFromInt(2),
		IsBlocking:  true,
	})
	if err != nil {
		t.Fatalf("CreateRequirementLine(rail): %v", err)
	}
	clampDesc := "roof clamps"
	if _, err := models.CreateRequirementLine(ctx, &models.NewRequirementLine{
		ProjectId:   projectId,
		Description: &clampDesc,
		QtyRequired: decimal.NewFromInt(2),
		IsBlocking:  true,
	}); err != nil {
		t.Fatalf("CreateRequirementLine(clamps): %v", err)
	}
	report, err = workflow.ProjectReadiness(ctx, projectId)
	if err != nil {
		t.Fatalf("ProjectReadiness after short lines: %v", err)
	}
	if report.TotalLines != 3 || report.BlockingLines != 3 {
		t.Fatalf("expected 3 blocking lines, got %+v", report)
	}
	if report.Ready || report.BlockingMissing != 2 {
		t.Fatalf("expected 2 short blocking lines, got %+v", report)
	}

	// Updating a line defaults an empty priority and refreshes the
	// denormalized item name.
	inverter, err := models.CreateItem(ctx, &models.NewItem{Sku: "INV-5K", Name: "Inverter 5kW", Unit: "pcs"})
	if err != nil {
		t.Fatalf("CreateItem(inverter): %v", err)
	}
	updatedLine, err := models.UpdateRequirementLine(ctx, shortLine.ID, &models.NewRequirementLine{
		ProjectId:   projectId,
		ItemId:      &inverter.ID,
		QtyRequired: decimal.NewFromInt(2),
		IsBlocking:  true,
	})
	if err != nil {
		t.Fatalf("UpdateRequirementLine: %v", err)
	}
	if updatedLine.Priority != models.RequirementPriorityStandard {
		t.Fatalf("expected empty priority to default to standard, got %q", updatedLine.Priority)
	}
	if updatedLine.ItemName != "Inverter 5kW" {
		t.Fatalf("expected refreshed item name, got %q", updatedLine.ItemName)
	}

	// 5) Consumption draws down the allocation and the location balance.
	if _, err := workflow.ConsumeStock(ctx, logger, actor, &workflow.ConsumeInput{
		JobId:        jobId,
		AllocationId: &first.ID,
		LocationId:   warehouse.ID,
		Qty:          decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("ConsumeStock(5): %v", err)
	}
	assertQty(t, ctx, item.ID, warehouse.ID, 45)

	_, err = workflow.ConsumeStock(ctx, logger, actor, &workflow.ConsumeInput{
		JobId:        jobId,
		AllocationId: &first.ID,
		LocationId:   warehouse.ID,
		Qty:          decimal.NewFromInt(3),
	})
	var overConsume *models.OverConsumption
	if !errors.As(err, &overConsume) {
		t.Fatalf("expected OverConsumption, got %v", err)
	}
	if overConsume.Allocated.Cmp(decimal.NewFromInt(6)) != 0 || overConsume.AttemptedTotal.Cmp(decimal.NewFromInt(8)) != 0 {
		t.Fatalf("overconsumption payload wrong: %+v", overConsume)
	}
	if _, err := workflow.ConsumeStock(ctx, logger, actor, &workflow.ConsumeInput{
		JobId:         jobId,
		AllocationId:  &first.ID,
		LocationId:    warehouse.ID,
		Qty:           decimal.NewFromInt(3),
		AllowOverride: true,
		OverrideNote:  "extra panel cracked on site",
	}); err != nil {
		t.Fatalf("ConsumeStock(override): %v", err)
	}
	assertQty(t, ctx, item.ID, warehouse.ID, 42)

	// The job-usage movements are on the ledger.
	history, err := models.MovementHistory(ctx, item.ID, nil, 20)
	if err != nil {
		t.Fatalf("MovementHistory: %v", err)
	}
	usage := 0
	for _, mv := range history {
		if mv.Source == models.MovementSourceJobUsage {
			usage++
		}
	}
	if usage != 2 {
		t.Fatalf("expected 2 job-usage movements, got %d", usage)
	}

	// 6) Dispatch is idempotent: concurrent identical submissions converge
	// on one run; a changed allocation set dispatches a fresh one.
	dispatch := &workflow.RunDispatchInput{
		Kind:  "delivery",
		JobId: jobId,
		Stops: []models.NewRunStop{{Address: "12 Ridge Rd"}},
	}
	const callers = 8
	runIds := make([]int, callers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, created, err := workflow.GetOrCreateRun(ctx, logger, actor, dispatch)
			if err != nil {
				t.Errorf("GetOrCreateRun: %v", err)
				return
			}
			mu.Lock()
			runIds[i] = run.ID
			if created {
				createdCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if createdCount != 1 {
		t.Fatalf("expected exactly 1 creation across %d callers, got %d", callers, createdCount)
	}
	for i := 1; i < callers; i++ {
		if runIds[i] != runIds[0] {
			t.Fatalf("caller %d got run %d, expected %d", i, runIds[i], runIds[0])
		}
	}

	// Releasing an allocation changes the eligible set, so the same request
	// now creates a new run.
	if _, err := workflow.AdvanceAllocation(ctx, logger, actor, first.ID, models.AllocationStatusReleased); err != nil {
		t.Fatalf("AdvanceAllocation(first released): %v", err)
	}
	secondRun, created, err := workflow.GetOrCreateRun(ctx, logger, actor, dispatch)
	if err != nil {
		t.Fatalf("GetOrCreateRun after release: %v", err)
	}
	if !created || secondRun.ID == runIds[0] {
		t.Fatalf("expected a fresh run for the changed set, got id=%d created=%v", secondRun.ID, created)
	}
	if secondRun.IntentKey == "" {
		t.Fatalf("run must carry its intent key")
	}
	if len(secondRun.Stops) != 1 || secondRun.Stops[0].Address != "12 Ridge Rd" {
		t.Fatalf("expected the draft stop to be persisted, got %+v", secondRun.Stops)
	}

	// 7) A location holding stock refuses deletion.
	if _, err := models.DeleteLocation(ctx, warehouse.ID); err == nil {
		t.Fatalf("expected delete of stocked location to be rejected")
	}
	// Requirement removal is soft; the line survives with removed status.
	removed, err := models.RemoveRequirementLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("RemoveRequirementLine: %v", err)
	}
	if removed.Status != models.RequirementStatusRemoved {
		t.Fatalf("expected removed status, got %s", removed.Status)
	}
	lines, err := models.ListRequirementLines(ctx, projectId)
	if err != nil {
		t.Fatalf("ListRequirementLines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("removed lines must not appear in open listings, got %d", len(lines))
	}
}
