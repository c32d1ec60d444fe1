package workflow

import (
	"context"
	"errors"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
)

// ReadinessLine is the per-line view the crew sees before a visit: what the
// project needs against what is currently reserved or loaded for it.
type ReadinessLine struct {
	RequirementLineId int                        `json:"requirement_line_id"`
	ItemId            *int                       `json:"item_id"`
	ItemName          string                     `json:"item_name"`
	Description       *string                    `json:"description"`
	Priority          models.RequirementPriority `json:"priority"`
	IsBlocking        bool                       `json:"is_blocking"`
	QtyRequired       decimal.Decimal            `json:"qty_required"`
	QtyAllocated      decimal.Decimal            `json:"qty_allocated"`
	Missing           decimal.Decimal            `json:"missing"`
}

type ReadinessReport struct {
	ProjectId      int             `json:"project_id"`
	TotalLines     int             `json:"total_lines"`
	BlockingLines  int             `json:"blocking_lines"`
	TotalRequired  decimal.Decimal `json:"total_required"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	// BlockingMissing counts blocking lines whose active allocations still
	// fall short of the required quantity; zero means the visit can go
	// ahead. Per-line shortfall amounts live on Lines.
	BlockingMissing int             `json:"blocking_missing"`
	Ready           bool            `json:"ready"`
	Lines           []ReadinessLine `json:"lines"`
}

// ProjectReadiness recomputes the report from open requirement lines and
// their non-released allocations on every call. Nothing here is stored or
// cached: a stale readiness answer sends a crew out without parts.
func ProjectReadiness(ctx context.Context, projectId int) (*ReadinessReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	lines, err := models.ListRequirementLines(ctx, projectId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	report := ReadinessReport{
		ProjectId:      projectId,
		TotalRequired:  decimal.Zero,
		TotalAllocated: decimal.Zero,
		Lines:          make([]ReadinessLine, 0, len(lines)),
	}
	for _, line := range lines {
		allocated, err := models.ActiveAllocationSum(db.WithContext(ctx), businessId, line.ID)
		if err != nil {
			return nil, err
		}
		missing := line.QtyRequired.Sub(allocated)
		if missing.IsNegative() {
			missing = decimal.Zero
		}

		blocking := line.IsBlocking != nil && *line.IsBlocking
		report.TotalLines++
		report.TotalRequired = report.TotalRequired.Add(line.QtyRequired)
		report.TotalAllocated = report.TotalAllocated.Add(allocated)
		if blocking {
			report.BlockingLines++
			if missing.IsPositive() {
				report.BlockingMissing++
			}
		}
		report.Lines = append(report.Lines, ReadinessLine{
			RequirementLineId: line.ID,
			ItemId:            line.ItemId,
			ItemName:          line.ItemName,
			Description:       line.Description,
			Priority:          line.Priority,
			IsBlocking:        blocking,
			QtyRequired:       line.QtyRequired,
			QtyAllocated:      allocated,
			Missing:           missing,
		})
	}
	report.Ready = report.BlockingMissing == 0
	return &report, nil
}
