package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// intentKeySentinel stands in for absent optional context so the key space
// stays total: "absent" can never collide with a real id.
const intentKeySentinel = "none"

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// AllocationSetDigest hashes the sorted, comma-joined allocation id list.
// Sorting makes the digest independent of collection order; base64url
// without padding keeps the key column friendly.
func AllocationSetDigest(allocationIds []int) string {
	parts := make([]string, 0, len(allocationIds))
	for _, id := range allocationIds {
		parts = append(parts, strconv.Itoa(id))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BuildRunIntentKey derives the deterministic key for one dispatch intent:
// {kind}:{visit}:{vehicle}:{location}:{digest}. The same allocation set and
// context always produce the same key; any change to either produces a new
// one, so resubmissions deduplicate and edits dispatch fresh runs without a
// separate "already submitted" flag.
func BuildRunIntentKey(kind models.RunKind, visitId *int, vehicleId *int, locationId *int, allocationIds []int) string {
	return strings.Join([]string{
		string(kind),
		intOrSentinel(visitId),
		intOrSentinel(vehicleId),
		intOrSentinel(locationId),
		AllocationSetDigest(allocationIds),
	}, ":")
}

func intOrSentinel(v *int) string {
	if v == nil {
		return intentKeySentinel
	}
	return strconv.Itoa(*v)
}

type RunDispatchInput struct {
	Kind       string              `json:"kind" binding:"required"`
	JobId      int                 `json:"job_id" binding:"required"`
	VisitId    *int                `json:"visit_id"`
	VehicleId  *int                `json:"vehicle_id"`
	LocationId *int                `json:"location_id"`
	Notes      string              `json:"notes"`
	Stops      []models.NewRunStop `json:"stops"`
}

// GetOrCreateRun returns the run for the current eligible allocation set and
// context, creating it at most once. A duplicate submission is a successful
// no-op returning the existing run unchanged. Two guards converge
// concurrent callers: a short redis lock per business, and the unique
// intent-key constraint with a duplicate-key re-read as the backstop.
func GetOrCreateRun(ctx context.Context, logger *logrus.Logger, actor models.Actor, input *RunDispatchInput) (*models.LogisticsRun, bool, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, false, errors.New("business id is required")
	}
	if err := actor.Validate(); err != nil {
		return nil, false, err
	}
	kind := models.RunKind(input.Kind)
	if kind != models.RunKindDelivery && kind != models.RunKindPickup {
		return nil, false, &models.ValidationError{Field: "kind", Reason: "unknown run kind"}
	}

	release, err := utils.BusinessLock(ctx, businessId, "run-dispatch", "runDispatcher.go", "GetOrCreateRun")
	if err != nil {
		return nil, false, err
	}
	defer release()

	db := config.GetDB()
	var run *models.LogisticsRun
	created := false
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		allocations, err := models.EligibleAllocations(tx, businessId, input.JobId, input.VisitId, input.VehicleId)
		if err != nil {
			return err
		}
		if len(allocations) == 0 {
			return &models.ValidationError{Field: "job_id", Reason: "no eligible allocations to dispatch"}
		}
		allocationIds := make([]int, 0, len(allocations))
		for _, a := range allocations {
			allocationIds = append(allocationIds, a.ID)
		}
		intentKey := BuildRunIntentKey(kind, input.VisitId, input.VehicleId, input.LocationId, allocationIds)

		var existing models.LogisticsRun
		err = tx.Preload("Stops").
			Where("business_id = ? AND intent_key = ?", businessId, intentKey).
			First(&existing).Error
		if err == nil {
			run = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		draft := models.LogisticsRun{
			BusinessId: businessId,
			IntentKey:  intentKey,
			Kind:       kind,
			JobId:      input.JobId,
			VisitId:    input.VisitId,
			VehicleId:  input.VehicleId,
			LocationId: input.LocationId,
			Status:     models.RunStatusPlanned,
			Notes:      input.Notes,
			ActorId:    actor.Id,
			ActorName:  actor.Name,
		}
		for i, stop := range input.Stops {
			draft.Stops = append(draft.Stops, models.LogisticsRunStop{
				BusinessId:   businessId,
				Seq:          i + 1,
				AllocationId: stop.AllocationId,
				Address:      stop.Address,
				Notes:        stop.Notes,
			})
		}
		if err := tx.Create(&draft).Error; err != nil {
			// Lost the race to another instance: the unique key already
			// holds the winner's row, return it unchanged.
			if isDuplicateKeyErr(err) {
				if ferr := tx.Preload("Stops").
					Where("business_id = ? AND intent_key = ?", businessId, intentKey).
					First(&existing).Error; ferr != nil {
					return ferr
				}
				run = &existing
				return nil
			}
			return err
		}
		run = &draft
		created = true
		return nil
	})
	if err != nil {
		config.LogError(logger, "runDispatcher.go", "GetOrCreateRun", "Transaction", input, err)
		return nil, false, err
	}
	return run, created, nil
}
