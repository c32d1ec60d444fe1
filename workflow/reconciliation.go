package workflow

import (
	"context"
	"errors"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/sirupsen/logrus"
)

// ReconcileQuantities folds the movement ledger for every stored balance row
// and reports where the fold disagrees with the stored on-hand figure. It
// never corrects: a mismatch means a write path bug or manual tampering, and
// either one needs a human before the numbers move. The check covers every
// balance row, deactivated locations included; stock does not stop existing
// when its location is switched off.
func ReconcileQuantities(ctx context.Context, logger *logrus.Logger) ([]*models.IntegrityMismatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	quantities, err := models.AllQuantities(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var mismatches []*models.IntegrityMismatch
	for _, q := range quantities {
		recomputed, err := models.RecomputeBalance(db.WithContext(ctx), businessId, q.ItemId, q.LocationId)
		if err != nil {
			return nil, err
		}
		if recomputed.Equal(q.Qty) {
			continue
		}
		mismatch := &models.IntegrityMismatch{
			ItemId:     q.ItemId,
			LocationId: q.LocationId,
			Stored:     q.Qty,
			Recomputed: recomputed,
		}
		mismatches = append(mismatches, mismatch)
		logger.WithFields(logrus.Fields{
			"business_id": businessId,
			"item_id":     q.ItemId,
			"location_id": q.LocationId,
			"stored":      q.Qty.String(),
			"recomputed":  recomputed.String(),
		}).Error("stored quantity disagrees with movement ledger")
	}

	logger.WithFields(logrus.Fields{
		"business_id": businessId,
		"rows":        len(quantities),
		"mismatches":  len(mismatches),
	}).Info("quantity reconciliation finished")
	return mismatches, nil
}
