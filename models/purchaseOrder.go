package models

import (
	"context"
	"errors"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
)

// PurchaseOrder is kept slim: this service reads open order lines to derive
// the inbound projection and attributes receipts to them. The full purchase
// lifecycle lives with the purchasing collaborator.
type PurchaseOrder struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	BusinessId   string              `gorm:"index;not null" json:"business_id"`
	SupplierName string              `gorm:"size:100" json:"supplier_name"`
	Status       PurchaseOrderStatus `gorm:"size:20;not null;default:open;index" json:"status"`
	OrderDate    time.Time           `json:"order_date"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`

	Details []PurchaseOrderLine `gorm:"foreignKey:PurchaseOrderId" json:"details"`
}

func (p PurchaseOrder) GetBusinessId() string {
	return p.BusinessId
}

type PurchaseOrderLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	ItemId          int             `gorm:"index;not null" json:"item_id"`
	OrderedQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"ordered_qty"`
	ReceivedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// InboundQty derives the on-order-not-yet-received quantity for an item
// from open purchase orders: sum of max(ordered - received, 0). Always computed,
// never persisted.
func InboundQty(ctx context.Context, itemId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	db := config.GetDB()
	var lines []PurchaseOrderLine
	err := db.WithContext(ctx).
		Joins("JOIN purchase_orders ON purchase_orders.id = purchase_order_lines.purchase_order_id").
		Where("purchase_order_lines.business_id = ? AND purchase_order_lines.item_id = ? AND purchase_orders.status = ?",
			businessId, itemId, PurchaseOrderStatusOpen).
		Find(&lines).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, line := range lines {
		open := line.OrderedQty.Sub(line.ReceivedQty)
		if open.IsPositive() {
			total = total.Add(open)
		}
	}
	return total, nil
}
