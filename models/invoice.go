package models

import (
	"context"
	"time"

	"github.com/digitax/fbr_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID               int             `gorm:"primary_key" json:"id"`
	TenantId         string          `gorm:"index;not null;size:64" json:"tenant_id"`
	SystemInvoiceId  string          `gorm:"size:64;not null;uniqueIndex" json:"system_invoice_id"`
	InvoiceNumber    string          `gorm:"size:255;not null" json:"invoice_number"`
	InvoiceDate      time.Time       `gorm:"not null" json:"invoice_date"`
	BuyerName        string          `gorm:"size:255" json:"buyer_name"`
	BuyerNtn         string          `gorm:"size:32" json:"buyer_ntn"`
	BuyerAddress     string          `gorm:"type:text" json:"buyer_address"`
	CurrentStatus    InvoiceStatus   `gorm:"type:enum('Draft','Saved','Posting','Posted','Failed');not null" json:"current_status"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	TotalTaxAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_tax_amount"`
	FbrInvoiceNumber *string         `gorm:"size:255;default:null" json:"fbr_invoice_number"`
	Items            []InvoiceItem   `gorm:"foreignKey:InvoiceId" json:"items"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	InvoiceId   int             `gorm:"index;not null" json:"invoice_id"`
	HsCode      string          `gorm:"size:32" json:"hs_code"`
	Description string          `gorm:"size:255;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Rate        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"rate"`
	Value       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"value"`
	TaxRate     decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_rate"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	InvoiceNumber string           `json:"invoice_number" binding:"required"`
	InvoiceDate   time.Time        `json:"invoice_date" binding:"required"`
	BuyerName     string           `json:"buyer_name"`
	BuyerNtn      string           `json:"buyer_ntn"`
	BuyerAddress  string           `json:"buyer_address"`
	Items         []NewInvoiceItem `json:"items"`
}

type NewInvoiceItem struct {
	HsCode      string          `json:"hs_code"`
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	Rate        decimal.Decimal `json:"rate" binding:"required"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// InvoiceSnapshot is the versioned structured shape persisted in
// invoice_backups.invoice_data. Fields added in later schema versions must
// be optional so old rows still decode.
type InvoiceSnapshot struct {
	SchemaVersion    int       `json:"schema_version"`
	InvoiceId        int       `json:"invoice_id"`
	SystemInvoiceId  string    `json:"system_invoice_id"`
	InvoiceNumber    string    `json:"invoice_number"`
	InvoiceDate      time.Time `json:"invoice_date"`
	BuyerName        string    `json:"buyer_name"`
	BuyerNtn         string    `json:"buyer_ntn"`
	BuyerAddress     string    `json:"buyer_address"`
	CurrentStatus    string    `json:"current_status"`
	TotalAmount      string    `json:"total_amount"`
	TotalTaxAmount   string    `json:"total_tax_amount"`
	FbrInvoiceNumber *string   `json:"fbr_invoice_number"`
}

type InvoiceItemSnapshot struct {
	ItemId      int    `json:"item_id"`
	HsCode      string `json:"hs_code"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Rate        string `json:"rate"`
	Value       string `json:"value"`
	TaxRate     string `json:"tax_rate"`
	TaxAmount   string `json:"tax_amount"`
}

const invoiceSnapshotSchemaVersion = 1

// Snapshot captures the invoice header at this moment. Decimal amounts are
// serialized as strings to survive the round trip without float loss.
func (inv *Invoice) Snapshot() *InvoiceSnapshot {
	return &InvoiceSnapshot{
		SchemaVersion:    invoiceSnapshotSchemaVersion,
		InvoiceId:        inv.ID,
		SystemInvoiceId:  inv.SystemInvoiceId,
		InvoiceNumber:    inv.InvoiceNumber,
		InvoiceDate:      inv.InvoiceDate,
		BuyerName:        inv.BuyerName,
		BuyerNtn:         inv.BuyerNtn,
		BuyerAddress:     inv.BuyerAddress,
		CurrentStatus:    string(inv.CurrentStatus),
		TotalAmount:      inv.TotalAmount.String(),
		TotalTaxAmount:   inv.TotalTaxAmount.String(),
		FbrInvoiceNumber: inv.FbrInvoiceNumber,
	}
}

func (inv *Invoice) SnapshotItems() []InvoiceItemSnapshot {
	snapshots := make([]InvoiceItemSnapshot, 0, len(inv.Items))
	for _, item := range inv.Items {
		snapshots = append(snapshots, InvoiceItemSnapshot{
			ItemId:      item.ID,
			HsCode:      item.HsCode,
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			Rate:        item.Rate.String(),
			Value:       item.Value.String(),
			TaxRate:     item.TaxRate.String(),
			TaxAmount:   item.TaxAmount.String(),
		})
	}
	return snapshots
}

// AuditValues renders the invoice for an audit_logs row. The item array
// rides under "invoice_items" so the audit viewer can reconstruct
// line-item state without a second query.
func (inv *Invoice) AuditValues() map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, map[string]interface{}{
			"id":          item.ID,
			"hs_code":     item.HsCode,
			"description": item.Description,
			"quantity":    item.Quantity.String(),
			"rate":        item.Rate.String(),
			"value":       item.Value.String(),
			"tax_rate":    item.TaxRate.String(),
			"tax_amount":  item.TaxAmount.String(),
		})
	}
	return map[string]interface{}{
		"id":                 inv.ID,
		"system_invoice_id":  inv.SystemInvoiceId,
		"invoice_number":     inv.InvoiceNumber,
		"invoice_date":       inv.InvoiceDate,
		"buyer_name":         inv.BuyerName,
		"buyer_ntn":          inv.BuyerNtn,
		"buyer_address":      inv.BuyerAddress,
		"current_status":     string(inv.CurrentStatus),
		"total_amount":       inv.TotalAmount.String(),
		"total_tax_amount":   inv.TotalTaxAmount.String(),
		"fbr_invoice_number": inv.FbrInvoiceNumber,
		"invoice_items":      items,
	}
}

// BuildInvoiceItems expands line-item inputs, deriving value and tax
// amount. Value is quantity times rate; tax is a percentage of value.
func BuildInvoiceItems(inputs []NewInvoiceItem) []InvoiceItem {
	items := make([]InvoiceItem, 0, len(inputs))
	for _, in := range inputs {
		value := in.Quantity.Mul(in.Rate)
		taxAmount := value.Mul(in.TaxRate).Div(decimal.NewFromInt(100))
		items = append(items, InvoiceItem{
			HsCode:      in.HsCode,
			Description: in.Description,
			Quantity:    in.Quantity,
			Rate:        in.Rate,
			Value:       value,
			TaxRate:     in.TaxRate,
			TaxAmount:   taxAmount,
		})
	}
	return items
}

func InvoiceTotals(items []InvoiceItem) (total, totalTax decimal.Decimal) {
	total = decimal.Zero
	totalTax = decimal.Zero
	for _, item := range items {
		total = total.Add(item.Value).Add(item.TaxAmount)
		totalTax = totalTax.Add(item.TaxAmount)
	}
	return total, totalTax
}

func CreateInvoice(ctx context.Context, db *gorm.DB, input *NewInvoice) (*Invoice, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, utils.NewValidationError("tenant_id", "missing")
	}

	items := BuildInvoiceItems(input.Items)
	total, totalTax := InvoiceTotals(items)

	invoice := Invoice{
		TenantId:        tenantId,
		SystemInvoiceId: uuid.NewString(),
		InvoiceNumber:   input.InvoiceNumber,
		InvoiceDate:     input.InvoiceDate,
		BuyerName:       input.BuyerName,
		BuyerNtn:        input.BuyerNtn,
		BuyerAddress:    input.BuyerAddress,
		CurrentStatus:   InvoiceStatusDraft,
		TotalAmount:     total,
		TotalTaxAmount:  totalTax,
		Items:           items,
	}
	if err := db.WithContext(ctx).Create(&invoice).Error; err != nil {
		return nil, utils.NewStorageError("CreateInvoice", err)
	}
	return &invoice, nil
}

func GetInvoice(ctx context.Context, db *gorm.DB, id int) (*Invoice, error) {
	var result Invoice
	err := db.WithContext(ctx).Preload("Items").First(&result, id).Error
	if err != nil {
		return nil, utils.WrapReadError("GetInvoice", err)
	}
	return &result, nil
}

// ReplaceInvoiceItems swaps the line items inside an edit transaction.
func ReplaceInvoiceItems(ctx context.Context, tx *gorm.DB, invoiceId int, items []InvoiceItem) error {
	if err := tx.WithContext(ctx).Where("invoice_id = ?", invoiceId).Delete(&InvoiceItem{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].ID = 0
		items[i].InvoiceId = invoiceId
	}
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (obj Invoice) GetId() int {
	return obj.ID
}

func (obj Invoice) GetCursor() string {
	return obj.CreatedAt.String()
}
