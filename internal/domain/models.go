package domain

import (
	"encoding/json"
	"time"
)

const (
	MaterialTypeRaw  = "raw"
	MaterialTypePrep = "prep"
)

const (
	// StockTypeNormal marks products whose leftover closing inventory is donated.
	StockTypeNormal   = "normal"
	StockTypePreorder = "preorder"
)

// CategoryIrregular marks products whose daily figures are recorded as an
// explicit snapshot instead of being derived from the previous day's closing.
const CategoryIrregular = "irregular"

const (
	SyncTypeSale     = "sale"
	SyncTypePurchase = "purchase"
)

const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

type Product struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	Price        float64 `json:"price"`
	Cost         float64 `json:"cost"`
	StockType    string  `json:"stock_type"`
	Category     string  `json:"category"`
	ErpCode      string  `json:"erp_code,omitempty"`
	DisplayOrder int     `json:"display_order"`
}

func (p Product) Irregular() bool {
	return p.Category == CategoryIrregular
}

type ProductCreateRequest struct {
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	Price        float64 `json:"price"`
	StockType    string  `json:"stock_type"`
	Category     string  `json:"category"`
	ErpCode      string  `json:"erp_code"`
	DisplayOrder int     `json:"display_order"`
}

type Material struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Weight        float64 `json:"weight"`
	Unit          string  `json:"unit"`
	PurchasePrice float64 `json:"purchase_price"`
	PricePerUnit  float64 `json:"price_per_unit"`
	Supplier      string  `json:"supplier,omitempty"`
	Note          string  `json:"note,omitempty"`
	ErpCode       string  `json:"erp_code,omitempty"`
}

func (m Material) Prep() bool {
	return m.Type == MaterialTypePrep
}

// MarshalJSON emits the legacy price_per_gram alias alongside the canonical
// price_per_unit field so older clients keep working. The two are always
// numerically identical.
func (m Material) MarshalJSON() ([]byte, error) {
	type alias Material
	return json.Marshal(struct {
		alias
		LegacyPricePerGram float64 `json:"price_per_gram"`
	}{alias(m), m.PricePerUnit})
}

type MaterialCreateRequest struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Weight        float64 `json:"weight"`
	Unit          string  `json:"unit"`
	PurchasePrice float64 `json:"purchase_price"`
	Supplier      string  `json:"supplier"`
	Note          string  `json:"note"`
	ErpCode       string  `json:"erp_code"`
}

// MaterialView is a material row enriched with recipe-derived figures for
// prep materials (zero for raw materials).
type MaterialView struct {
	Material
	RecipeCost         float64 `json:"recipe_cost"`
	RecipePricePerUnit float64 `json:"recipe_price_per_unit"`
}

// BOMItem is one bill-of-materials edge: quantity of a material consumed per
// one unit of the product.
type BOMItem struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	MaterialID int64   `json:"material_id"`
	Quantity   float64 `json:"quantity"`
}

// BOMLine is a BOM edge joined with its material for product detail views.
type BOMLine struct {
	ID       int64    `json:"id"`
	Quantity float64  `json:"quantity"`
	Material Material `json:"material"`
	LineCost float64  `json:"line_cost"`
}

// RecipeItem is one prep-material recipe edge: quantity of an ingredient
// consumed per one batch (the prep material's nominal weight).
type RecipeItem struct {
	ID           int64   `json:"id"`
	PrepID       int64   `json:"prep_material_id"`
	IngredientID int64   `json:"ingredient_material_id"`
	Quantity     float64 `json:"quantity"`
}

type RecipeLine struct {
	ID         int64    `json:"id"`
	Quantity   float64  `json:"quantity"`
	Ingredient Material `json:"ingredient"`
	LineCost   float64  `json:"line_cost"`
}

type ProductionRecord struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Date      string  `json:"production_date"`
	Note      string  `json:"note,omitempty"`
}

type ProductionLine struct {
	ProductionRecord
	ProductName string `json:"product_name"`
	Unit        string `json:"unit"`
}

type InventoryRecord struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Date      string  `json:"inventory_date"`
	Note      string  `json:"note,omitempty"`
}

type InventoryLine struct {
	InventoryRecord
	ProductName string `json:"product_name"`
	Unit        string `json:"unit"`
}

// IrregularRecord is the denormalized daily snapshot for irregular products.
type IrregularRecord struct {
	ID               int64   `json:"id"`
	ProductID        int64   `json:"product_id"`
	OpeningInventory float64 `json:"opening_inventory"`
	Production       float64 `json:"production"`
	Donation         float64 `json:"donation"`
	ClosingInventory float64 `json:"closing_inventory"`
	Date             string  `json:"record_date"`
	Note             string  `json:"note,omitempty"`
}

// MaterialReceipt is one purchase-history row. The receipt history is the
// sole source of truth for a raw material's current unit price.
type MaterialReceipt struct {
	ID         int64   `json:"id"`
	MaterialID int64   `json:"material_id"`
	Date       string  `json:"receipt_date"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	Supplier   string  `json:"supplier,omitempty"`
	Note       string  `json:"note,omitempty"`
}

type ReceiptLine struct {
	MaterialReceipt
	MaterialName string `json:"material_name"`
	MaterialType string `json:"material_type"`
	Unit         string `json:"unit"`
}

type AveragePrice struct {
	AvgPrice      float64 `json:"avg_price"`
	TotalQuantity float64 `json:"total_quantity"`
	ReceiptCount  int     `json:"receipt_count"`
}

type TargetProduction struct {
	ProductID     int64   `json:"product_id"`
	WeekdayTarget float64 `json:"weekday_target"`
	WeekendTarget float64 `json:"weekend_target"`
}

type TargetLine struct {
	ProductID     int64   `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Unit          string  `json:"unit"`
	Category      string  `json:"category"`
	Price         float64 `json:"price"`
	WeekdayTarget float64 `json:"weekday_target"`
	WeekendTarget float64 `json:"weekend_target"`
}

// QuantityEdit is one row of a bulk grid submission. A missing or zero
// quantity deletes the record for (product, date).
type QuantityEdit struct {
	ProductID int64    `json:"product_id"`
	Quantity  *float64 `json:"quantity"`
}

func (e QuantityEdit) Zero() bool {
	return e.Quantity == nil || *e.Quantity == 0
}

// IrregularEdit is one row of a bulk irregular-snapshot submission. The row
// is deleted only when all four quantities are zero.
type IrregularEdit struct {
	ProductID        int64    `json:"product_id"`
	OpeningInventory *float64 `json:"opening_inventory"`
	Production       *float64 `json:"production"`
	Donation         *float64 `json:"donation"`
	ClosingInventory *float64 `json:"closing_inventory"`
}

func (e IrregularEdit) Zero() bool {
	for _, v := range []*float64{e.OpeningInventory, e.Production, e.Donation, e.ClosingInventory} {
		if v != nil && *v != 0 {
			return false
		}
	}
	return true
}

func (e IrregularEdit) Values() (opening, production, donation, closing float64) {
	return deref(e.OpeningInventory), deref(e.Production), deref(e.Donation), deref(e.ClosingInventory)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

type TargetEdit struct {
	ProductID     int64   `json:"product_id"`
	WeekdayTarget float64 `json:"weekday_target"`
	WeekendTarget float64 `json:"weekend_target"`
}

// GridRow is one product's cell value in a production or inventory grid.
type GridRow struct {
	Product  Product `json:"product"`
	Quantity float64 `json:"quantity"`
	RecordID *int64  `json:"record_id,omitempty"`
}

// IrregularGridRow carries the four recorded quantities plus the previous
// day's closing inventory for display.
type IrregularGridRow struct {
	Product          Product `json:"product"`
	OpeningInventory float64 `json:"opening_inventory"`
	Production       float64 `json:"production"`
	Donation         float64 `json:"donation"`
	ClosingInventory float64 `json:"closing_inventory"`
	PrevClosing      float64 `json:"prev_closing_inventory"`
	RecordID         *int64  `json:"record_id,omitempty"`
}

// SalesRow is the reconciled daily view for one product. Sales is always
// derived from the four base quantities and never persisted.
type SalesRow struct {
	Product          Product `json:"product"`
	OpeningInventory float64 `json:"opening_inventory"`
	Production       float64 `json:"production"`
	Donation         float64 `json:"donation"`
	ClosingInventory float64 `json:"closing_inventory"`
	Sales            float64 `json:"sales"`
}

type DonationRow struct {
	Product     Product `json:"product"`
	Quantity    float64 `json:"donation_quantity"`
	ProductType string  `json:"product_type"`
}

type StatsFilter struct {
	StartDate string
	EndDate   string
	Category  string
}

type ProductStats struct {
	ProductID     int64   `json:"id"`
	Name          string  `json:"name"`
	Unit          string  `json:"unit"`
	Price         float64 `json:"price"`
	Cost          float64 `json:"cost"`
	Category      string  `json:"category"`
	StockType     string  `json:"stock_type"`
	TotalQuantity float64 `json:"total_quantity"`
	RecordCount   int     `json:"record_count"`
	TotalSales    float64 `json:"total_sales"`
	TotalCost     float64 `json:"total_cost"`
	TotalProfit   float64 `json:"total_profit"`
}

type StatsSummary struct {
	ProductCount  int     `json:"product_count"`
	TotalQuantity float64 `json:"total_quantity"`
	TotalSales    float64 `json:"total_sales"`
	TotalCost     float64 `json:"total_cost"`
	TotalProfit   float64 `json:"total_profit"`
}

type CategoryStats struct {
	Category string `json:"category"`
	StatsSummary
}

type StatisticsResponse struct {
	Products   []ProductStats  `json:"products"`
	Summary    StatsSummary    `json:"summary"`
	ByCategory []CategoryStats `json:"by_category"`
}

// DailySalesPoint is one day of the dashboard sales trend, split by
// regular and irregular product revenue.
type DailySalesPoint struct {
	Date           string  `json:"date"`
	RegularSales   float64 `json:"regular_sales"`
	IrregularSales float64 `json:"irregular_sales"`
	TotalSales     float64 `json:"total_sales"`
}

type CategorySales struct {
	Category   string  `json:"category"`
	TotalSales float64 `json:"total_sales"`
}

type DashboardProduct struct {
	Name          string  `json:"name"`
	TotalQuantity float64 `json:"total_quantity"`
	TotalSales    float64 `json:"total_sales"`
}

type DashboardTotals struct {
	TotalSales    float64 `json:"total_sales"`
	TotalCost     float64 `json:"total_cost"`
	TotalMargin   float64 `json:"total_margin"`
	TotalDonation float64 `json:"total_donation"`
	AvgMarginRate float64 `json:"avg_margin_rate"`
}

type DashboardResponse struct {
	DailySales    []DailySalesPoint  `json:"daily_sales"`
	CategorySales []CategorySales    `json:"category_sales"`
	TopProducts   []DashboardProduct `json:"top_products"`
	WorstProducts []DashboardProduct `json:"worst_products"`
	Stats         DashboardTotals    `json:"stats"`
}

// ErpSettings is the single active credential set for the Ecount API.
type ErpSettings struct {
	ID         int64     `json:"id"`
	ComCode    string    `json:"com_code"`
	UserID     string    `json:"user_id"`
	Zone       string    `json:"zone"`
	APICertKey string    `json:"api_cert_key"`
	LanType    string    `json:"lan_type"`
	Active     bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SyncLog struct {
	ID           int64     `json:"id"`
	SyncType     string    `json:"sync_type"`
	RecordID     int64     `json:"record_id"`
	RecordType   string    `json:"record_type"`
	Status       string    `json:"status"`
	RequestData  string    `json:"request_data,omitempty"`
	ResponseData string    `json:"response_data,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type SyncTypeStats struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

type SyncStats struct {
	Total   int                      `json:"total"`
	Success int                      `json:"success"`
	Failed  int                      `json:"failed"`
	ByType  map[string]SyncTypeStats `json:"by_type"`
}

// ProductionSyncView is a production record resolved with its product for
// the ERP sale payload.
type ProductionSyncView struct {
	RecordID    int64
	ProductName string
	ErpCode     string
	Quantity    float64
	Price       float64
	Date        string
}

// ReceiptSyncView is a material receipt resolved with its material for the
// ERP purchase payload.
type ReceiptSyncView struct {
	RecordID     int64
	MaterialName string
	ErpCode      string
	Quantity     float64
	UnitPrice    float64
	Supplier     string
	Date         string
}

// CodeAssignment tags a product or material with an external ERP code. The
// code is a matching tag only and carries no cost semantics.
type CodeAssignment struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"` // "product" or "material"
	ErpCode string `json:"erp_code"`
}

type CodeMatch struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	CurrentCode   string `json:"current_code,omitempty"`
	SuggestedCode string `json:"suggested_code,omitempty"`
	Matched       bool   `json:"matched"`
}

type CatalogEntry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type SyncResult struct {
	RecordID int64  `json:"record_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type BatchSyncResponse struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Results []SyncResult `json:"results"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
