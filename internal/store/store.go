package store

import (
	"context"
	"errors"

	"bakeops/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("duplicate name")
	ErrInvalidInput  = errors.New("invalid input")
)

// Repository is the persistence boundary. Mutations that affect derived
// costs run the full cascade inside one transaction: the weighted-average
// pricer, recipe and BOM resolvers, and the transitive propagation all
// commit or roll back together. Bulk saves are likewise one transaction per
// call.
type Repository interface {
	// Products.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListBOM(ctx context.Context, productID int64) ([]domain.BOMLine, error)
	AddBOMItem(ctx context.Context, item domain.BOMItem) (*domain.BOMItem, error)
	UpdateBOMItem(ctx context.Context, item domain.BOMItem) (*domain.BOMItem, error)
	DeleteBOMItem(ctx context.Context, id int64) error

	// Materials.
	ListMaterials(ctx context.Context) ([]domain.MaterialView, error)
	GetMaterial(ctx context.Context, id int64) (*domain.Material, error)
	CreateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	UpdateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	DeleteMaterial(ctx context.Context, id int64) error
	ListRecipe(ctx context.Context, prepID int64) ([]domain.RecipeLine, error)
	AddRecipeItem(ctx context.Context, item domain.RecipeItem) (*domain.RecipeItem, error)
	DeleteRecipeItem(ctx context.Context, id int64) error

	// Material receipts.
	ListReceipts(ctx context.Context, materialID int64, limit int) ([]domain.ReceiptLine, error)
	GetReceipt(ctx context.Context, id int64) (*domain.MaterialReceipt, error)
	AddReceipt(ctx context.Context, receipt domain.MaterialReceipt) (*domain.MaterialReceipt, error)
	UpdateReceipt(ctx context.Context, receipt domain.MaterialReceipt) (*domain.MaterialReceipt, error)
	DeleteReceipt(ctx context.Context, id int64) error
	AveragePrice(ctx context.Context, materialID int64) (domain.AveragePrice, error)

	// Daily records.
	ListProduction(ctx context.Context, date string) ([]domain.ProductionLine, error)
	AddProduction(ctx context.Context, record domain.ProductionRecord) (*domain.ProductionRecord, error)
	DeleteProduction(ctx context.Context, id int64) error
	GetProductionForSync(ctx context.Context, recordID int64) (*domain.ProductionSyncView, error)
	GetReceiptForSync(ctx context.Context, recordID int64) (*domain.ReceiptSyncView, error)
	ListInventory(ctx context.Context, date string) ([]domain.InventoryLine, error)
	ListIrregular(ctx context.Context, date string) ([]domain.IrregularRecord, error)
	SaveProductionGrid(ctx context.Context, date string, edits []domain.QuantityEdit) error
	SaveInventoryGrid(ctx context.Context, date string, edits []domain.QuantityEdit) error
	SaveIrregularGrid(ctx context.Context, date string, edits []domain.IrregularEdit) error

	// Production targets.
	ListTargets(ctx context.Context) ([]domain.TargetLine, error)
	SaveTargets(ctx context.Context, edits []domain.TargetEdit) error

	// Statistics.
	ProductStats(ctx context.Context, filter domain.StatsFilter) ([]domain.ProductStats, error)

	// ERP settings, sync logs, code assignment.
	GetErpSettings(ctx context.Context) (*domain.ErpSettings, error)
	SaveErpSettings(ctx context.Context, settings domain.ErpSettings) (*domain.ErpSettings, error)
	CreateSyncLog(ctx context.Context, log domain.SyncLog) error
	ListSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error)
	SyncStats(ctx context.Context) (domain.SyncStats, error)
	ListUncodedProducts(ctx context.Context) ([]domain.Product, error)
	ListUncodedMaterials(ctx context.Context) ([]domain.Material, error)
	ApplyCodes(ctx context.Context, assignments []domain.CodeAssignment) (int, error)

	// Auth.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}
