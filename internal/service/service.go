package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bakeops/backend/internal/domain"
	"bakeops/backend/internal/ecount"
	"bakeops/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo store.Repository
	erp  *ecount.Client
	log  *logrus.Logger
}

func New(repo store.Repository, erp *ecount.Client, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{repo: repo, erp: erp, log: log}
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

const dateLayout = "2006-01-02"

func normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", store.ErrInvalidInput
	}
	return parsed.Format(dateLayout), nil
}

func previousDay(date string) string {
	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return ""
	}
	return parsed.AddDate(0, 0, -1).Format(dateLayout)
}

// Products.

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.StockType == "" {
		req.StockType = domain.StockTypeNormal
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:         req.Name,
		Unit:         strings.TrimSpace(req.Unit),
		Price:        req.Price,
		StockType:    req.StockType,
		Category:     strings.TrimSpace(req.Category),
		ErpCode:      strings.TrimSpace(req.ErpCode),
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.StockType == "" {
		req.StockType = domain.StockTypeNormal
	}

	updated, err := s.repo.UpdateProduct(ctx, domain.Product{
		ID:           id,
		Name:         req.Name,
		Unit:         strings.TrimSpace(req.Unit),
		Price:        req.Price,
		StockType:    req.StockType,
		Category:     strings.TrimSpace(req.Category),
		ErpCode:      strings.TrimSpace(req.ErpCode),
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) ListBOM(ctx context.Context, productID int64) ([]domain.BOMLine, error) {
	return s.repo.ListBOM(ctx, productID)
}

func (s *Service) AddBOMItem(ctx context.Context, item domain.BOMItem) (domain.BOMItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.BOMItem{}, err
	}
	created, err := s.repo.AddBOMItem(ctx, item)
	if err != nil {
		return domain.BOMItem{}, err
	}
	return *created, nil
}

func (s *Service) UpdateBOMItem(ctx context.Context, item domain.BOMItem) (domain.BOMItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.BOMItem{}, err
	}
	updated, err := s.repo.UpdateBOMItem(ctx, item)
	if err != nil {
		return domain.BOMItem{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteBOMItem(ctx context.Context, id int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteBOMItem(ctx, id)
}

// Materials.

func (s *Service) ListMaterials(ctx context.Context) ([]domain.MaterialView, error) {
	return s.repo.ListMaterials(ctx)
}

func (s *Service) GetMaterial(ctx context.Context, id int64) (domain.Material, error) {
	m, err := s.repo.GetMaterial(ctx, id)
	if err != nil {
		return domain.Material{}, err
	}
	return *m, nil
}

func (s *Service) CreateMaterial(ctx context.Context, req domain.MaterialCreateRequest) (domain.Material, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Material{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Weight < 0 || req.PurchasePrice < 0 {
		return domain.Material{}, store.ErrInvalidInput
	}
	if req.Type == "" {
		req.Type = domain.MaterialTypeRaw
	}

	created, err := s.repo.CreateMaterial(ctx, domain.Material{
		Name:          req.Name,
		Type:          req.Type,
		Weight:        req.Weight,
		Unit:          strings.TrimSpace(req.Unit),
		PurchasePrice: req.PurchasePrice,
		Supplier:      strings.TrimSpace(req.Supplier),
		Note:          strings.TrimSpace(req.Note),
		ErpCode:       strings.TrimSpace(req.ErpCode),
	})
	if err != nil {
		return domain.Material{}, err
	}
	return *created, nil
}

func (s *Service) UpdateMaterial(ctx context.Context, id int64, req domain.MaterialCreateRequest) (domain.Material, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Material{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Weight < 0 || req.PurchasePrice < 0 {
		return domain.Material{}, store.ErrInvalidInput
	}
	if req.Type == "" {
		req.Type = domain.MaterialTypeRaw
	}

	updated, err := s.repo.UpdateMaterial(ctx, domain.Material{
		ID:            id,
		Name:          req.Name,
		Type:          req.Type,
		Weight:        req.Weight,
		Unit:          strings.TrimSpace(req.Unit),
		PurchasePrice: req.PurchasePrice,
		Supplier:      strings.TrimSpace(req.Supplier),
		Note:          strings.TrimSpace(req.Note),
		ErpCode:       strings.TrimSpace(req.ErpCode),
	})
	if err != nil {
		return domain.Material{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteMaterial(ctx context.Context, id int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteMaterial(ctx, id)
}

func (s *Service) ListRecipe(ctx context.Context, prepID int64) ([]domain.RecipeLine, error) {
	return s.repo.ListRecipe(ctx, prepID)
}

func (s *Service) AddRecipeItem(ctx context.Context, item domain.RecipeItem) (domain.RecipeItem, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.RecipeItem{}, err
	}
	if item.PrepID == item.IngredientID {
		return domain.RecipeItem{}, store.ErrInvalidInput
	}
	created, err := s.repo.AddRecipeItem(ctx, item)
	if err != nil {
		return domain.RecipeItem{}, err
	}
	return *created, nil
}

func (s *Service) DeleteRecipeItem(ctx context.Context, id int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteRecipeItem(ctx, id)
}

// Receipts.

func (s *Service) ListReceipts(ctx context.Context, materialID int64, limit int) ([]domain.ReceiptLine, error) {
	return s.repo.ListReceipts(ctx, materialID, limit)
}

func (s *Service) AddReceipt(ctx context.Context, receipt domain.MaterialReceipt) (domain.MaterialReceipt, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MaterialReceipt{}, err
	}
	date, err := normalizeDate(receipt.Date)
	if err != nil {
		return domain.MaterialReceipt{}, err
	}
	receipt.Date = date
	receipt.Supplier = strings.TrimSpace(receipt.Supplier)
	receipt.Note = strings.TrimSpace(receipt.Note)

	created, err := s.repo.AddReceipt(ctx, receipt)
	if err != nil {
		return domain.MaterialReceipt{}, err
	}
	return *created, nil
}

func (s *Service) UpdateReceipt(ctx context.Context, receipt domain.MaterialReceipt) (domain.MaterialReceipt, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.MaterialReceipt{}, err
	}
	date, err := normalizeDate(receipt.Date)
	if err != nil {
		return domain.MaterialReceipt{}, err
	}
	receipt.Date = date

	updated, err := s.repo.UpdateReceipt(ctx, receipt)
	if err != nil {
		return domain.MaterialReceipt{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteReceipt(ctx context.Context, id int64) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteReceipt(ctx, id)
}

func (s *Service) AveragePrice(ctx context.Context, materialID int64) (domain.AveragePrice, error) {
	return s.repo.AveragePrice(ctx, materialID)
}

// Production records.

func (s *Service) ListProduction(ctx context.Context, date string) ([]domain.ProductionLine, error) {
	if strings.TrimSpace(date) != "" {
		normalized, err := normalizeDate(date)
		if err != nil {
			return nil, err
		}
		date = normalized
	}
	return s.repo.ListProduction(ctx, date)
}

func (s *Service) AddProduction(ctx context.Context, record domain.ProductionRecord) (domain.ProductionRecord, error) {
	date, err := normalizeDate(record.Date)
	if err != nil {
		return domain.ProductionRecord{}, err
	}
	record.Date = date

	created, err := s.repo.AddProduction(ctx, record)
	if err != nil {
		return domain.ProductionRecord{}, err
	}
	return *created, nil
}

func (s *Service) DeleteProduction(ctx context.Context, id int64) error {
	return s.repo.DeleteProduction(ctx, id)
}

// Inventory records.

func (s *Service) ListInventory(ctx context.Context, date string) ([]domain.InventoryLine, error) {
	if strings.TrimSpace(date) != "" {
		normalized, err := normalizeDate(date)
		if err != nil {
			return nil, err
		}
		date = normalized
	}
	return s.repo.ListInventory(ctx, date)
}

// Daily grids. The grid projections are read-only merges of one day's
// records onto the product catalog; the bulk saves below are their write
// counterpart.

func (s *Service) ProductionGrid(ctx context.Context, date string) ([]domain.GridRow, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListProduction(ctx, date)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64]domain.ProductionLine, len(records))
	for _, r := range records {
		byProduct[r.ProductID] = r
	}

	rows := make([]domain.GridRow, 0, len(products))
	for _, p := range products {
		if p.Irregular() {
			continue
		}
		row := domain.GridRow{Product: p}
		if r, ok := byProduct[p.ID]; ok {
			row.Quantity = r.Quantity
			id := r.ID
			row.RecordID = &id
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) SaveProductionGrid(ctx context.Context, date string, edits []domain.QuantityEdit) error {
	date, err := normalizeDate(date)
	if err != nil {
		return err
	}
	if err := validateQuantityEdits(edits); err != nil {
		return err
	}
	return s.repo.SaveProductionGrid(ctx, date, edits)
}

func (s *Service) InventoryGrid(ctx context.Context, date string) ([]domain.GridRow, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListInventory(ctx, date)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64]domain.InventoryLine, len(records))
	for _, r := range records {
		byProduct[r.ProductID] = r
	}

	rows := make([]domain.GridRow, 0, len(products))
	for _, p := range products {
		if p.Irregular() {
			continue
		}
		row := domain.GridRow{Product: p}
		if r, ok := byProduct[p.ID]; ok {
			row.Quantity = r.Quantity
			id := r.ID
			row.RecordID = &id
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) SaveInventoryGrid(ctx context.Context, date string, edits []domain.QuantityEdit) error {
	date, err := normalizeDate(date)
	if err != nil {
		return err
	}
	if err := validateQuantityEdits(edits); err != nil {
		return err
	}
	return s.repo.SaveInventoryGrid(ctx, date, edits)
}

func (s *Service) IrregularGrid(ctx context.Context, date string) ([]domain.IrregularGridRow, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListIrregular(ctx, date)
	if err != nil {
		return nil, err
	}
	previous, err := s.repo.ListIrregular(ctx, previousDay(date))
	if err != nil {
		return nil, err
	}

	byProduct := make(map[int64]domain.IrregularRecord, len(records))
	for _, r := range records {
		byProduct[r.ProductID] = r
	}
	prevClosing := make(map[int64]float64, len(previous))
	for _, r := range previous {
		prevClosing[r.ProductID] = r.ClosingInventory
	}

	rows := make([]domain.IrregularGridRow, 0, 8)
	for _, p := range products {
		if !p.Irregular() {
			continue
		}
		row := domain.IrregularGridRow{Product: p, PrevClosing: prevClosing[p.ID]}
		if r, ok := byProduct[p.ID]; ok {
			row.OpeningInventory = r.OpeningInventory
			row.Production = r.Production
			row.Donation = r.Donation
			row.ClosingInventory = r.ClosingInventory
			id := r.ID
			row.RecordID = &id
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Service) SaveIrregularGrid(ctx context.Context, date string, edits []domain.IrregularEdit) error {
	date, err := normalizeDate(date)
	if err != nil {
		return err
	}
	for _, e := range edits {
		if e.ProductID < 1 {
			return store.ErrInvalidInput
		}
		opening, production, donation, closing := e.Values()
		if opening < 0 || production < 0 || donation < 0 || closing < 0 {
			return store.ErrInvalidInput
		}
	}
	return s.repo.SaveIrregularGrid(ctx, date, edits)
}

// SalesGrid derives per-product sales for one date. Regular products
// reconcile against the previous day's closing inventory; irregular
// products read all four base quantities from their daily snapshot. Sales
// is never persisted.
func (s *Service) SalesGrid(ctx context.Context, date string) ([]domain.SalesRow, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	prevInventory, err := s.repo.ListInventory(ctx, previousDay(date))
	if err != nil {
		return nil, err
	}
	todayInventory, err := s.repo.ListInventory(ctx, date)
	if err != nil {
		return nil, err
	}
	production, err := s.repo.ListProduction(ctx, date)
	if err != nil {
		return nil, err
	}
	irregular, err := s.repo.ListIrregular(ctx, date)
	if err != nil {
		return nil, err
	}

	opening := make(map[int64]float64, len(prevInventory))
	for _, r := range prevInventory {
		opening[r.ProductID] = r.Quantity
	}
	closing := make(map[int64]float64, len(todayInventory))
	for _, r := range todayInventory {
		closing[r.ProductID] = r.Quantity
	}
	produced := make(map[int64]float64, len(production))
	for _, r := range production {
		produced[r.ProductID] = r.Quantity
	}
	snapshot := make(map[int64]domain.IrregularRecord, len(irregular))
	for _, r := range irregular {
		snapshot[r.ProductID] = r
	}

	rows := make([]domain.SalesRow, 0, len(products))
	for _, p := range products {
		row := domain.SalesRow{Product: p}
		if p.Irregular() {
			snap := snapshot[p.ID]
			row.OpeningInventory = snap.OpeningInventory
			row.Production = snap.Production
			row.Donation = snap.Donation
			row.ClosingInventory = snap.ClosingInventory
			row.Sales = snap.OpeningInventory + snap.Production - snap.Donation - snap.ClosingInventory
		} else {
			row.OpeningInventory = opening[p.ID]
			row.Production = produced[p.ID]
			row.ClosingInventory = closing[p.ID]
			row.Sales = row.OpeningInventory + row.Production - row.ClosingInventory
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DonationGrid lists donated quantities for one date. Regular products with
// normal stock handling donate their full closing inventory; irregular
// products report their recorded donation when at least 1.
func (s *Service) DonationGrid(ctx context.Context, date string) ([]domain.DonationRow, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	inventory, err := s.repo.ListInventory(ctx, date)
	if err != nil {
		return nil, err
	}
	irregular, err := s.repo.ListIrregular(ctx, date)
	if err != nil {
		return nil, err
	}

	closing := make(map[int64]float64, len(inventory))
	for _, r := range inventory {
		closing[r.ProductID] = r.Quantity
	}
	snapshot := make(map[int64]domain.IrregularRecord, len(irregular))
	for _, r := range irregular {
		snapshot[r.ProductID] = r
	}

	rows := make([]domain.DonationRow, 0, 16)
	for _, p := range products {
		if p.Irregular() {
			if snap, ok := snapshot[p.ID]; ok && snap.Donation >= 1 {
				rows = append(rows, domain.DonationRow{Product: p, Quantity: snap.Donation, ProductType: "irregular"})
			}
			continue
		}
		if p.StockType != domain.StockTypeNormal {
			continue
		}
		rows = append(rows, domain.DonationRow{Product: p, Quantity: closing[p.ID], ProductType: "regular"})
	}
	return rows, nil
}

func validateQuantityEdits(edits []domain.QuantityEdit) error {
	for _, e := range edits {
		if e.ProductID < 1 {
			return store.ErrInvalidInput
		}
		if e.Quantity != nil && *e.Quantity < 0 {
			return store.ErrInvalidInput
		}
	}
	return nil
}

// Production targets.

func (s *Service) ListTargets(ctx context.Context) ([]domain.TargetLine, error) {
	return s.repo.ListTargets(ctx)
}

func (s *Service) SaveTargets(ctx context.Context, edits []domain.TargetEdit) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	for _, e := range edits {
		if e.ProductID < 1 || e.WeekdayTarget < 0 || e.WeekendTarget < 0 {
			return store.ErrInvalidInput
		}
	}
	return s.repo.SaveTargets(ctx, edits)
}

// Statistics.

func (s *Service) Statistics(ctx context.Context, filter domain.StatsFilter) (domain.StatisticsResponse, error) {
	if strings.TrimSpace(filter.StartDate) != "" {
		normalized, err := normalizeDate(filter.StartDate)
		if err != nil {
			return domain.StatisticsResponse{}, err
		}
		filter.StartDate = normalized
	}
	if strings.TrimSpace(filter.EndDate) != "" {
		normalized, err := normalizeDate(filter.EndDate)
		if err != nil {
			return domain.StatisticsResponse{}, err
		}
		filter.EndDate = normalized
	}
	filter.Category = strings.TrimSpace(filter.Category)

	rows, err := s.repo.ProductStats(ctx, filter)
	if err != nil {
		return domain.StatisticsResponse{}, err
	}

	resp := domain.StatisticsResponse{Products: rows}
	byCategory := map[string]*domain.CategoryStats{}
	for _, row := range rows {
		resp.Summary.ProductCount++
		resp.Summary.TotalQuantity += row.TotalQuantity
		resp.Summary.TotalSales += row.TotalSales
		resp.Summary.TotalCost += row.TotalCost
		resp.Summary.TotalProfit += row.TotalProfit

		category := row.Category
		if category == "" {
			category = "uncategorized"
		}
		cs, ok := byCategory[category]
		if !ok {
			cs = &domain.CategoryStats{Category: category}
			byCategory[category] = cs
		}
		cs.ProductCount++
		cs.TotalQuantity += row.TotalQuantity
		cs.TotalSales += row.TotalSales
		cs.TotalCost += row.TotalCost
		cs.TotalProfit += row.TotalProfit
	}

	resp.ByCategory = make([]domain.CategoryStats, 0, len(byCategory))
	for _, cs := range byCategory {
		resp.ByCategory = append(resp.ByCategory, *cs)
	}
	sort.Slice(resp.ByCategory, func(i, j int) bool {
		if resp.ByCategory[i].TotalSales == resp.ByCategory[j].TotalSales {
			return resp.ByCategory[i].Category < resp.ByCategory[j].Category
		}
		return resp.ByCategory[i].TotalSales > resp.ByCategory[j].TotalSales
	})
	return resp, nil
}

// Dashboard aggregates the sales trend, category split, best and worst
// sellers and donation totals over a trailing window ending today. Revenue
// is priced with the current catalog, same as the statistics view.
func (s *Service) Dashboard(ctx context.Context, days int) (domain.DashboardResponse, error) {
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.DashboardResponse{}, err
	}
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	resp := domain.DashboardResponse{
		DailySales:    []domain.DailySalesPoint{},
		CategorySales: []domain.CategorySales{},
		TopProducts:   []domain.DashboardProduct{},
		WorstProducts: []domain.DashboardProduct{},
	}
	categoryTotals := make(map[string]float64)
	perProduct := make(map[int64]*domain.DashboardProduct)

	end := time.Now()
	for i := days - 1; i >= 0; i-- {
		date := end.AddDate(0, 0, -i).Format(dateLayout)

		production, err := s.repo.ListProduction(ctx, date)
		if err != nil {
			return domain.DashboardResponse{}, err
		}
		irregular, err := s.repo.ListIrregular(ctx, date)
		if err != nil {
			return domain.DashboardResponse{}, err
		}
		inventory, err := s.repo.ListInventory(ctx, date)
		if err != nil {
			return domain.DashboardResponse{}, err
		}

		point := domain.DailySalesPoint{Date: date}
		hasRows := false
		for _, r := range production {
			p, ok := byID[r.ProductID]
			if !ok {
				continue
			}
			sales := r.Quantity * p.Price
			if !p.Irregular() {
				point.RegularSales += sales
				hasRows = true
			}
			category := strings.TrimSpace(p.Category)
			if category == "" {
				category = "uncategorized"
			}
			categoryTotals[category] += sales

			agg, ok := perProduct[p.ID]
			if !ok {
				agg = &domain.DashboardProduct{Name: p.Name}
				perProduct[p.ID] = agg
			}
			agg.TotalQuantity += r.Quantity
			agg.TotalSales += sales

			resp.Stats.TotalSales += sales
			resp.Stats.TotalCost += r.Quantity * p.Cost
			resp.Stats.TotalMargin += r.Quantity * (p.Price - p.Cost)
		}
		for _, r := range irregular {
			p, ok := byID[r.ProductID]
			if !ok || !p.Irregular() {
				continue
			}
			sold := r.OpeningInventory + r.Production - r.Donation - r.ClosingInventory
			point.IrregularSales += sold * p.Price
			resp.Stats.TotalDonation += r.Donation * p.Price
			hasRows = true
		}
		for _, r := range inventory {
			p, ok := byID[r.ProductID]
			if !ok || p.Irregular() || p.StockType != domain.StockTypeNormal {
				continue
			}
			resp.Stats.TotalDonation += r.Quantity * p.Price
		}

		if hasRows {
			point.TotalSales = point.RegularSales + point.IrregularSales
			resp.DailySales = append(resp.DailySales, point)
		}
	}

	for category, total := range categoryTotals {
		resp.CategorySales = append(resp.CategorySales, domain.CategorySales{Category: category, TotalSales: total})
	}
	sort.Slice(resp.CategorySales, func(i, j int) bool {
		if resp.CategorySales[i].TotalSales != resp.CategorySales[j].TotalSales {
			return resp.CategorySales[i].TotalSales > resp.CategorySales[j].TotalSales
		}
		return resp.CategorySales[i].Category < resp.CategorySales[j].Category
	})

	ranked := make([]domain.DashboardProduct, 0, len(perProduct))
	for _, agg := range perProduct {
		ranked = append(ranked, *agg)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalSales != ranked[j].TotalSales {
			return ranked[i].TotalSales > ranked[j].TotalSales
		}
		return ranked[i].Name < ranked[j].Name
	})
	resp.TopProducts = append(resp.TopProducts, ranked[:min(5, len(ranked))]...)
	for i := len(ranked) - 1; i >= 0 && len(resp.WorstProducts) < 5; i-- {
		resp.WorstProducts = append(resp.WorstProducts, ranked[i])
	}

	if resp.Stats.TotalSales > 0 {
		resp.Stats.AvgMarginRate = resp.Stats.TotalMargin / resp.Stats.TotalSales * 100
	}
	return resp, nil
}

// ERP settings and sync.

// GetErpSettings returns the active credential set with the certificate key
// masked for display.
func (s *Service) GetErpSettings(ctx context.Context) (domain.ErpSettings, error) {
	settings, err := s.repo.GetErpSettings(ctx)
	if err != nil {
		return domain.ErpSettings{}, err
	}
	masked := *settings
	masked.APICertKey = maskKey(masked.APICertKey)
	return masked, nil
}

func (s *Service) SaveErpSettings(ctx context.Context, settings domain.ErpSettings) (domain.ErpSettings, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.ErpSettings{}, err
	}
	settings.ComCode = strings.TrimSpace(settings.ComCode)
	settings.UserID = strings.TrimSpace(settings.UserID)
	settings.Zone = strings.TrimSpace(settings.Zone)
	settings.APICertKey = strings.TrimSpace(settings.APICertKey)
	if settings.LanType == "" {
		settings.LanType = "ko-KR"
	}

	saved, err := s.repo.SaveErpSettings(ctx, settings)
	if err != nil {
		return domain.ErpSettings{}, err
	}
	masked := *saved
	masked.APICertKey = maskKey(masked.APICertKey)
	return masked, nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// TestErpConnection performs a fresh login against the ERP with the stored
// credentials. It never touches the session cache.
func (s *Service) TestErpConnection(ctx context.Context) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	settings, err := s.repo.GetErpSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("erp settings not configured")
		}
		return err
	}

	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.erp.Login(testCtx, *settings); err != nil {
		return fmt.Errorf("erp connection test failed: %w", err)
	}
	return nil
}

// SyncProduction mirrors one production record to the ERP as a sale. The
// record is already committed locally; the outbound call is best effort and
// every attempt leaves a sync log row.
func (s *Service) SyncProduction(ctx context.Context, recordID int64) (domain.SyncResult, error) {
	settings, err := s.repo.GetErpSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SyncResult{}, fmt.Errorf("erp settings not configured")
		}
		return domain.SyncResult{}, err
	}

	view, err := s.repo.GetProductionForSync(ctx, recordID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if view.ErpCode == "" {
		message := fmt.Sprintf("product %q has no erp code", view.ProductName)
		s.recordSync(ctx, domain.SyncTypeSale, recordID, "production", domain.SyncStatusFailed, "", "", message)
		return domain.SyncResult{RecordID: recordID, Error: message}, nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sessionID, err := s.erp.Session(syncCtx, *settings)
	if err != nil {
		s.recordSync(ctx, domain.SyncTypeSale, recordID, "production", domain.SyncStatusFailed, "", "", err.Error())
		return domain.SyncResult{RecordID: recordID, Error: err.Error()}, nil
	}

	request, response, err := s.erp.SaveSale(syncCtx, *settings, sessionID, ecount.SaleItem{
		ProdCode:   view.ErpCode,
		ProdDesc:   view.ProductName,
		Quantity:   view.Quantity,
		UnitAmount: view.Price,
		SaleDate:   view.Date,
		Line:       1,
	})
	if err != nil {
		s.erp.InvalidateSession(ctx, *settings)
		s.recordSync(ctx, domain.SyncTypeSale, recordID, "production", domain.SyncStatusFailed, request, "", err.Error())
		return domain.SyncResult{RecordID: recordID, Error: err.Error()}, nil
	}

	s.recordSync(ctx, domain.SyncTypeSale, recordID, "production", domain.SyncStatusSuccess, request, response, "")
	return domain.SyncResult{RecordID: recordID, Success: true}, nil
}

// SyncReceipt mirrors one material receipt to the ERP as a purchase.
func (s *Service) SyncReceipt(ctx context.Context, recordID int64) (domain.SyncResult, error) {
	settings, err := s.repo.GetErpSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SyncResult{}, fmt.Errorf("erp settings not configured")
		}
		return domain.SyncResult{}, err
	}

	view, err := s.repo.GetReceiptForSync(ctx, recordID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if view.ErpCode == "" {
		message := fmt.Sprintf("material %q has no erp code", view.MaterialName)
		s.recordSync(ctx, domain.SyncTypePurchase, recordID, "receipt", domain.SyncStatusFailed, "", "", message)
		return domain.SyncResult{RecordID: recordID, Error: message}, nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sessionID, err := s.erp.Session(syncCtx, *settings)
	if err != nil {
		s.recordSync(ctx, domain.SyncTypePurchase, recordID, "receipt", domain.SyncStatusFailed, "", "", err.Error())
		return domain.SyncResult{RecordID: recordID, Error: err.Error()}, nil
	}

	request, response, err := s.erp.SavePurchase(syncCtx, *settings, sessionID, ecount.PurchaseItem{
		ProdCode:     view.ErpCode,
		ProdDesc:     view.MaterialName,
		Quantity:     view.Quantity,
		UnitAmount:   view.UnitPrice,
		PurchaseDate: view.Date,
		Supplier:     view.Supplier,
		Line:         1,
	})
	if err != nil {
		s.erp.InvalidateSession(ctx, *settings)
		s.recordSync(ctx, domain.SyncTypePurchase, recordID, "receipt", domain.SyncStatusFailed, request, "", err.Error())
		return domain.SyncResult{RecordID: recordID, Error: err.Error()}, nil
	}

	s.recordSync(ctx, domain.SyncTypePurchase, recordID, "receipt", domain.SyncStatusSuccess, request, response, "")
	return domain.SyncResult{RecordID: recordID, Success: true}, nil
}

// SyncProductionBatch syncs every production record of one date.
func (s *Service) SyncProductionBatch(ctx context.Context, date string) (domain.BatchSyncResponse, error) {
	date, err := normalizeDate(date)
	if err != nil {
		return domain.BatchSyncResponse{}, err
	}
	records, err := s.repo.ListProduction(ctx, date)
	if err != nil {
		return domain.BatchSyncResponse{}, err
	}

	resp := domain.BatchSyncResponse{Total: len(records)}
	for _, record := range records {
		result, err := s.SyncProduction(ctx, record.ID)
		if err != nil {
			return domain.BatchSyncResponse{}, err
		}
		if result.Success {
			resp.Success++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

// SyncReceiptBatch syncs a set of material receipts by id.
func (s *Service) SyncReceiptBatch(ctx context.Context, ids []int64) (domain.BatchSyncResponse, error) {
	resp := domain.BatchSyncResponse{Total: len(ids)}
	for _, id := range ids {
		result, err := s.SyncReceipt(ctx, id)
		if err != nil {
			return domain.BatchSyncResponse{}, err
		}
		if result.Success {
			resp.Success++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

func (s *Service) recordSync(ctx context.Context, syncType string, recordID int64, recordType string, status string, request string, response string, errorMessage string) {
	entry := domain.SyncLog{
		SyncType:     syncType,
		RecordID:     recordID,
		RecordType:   recordType,
		Status:       status,
		RequestData:  request,
		ResponseData: response,
		ErrorMessage: errorMessage,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateSyncLog(ctx, entry); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"sync_type": syncType,
			"record_id": recordID,
		}).Warn("failed to persist sync log")
	}
}

func (s *Service) ListSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	return s.repo.ListSyncLogs(ctx, limit)
}

func (s *Service) SyncStats(ctx context.Context) (domain.SyncStats, error) {
	return s.repo.SyncStats(ctx)
}

// Code matching.

// MatchCodes pairs uncoded products and materials against an ERP catalog by
// exact case-insensitive name, proposing a code for each hit.
func (s *Service) MatchCodes(ctx context.Context, catalog []domain.CatalogEntry) ([]domain.CodeMatch, error) {
	byName := make(map[string]string, len(catalog))
	for _, entry := range catalog {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" || entry.Code == "" {
			continue
		}
		byName[name] = entry.Code
	}

	products, err := s.repo.ListUncodedProducts(ctx)
	if err != nil {
		return nil, err
	}
	materials, err := s.repo.ListUncodedMaterials(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]domain.CodeMatch, 0, len(products)+len(materials))
	for _, p := range products {
		match := domain.CodeMatch{ID: p.ID, Name: p.Name, Kind: "product"}
		if code, ok := byName[strings.ToLower(p.Name)]; ok {
			match.SuggestedCode = code
			match.Matched = true
		}
		matches = append(matches, match)
	}
	for _, m := range materials {
		match := domain.CodeMatch{ID: m.ID, Name: m.Name, Kind: "material"}
		if code, ok := byName[strings.ToLower(m.Name)]; ok {
			match.SuggestedCode = code
			match.Matched = true
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *Service) ApplyCodes(ctx context.Context, assignments []domain.CodeAssignment) (int, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return 0, err
	}
	return s.repo.ApplyCodes(ctx, assignments)
}
