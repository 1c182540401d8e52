package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bakeops/backend/internal/costing"
	"bakeops/backend/internal/domain"
	"bakeops/backend/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	nextID      int64
	products    map[int64]domain.Product
	materials   map[int64]domain.Material
	bomItems    map[int64]domain.BOMItem
	recipeItems map[int64]domain.RecipeItem
	receipts    map[int64]domain.MaterialReceipt
	production  map[int64]domain.ProductionRecord
	inventory   map[int64]domain.InventoryRecord
	irregular   map[int64]domain.IrregularRecord
	targets     map[int64]domain.TargetProduction
	erpSettings *domain.ErpSettings
	syncLogs    []domain.SyncLog
	users       map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		nextID:      1000,
		products:    make(map[int64]domain.Product),
		materials:   make(map[int64]domain.Material),
		bomItems:    make(map[int64]domain.BOMItem),
		recipeItems: make(map[int64]domain.RecipeItem),
		receipts:    make(map[int64]domain.MaterialReceipt),
		production:  make(map[int64]domain.ProductionRecord),
		inventory:   make(map[int64]domain.InventoryRecord),
		irregular:   make(map[int64]domain.IrregularRecord),
		targets:     make(map[int64]domain.TargetProduction),
		users:       seedUsers(),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials
// are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with a small bakery catalog so the
// server is usable out of the box in dev mode.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	flour, _ := s.CreateMaterial(ctx, domain.Material{Name: "Bread Flour", Type: domain.MaterialTypeRaw, Weight: 1000, Unit: "g", PurchasePrice: 5000, Supplier: "Daehan Mills"})
	butter, _ := s.CreateMaterial(ctx, domain.Material{Name: "Butter", Type: domain.MaterialTypeRaw, Weight: 500, Unit: "g", PurchasePrice: 9000, Supplier: "Seoul Dairy"})
	sugar, _ := s.CreateMaterial(ctx, domain.Material{Name: "Sugar", Type: domain.MaterialTypeRaw, Weight: 1000, Unit: "g", PurchasePrice: 3000})
	dough, _ := s.CreateMaterial(ctx, domain.Material{Name: "Croissant Dough", Type: domain.MaterialTypePrep, Weight: 1500, Unit: "g"})

	_, _ = s.AddRecipeItem(ctx, domain.RecipeItem{PrepID: dough.ID, IngredientID: flour.ID, Quantity: 1000})
	_, _ = s.AddRecipeItem(ctx, domain.RecipeItem{PrepID: dough.ID, IngredientID: butter.ID, Quantity: 400})
	_, _ = s.AddRecipeItem(ctx, domain.RecipeItem{PrepID: dough.ID, IngredientID: sugar.ID, Quantity: 100})

	croissant, _ := s.CreateProduct(ctx, domain.Product{Name: "Croissant", Unit: "ea", Price: 3800, StockType: domain.StockTypeNormal, Category: "pastry", DisplayOrder: 1})
	baguette, _ := s.CreateProduct(ctx, domain.Product{Name: "Baguette", Unit: "ea", Price: 4500, StockType: domain.StockTypeNormal, Category: "bread", DisplayOrder: 2})
	_, _ = s.CreateProduct(ctx, domain.Product{Name: "Event Cake", Unit: "ea", Price: 32000, StockType: domain.StockTypePreorder, Category: domain.CategoryIrregular, DisplayOrder: 3})

	_, _ = s.AddBOMItem(ctx, domain.BOMItem{ProductID: croissant.ID, MaterialID: dough.ID, Quantity: 80})
	_, _ = s.AddBOMItem(ctx, domain.BOMItem{ProductID: baguette.ID, MaterialID: flour.ID, Quantity: 250})

	return s
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// buildGraph snapshots the full cost graph. Caller must hold the lock.
func (s *Store) buildGraph() *costing.Graph {
	g := costing.NewGraph()
	for _, m := range s.materials {
		g.AddMaterial(m)
	}
	for _, it := range s.recipeItems {
		g.AddRecipeItem(it)
	}
	for _, it := range s.bomItems {
		g.AddBOMItem(it)
	}
	return g
}

// cascade recomputes everything downstream of the seed materials and writes
// the results back. Caller must hold the write lock. On a recipe cycle
// nothing is written.
func (s *Store) cascade(extraProducts []int64, seeds ...int64) error {
	g := s.buildGraph()
	ch, err := g.Propagate(seeds...)
	if err != nil {
		return err
	}
	for id, m := range ch.Materials {
		s.materials[id] = m
	}
	for id, cost := range ch.ProductCosts {
		if p, ok := s.products[id]; ok {
			p.Cost = cost
			s.products[id] = p
		}
	}
	for _, id := range extraProducts {
		if p, ok := s.products[id]; ok {
			p.Cost = g.ProductCost(id)
			s.products[id] = p
		}
	}
	return nil
}

// Products.

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.products {
		if existing.Name == product.Name {
			return nil, store.ErrDuplicateName
		}
	}
	product.ID = s.allocID()
	product.Cost = 0
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for id, existing := range s.products {
		if id != product.ID && existing.Name == product.Name {
			return nil, store.ErrDuplicateName
		}
	}
	product.Cost = current.Cost
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	for itemID, it := range s.bomItems {
		if it.ProductID == id {
			delete(s.bomItems, itemID)
		}
	}
	for recID, rec := range s.production {
		if rec.ProductID == id {
			delete(s.production, recID)
		}
	}
	for recID, rec := range s.inventory {
		if rec.ProductID == id {
			delete(s.inventory, recID)
		}
	}
	for recID, rec := range s.irregular {
		if rec.ProductID == id {
			delete(s.irregular, recID)
		}
	}
	delete(s.targets, id)
	return nil
}

func (s *Store) ListBOM(_ context.Context, productID int64) ([]domain.BOMLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	lines := make([]domain.BOMLine, 0, 8)
	for _, it := range s.bomItems {
		if it.ProductID != productID {
			continue
		}
		m := s.materials[it.MaterialID]
		lines = append(lines, domain.BOMLine{
			ID:       it.ID,
			Quantity: it.Quantity,
			Material: m,
			LineCost: it.Quantity * m.PricePerUnit,
		})
	}
	slices.SortFunc(lines, func(a, b domain.BOMLine) int {
		return cmpString(a.Material.Name, b.Material.Name)
	})
	return lines, nil
}

func (s *Store) AddBOMItem(_ context.Context, item domain.BOMItem) (*domain.BOMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.products[item.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.materials[item.MaterialID]; !ok {
		return nil, store.ErrNotFound
	}
	item.ID = s.allocID()
	s.bomItems[item.ID] = item
	if err := s.cascade([]int64{item.ProductID}); err != nil {
		delete(s.bomItems, item.ID)
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateBOMItem(_ context.Context, item domain.BOMItem) (*domain.BOMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bomItems[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if item.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}
	current.Quantity = item.Quantity
	s.bomItems[item.ID] = current
	if err := s.cascade([]int64{current.ProductID}); err != nil {
		return nil, err
	}
	updated := current
	return &updated, nil
}

func (s *Store) DeleteBOMItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.bomItems[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.bomItems, id)
	return s.cascade([]int64{it.ProductID})
}

// Materials.

func (s *Store) ListMaterials(_ context.Context) ([]domain.MaterialView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.buildGraph()
	views := make([]domain.MaterialView, 0, len(s.materials))
	for _, m := range s.materials {
		v := domain.MaterialView{Material: m}
		if m.Prep() {
			v.RecipeCost = g.RecipeCost(m.ID)
			if m.Weight > 0 {
				v.RecipePricePerUnit = v.RecipeCost / m.Weight
			}
		}
		views = append(views, v)
	}
	slices.SortFunc(views, func(a, b domain.MaterialView) int {
		return cmpString(a.Name, b.Name)
	})
	return views, nil
}

func (s *Store) GetMaterial(_ context.Context, id int64) (*domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.materials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cm := m
	return &cm, nil
}

func (s *Store) CreateMaterial(_ context.Context, material domain.Material) (*domain.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	material.Name = strings.TrimSpace(material.Name)
	if material.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if material.Type != domain.MaterialTypeRaw && material.Type != domain.MaterialTypePrep {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.materials {
		if existing.Name == material.Name {
			return nil, store.ErrDuplicateName
		}
	}
	material.ID = s.allocID()
	if material.Prep() {
		material.PurchasePrice = 0
		material.PricePerUnit = 0
	} else if material.Weight > 0 {
		material.PricePerUnit = material.PurchasePrice / material.Weight
	} else {
		material.PricePerUnit = 0
	}
	s.materials[material.ID] = material
	created := material
	return &created, nil
}

func (s *Store) UpdateMaterial(_ context.Context, material domain.Material) (*domain.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.materials[material.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	material.Name = strings.TrimSpace(material.Name)
	if material.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if material.Type != domain.MaterialTypeRaw && material.Type != domain.MaterialTypePrep {
		return nil, store.ErrInvalidInput
	}
	for id, existing := range s.materials {
		if id != material.ID && existing.Name == material.Name {
			return nil, store.ErrDuplicateName
		}
	}
	if !material.Prep() {
		// Receipt history, when present, owns the raw material's price.
		if avg := s.averagePriceLocked(material.ID); avg.ReceiptCount > 0 {
			material.PricePerUnit = avg.AvgPrice
			material.PurchasePrice = avg.AvgPrice * material.Weight
		} else if material.Weight > 0 {
			material.PricePerUnit = material.PurchasePrice / material.Weight
		} else {
			material.PricePerUnit = 0
		}
	}
	s.materials[material.ID] = material
	if err := s.cascade(nil, material.ID); err != nil {
		s.materials[material.ID] = prev
		return nil, err
	}
	updated := s.materials[material.ID]
	return &updated, nil
}

func (s *Store) DeleteMaterial(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.materials[id]; !ok {
		return store.ErrNotFound
	}

	dependentPreps := map[int64]bool{}
	dependentProducts := make([]int64, 0, 4)
	for itemID, it := range s.recipeItems {
		if it.IngredientID == id {
			dependentPreps[it.PrepID] = true
			delete(s.recipeItems, itemID)
		}
		if it.PrepID == id {
			delete(s.recipeItems, itemID)
		}
	}
	for itemID, it := range s.bomItems {
		if it.MaterialID == id {
			dependentProducts = append(dependentProducts, it.ProductID)
			delete(s.bomItems, itemID)
		}
	}
	for recID, r := range s.receipts {
		if r.MaterialID == id {
			delete(s.receipts, recID)
		}
	}
	delete(s.materials, id)

	seeds := make([]int64, 0, len(dependentPreps))
	for prepID := range dependentPreps {
		seeds = append(seeds, prepID)
	}
	return s.cascade(dependentProducts, seeds...)
}

func (s *Store) ListRecipe(_ context.Context, prepID int64) ([]domain.RecipeLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.materials[prepID]; !ok {
		return nil, store.ErrNotFound
	}
	lines := make([]domain.RecipeLine, 0, 8)
	for _, it := range s.recipeItems {
		if it.PrepID != prepID {
			continue
		}
		ing := s.materials[it.IngredientID]
		lines = append(lines, domain.RecipeLine{
			ID:         it.ID,
			Quantity:   it.Quantity,
			Ingredient: ing,
			LineCost:   it.Quantity * ing.PricePerUnit,
		})
	}
	slices.SortFunc(lines, func(a, b domain.RecipeLine) int {
		return cmpString(a.Ingredient.Name, b.Ingredient.Name)
	})
	return lines, nil
}

func (s *Store) AddRecipeItem(_ context.Context, item domain.RecipeItem) (*domain.RecipeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}
	prep, ok := s.materials[item.PrepID]
	if !ok || !prep.Prep() {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.materials[item.IngredientID]; !ok {
		return nil, store.ErrNotFound
	}
	item.ID = s.allocID()
	s.recipeItems[item.ID] = item
	if err := s.cascade(nil, item.PrepID); err != nil {
		delete(s.recipeItems, item.ID)
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) DeleteRecipeItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.recipeItems[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.recipeItems, id)
	return s.cascade(nil, it.PrepID)
}

// Receipts.

func (s *Store) ListReceipts(_ context.Context, materialID int64, limit int) ([]domain.ReceiptLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.ReceiptLine, 0, 32)
	for _, r := range s.receipts {
		if materialID != 0 && r.MaterialID != materialID {
			continue
		}
		m := s.materials[r.MaterialID]
		lines = append(lines, domain.ReceiptLine{
			MaterialReceipt: r,
			MaterialName:    m.Name,
			MaterialType:    m.Type,
			Unit:            m.Unit,
		})
	}
	slices.SortFunc(lines, func(a, b domain.ReceiptLine) int {
		if a.Date != b.Date {
			return cmpString(b.Date, a.Date)
		}
		return int(b.ID - a.ID)
	})
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

func (s *Store) GetReceipt(_ context.Context, id int64) (*domain.MaterialReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cr := r
	return &cr, nil
}

func (s *Store) AddReceipt(_ context.Context, receipt domain.MaterialReceipt) (*domain.MaterialReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt.Quantity <= 0 || receipt.UnitPrice < 0 || receipt.Date == "" {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.materials[receipt.MaterialID]; !ok {
		return nil, store.ErrNotFound
	}
	receipt.ID = s.allocID()
	s.receipts[receipt.ID] = receipt
	if err := s.repriceFromReceipts(receipt.MaterialID); err != nil {
		delete(s.receipts, receipt.ID)
		return nil, err
	}
	created := receipt
	return &created, nil
}

func (s *Store) UpdateReceipt(_ context.Context, receipt domain.MaterialReceipt) (*domain.MaterialReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.receipts[receipt.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if receipt.Quantity <= 0 || receipt.UnitPrice < 0 || receipt.Date == "" {
		return nil, store.ErrInvalidInput
	}
	receipt.MaterialID = current.MaterialID
	s.receipts[receipt.ID] = receipt
	if err := s.repriceFromReceipts(receipt.MaterialID); err != nil {
		s.receipts[receipt.ID] = current
		return nil, err
	}
	updated := receipt
	return &updated, nil
}

func (s *Store) DeleteReceipt(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.receipts, id)
	return s.repriceFromReceipts(r.MaterialID)
}

func (s *Store) AveragePrice(_ context.Context, materialID int64) (domain.AveragePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.materials[materialID]; !ok {
		return domain.AveragePrice{}, store.ErrNotFound
	}
	return s.averagePriceLocked(materialID), nil
}

func (s *Store) averagePriceLocked(materialID int64) domain.AveragePrice {
	history := make([]domain.MaterialReceipt, 0, 16)
	for _, r := range s.receipts {
		if r.MaterialID == materialID {
			history = append(history, r)
		}
	}
	return costing.WeightedAverage(history)
}

// repriceFromReceipts re-derives a material's price from its receipt
// history and cascades downstream. With no receipts left the price falls
// back to the manually entered purchase price. Caller must hold the lock.
func (s *Store) repriceFromReceipts(materialID int64) error {
	m, ok := s.materials[materialID]
	if !ok {
		return store.ErrNotFound
	}
	if m.Prep() {
		// Receipts against a prep material never override its recipe price.
		return s.cascade(nil, materialID)
	}
	avg := s.averagePriceLocked(materialID)
	if avg.ReceiptCount > 0 {
		m.PricePerUnit = avg.AvgPrice
		m.PurchasePrice = avg.AvgPrice * m.Weight
	} else if m.Weight > 0 {
		m.PricePerUnit = m.PurchasePrice / m.Weight
	} else {
		m.PricePerUnit = 0
	}
	s.materials[materialID] = m
	return s.cascade(nil, materialID)
}

// Daily records.

func (s *Store) ListProduction(_ context.Context, date string) ([]domain.ProductionLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.ProductionLine, 0, 32)
	for _, rec := range s.production {
		if date != "" && rec.Date != date {
			continue
		}
		p := s.products[rec.ProductID]
		lines = append(lines, domain.ProductionLine{
			ProductionRecord: rec,
			ProductName:      p.Name,
			Unit:             p.Unit,
		})
	}
	slices.SortFunc(lines, func(a, b domain.ProductionLine) int {
		if a.Date != b.Date {
			return cmpString(b.Date, a.Date)
		}
		return cmpString(a.ProductName, b.ProductName)
	})
	return lines, nil
}

func (s *Store) AddProduction(_ context.Context, record domain.ProductionRecord) (*domain.ProductionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Quantity <= 0 || record.Date == "" {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.products[record.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	// Upsert on (product, date), same as the unique constraint in postgres.
	for id, existing := range s.production {
		if existing.ProductID == record.ProductID && existing.Date == record.Date {
			existing.Quantity = record.Quantity
			existing.Note = record.Note
			s.production[id] = existing
			created := existing
			return &created, nil
		}
	}
	record.ID = s.allocID()
	s.production[record.ID] = record
	created := record
	return &created, nil
}

func (s *Store) DeleteProduction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.production[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.production, id)
	return nil
}

func (s *Store) GetProductionForSync(_ context.Context, recordID int64) (*domain.ProductionSyncView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.production[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	p, ok := s.products[rec.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.ProductionSyncView{
		RecordID:    rec.ID,
		ProductName: p.Name,
		ErpCode:     p.ErpCode,
		Quantity:    rec.Quantity,
		Price:       p.Price,
		Date:        rec.Date,
	}, nil
}

func (s *Store) GetReceiptForSync(_ context.Context, recordID int64) (*domain.ReceiptSyncView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	m, ok := s.materials[r.MaterialID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.ReceiptSyncView{
		RecordID:     r.ID,
		MaterialName: m.Name,
		ErpCode:      m.ErpCode,
		Quantity:     r.Quantity,
		UnitPrice:    r.UnitPrice,
		Supplier:     r.Supplier,
		Date:         r.Date,
	}, nil
}

func (s *Store) ListInventory(_ context.Context, date string) ([]domain.InventoryLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.InventoryLine, 0, 32)
	for _, rec := range s.inventory {
		if date != "" && rec.Date != date {
			continue
		}
		p := s.products[rec.ProductID]
		lines = append(lines, domain.InventoryLine{
			InventoryRecord: rec,
			ProductName:     p.Name,
			Unit:            p.Unit,
		})
	}
	slices.SortFunc(lines, func(a, b domain.InventoryLine) int {
		if a.Date != b.Date {
			return cmpString(b.Date, a.Date)
		}
		return cmpString(a.ProductName, b.ProductName)
	})
	return lines, nil
}

func (s *Store) ListIrregular(_ context.Context, date string) ([]domain.IrregularRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.IrregularRecord, 0, 16)
	for _, rec := range s.irregular {
		if date != "" && rec.Date != date {
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b domain.IrregularRecord) int {
		if a.Date != b.Date {
			return cmpString(b.Date, a.Date)
		}
		return int(a.ProductID - b.ProductID)
	})
	return records, nil
}

func (s *Store) SaveProductionGrid(_ context.Context, date string, edits []domain.QuantityEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date == "" {
		return store.ErrInvalidInput
	}
	for _, e := range edits {
		if _, ok := s.products[e.ProductID]; !ok {
			return store.ErrNotFound
		}
		existingID := int64(0)
		for id, rec := range s.production {
			if rec.ProductID == e.ProductID && rec.Date == date {
				existingID = id
				break
			}
		}
		switch {
		case e.Zero():
			if existingID != 0 {
				delete(s.production, existingID)
			}
		case existingID != 0:
			rec := s.production[existingID]
			rec.Quantity = *e.Quantity
			s.production[existingID] = rec
		default:
			id := s.allocID()
			s.production[id] = domain.ProductionRecord{ID: id, ProductID: e.ProductID, Quantity: *e.Quantity, Date: date}
		}
	}
	return nil
}

func (s *Store) SaveInventoryGrid(_ context.Context, date string, edits []domain.QuantityEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date == "" {
		return store.ErrInvalidInput
	}
	for _, e := range edits {
		if _, ok := s.products[e.ProductID]; !ok {
			return store.ErrNotFound
		}
		existingID := int64(0)
		for id, rec := range s.inventory {
			if rec.ProductID == e.ProductID && rec.Date == date {
				existingID = id
				break
			}
		}
		switch {
		case e.Zero():
			if existingID != 0 {
				delete(s.inventory, existingID)
			}
		case existingID != 0:
			rec := s.inventory[existingID]
			rec.Quantity = *e.Quantity
			s.inventory[existingID] = rec
		default:
			id := s.allocID()
			s.inventory[id] = domain.InventoryRecord{ID: id, ProductID: e.ProductID, Quantity: *e.Quantity, Date: date}
		}
	}
	return nil
}

func (s *Store) SaveIrregularGrid(_ context.Context, date string, edits []domain.IrregularEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date == "" {
		return store.ErrInvalidInput
	}
	for _, e := range edits {
		if _, ok := s.products[e.ProductID]; !ok {
			return store.ErrNotFound
		}
		existingID := int64(0)
		for id, rec := range s.irregular {
			if rec.ProductID == e.ProductID && rec.Date == date {
				existingID = id
				break
			}
		}
		opening, production, donation, closing := e.Values()
		switch {
		case e.Zero():
			if existingID != 0 {
				delete(s.irregular, existingID)
			}
		case existingID != 0:
			rec := s.irregular[existingID]
			rec.OpeningInventory = opening
			rec.Production = production
			rec.Donation = donation
			rec.ClosingInventory = closing
			s.irregular[existingID] = rec
		default:
			id := s.allocID()
			s.irregular[id] = domain.IrregularRecord{
				ID:               id,
				ProductID:        e.ProductID,
				OpeningInventory: opening,
				Production:       production,
				Donation:         donation,
				ClosingInventory: closing,
				Date:             date,
			}
		}
	}
	return nil
}

// Production targets.

func (s *Store) ListTargets(_ context.Context) ([]domain.TargetLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.TargetLine, 0, len(s.products))
	for _, p := range s.products {
		line := domain.TargetLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Unit:        p.Unit,
			Category:    p.Category,
			Price:       p.Price,
		}
		if t, ok := s.targets[p.ID]; ok {
			line.WeekdayTarget = t.WeekdayTarget
			line.WeekendTarget = t.WeekendTarget
		}
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(a, b domain.TargetLine) int {
		return cmpString(a.ProductName, b.ProductName)
	})
	return lines, nil
}

func (s *Store) SaveTargets(_ context.Context, edits []domain.TargetEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range edits {
		if _, ok := s.products[e.ProductID]; !ok {
			return store.ErrNotFound
		}
		s.targets[e.ProductID] = domain.TargetProduction{
			ProductID:     e.ProductID,
			WeekdayTarget: e.WeekdayTarget,
			WeekendTarget: e.WeekendTarget,
		}
	}
	return nil
}

// Statistics.

func (s *Store) ProductStats(_ context.Context, filter domain.StatsFilter) ([]domain.ProductStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := map[int64]*domain.ProductStats{}
	for _, rec := range s.production {
		if filter.StartDate != "" && rec.Date < filter.StartDate {
			continue
		}
		if filter.EndDate != "" && rec.Date > filter.EndDate {
			continue
		}
		p, ok := s.products[rec.ProductID]
		if !ok {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		st := byProduct[p.ID]
		if st == nil {
			st = &domain.ProductStats{
				ProductID: p.ID,
				Name:      p.Name,
				Unit:      p.Unit,
				Price:     p.Price,
				Cost:      p.Cost,
				Category:  p.Category,
				StockType: p.StockType,
			}
			byProduct[p.ID] = st
		}
		st.TotalQuantity += rec.Quantity
		st.RecordCount++
		st.TotalSales += rec.Quantity * p.Price
		st.TotalCost += rec.Quantity * p.Cost
	}

	result := make([]domain.ProductStats, 0, len(byProduct))
	for _, st := range byProduct {
		st.TotalProfit = st.TotalSales - st.TotalCost
		result = append(result, *st)
	}
	slices.SortFunc(result, func(a, b domain.ProductStats) int {
		if a.TotalSales != b.TotalSales {
			if a.TotalSales > b.TotalSales {
				return -1
			}
			return 1
		}
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

// ERP settings, sync logs, code assignment.

func (s *Store) GetErpSettings(_ context.Context) (*domain.ErpSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.erpSettings == nil {
		return nil, store.ErrNotFound
	}
	cp := *s.erpSettings
	return &cp, nil
}

func (s *Store) SaveErpSettings(_ context.Context, settings domain.ErpSettings) (*domain.ErpSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.ComCode == "" || settings.UserID == "" || settings.APICertKey == "" {
		return nil, store.ErrInvalidInput
	}
	settings.ID = 1
	settings.Active = true
	settings.UpdatedAt = time.Now().UTC()
	s.erpSettings = &settings
	cp := settings
	return &cp, nil
}

func (s *Store) CreateSyncLog(_ context.Context, entry domain.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.allocID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.syncLogs = append(s.syncLogs, entry)
	return nil
}

func (s *Store) ListSyncLogs(_ context.Context, limit int) ([]domain.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SyncLog, len(s.syncLogs))
	copy(result, s.syncLogs)
	slices.SortFunc(result, func(a, b domain.SyncLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(b.ID - a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SyncStats(_ context.Context) (domain.SyncStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.SyncStats{ByType: map[string]domain.SyncTypeStats{}}
	for _, entry := range s.syncLogs {
		stats.Total++
		byType := stats.ByType[entry.SyncType]
		if entry.Status == domain.SyncStatusSuccess {
			stats.Success++
			byType.Success++
		} else {
			stats.Failed++
			byType.Failed++
		}
		stats.ByType[entry.SyncType] = byType
	}
	return stats, nil
}

func (s *Store) ListUncodedProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.ErpCode == "" {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) ListUncodedMaterials(_ context.Context) ([]domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Material, 0, 16)
	for _, m := range s.materials {
		if m.ErpCode == "" {
			result = append(result, m)
		}
	}
	slices.SortFunc(result, func(a, b domain.Material) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) ApplyCodes(_ context.Context, assignments []domain.CodeAssignment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, a := range assignments {
		if a.ErpCode == "" {
			continue
		}
		switch a.Kind {
		case "product":
			if p, ok := s.products[a.ID]; ok {
				p.ErpCode = a.ErpCode
				s.products[a.ID] = p
				applied++
			}
		case "material":
			if m, ok := s.materials[a.ID]; ok {
				m.ErpCode = a.ErpCode
				s.materials[a.ID] = m
				applied++
			}
		default:
			return 0, store.ErrInvalidInput
		}
	}
	return applied, nil
}

// Auth.

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[username]; exists {
		return store.ErrDuplicateName
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := user
	return &cp, nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
