package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bakeops/backend/internal/costing"
	"bakeops/backend/internal/domain"
	"bakeops/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Dates are stored as TEXT in YYYY-MM-DD form; lexical order matches
// calendar order, which keeps range scans and previous-day lookups plain.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			unit TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			stock_type TEXT NOT NULL DEFAULT 'normal',
			category TEXT NOT NULL DEFAULT '',
			erp_code TEXT NOT NULL DEFAULT '',
			display_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS materials (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL DEFAULT 'raw',
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			unit TEXT NOT NULL DEFAULT 'g',
			purchase_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_per_unit DOUBLE PRECISION NOT NULL DEFAULT 0,
			supplier TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			erp_code TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS bom_items (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			material_id BIGINT NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
			quantity DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recipe_items (
			id BIGSERIAL PRIMARY KEY,
			prep_material_id BIGINT NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
			ingredient_material_id BIGINT NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
			quantity DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS material_receipts (
			id BIGSERIAL PRIMARY KEY,
			material_id BIGINT NOT NULL REFERENCES materials(id) ON DELETE CASCADE,
			receipt_date TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			unit_price DOUBLE PRECISION NOT NULL,
			supplier TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS production_records (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			quantity DOUBLE PRECISION NOT NULL,
			production_date TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			UNIQUE (product_id, production_date)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_records (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			quantity DOUBLE PRECISION NOT NULL,
			inventory_date TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			UNIQUE (product_id, inventory_date)
		)`,
		`CREATE TABLE IF NOT EXISTS irregular_records (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			opening_inventory DOUBLE PRECISION NOT NULL DEFAULT 0,
			production DOUBLE PRECISION NOT NULL DEFAULT 0,
			donation DOUBLE PRECISION NOT NULL DEFAULT 0,
			closing_inventory DOUBLE PRECISION NOT NULL DEFAULT 0,
			record_date TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			UNIQUE (product_id, record_date)
		)`,
		`CREATE TABLE IF NOT EXISTS target_production (
			product_id BIGINT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
			weekday_target DOUBLE PRECISION NOT NULL DEFAULT 0,
			weekend_target DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS erp_settings (
			id BIGSERIAL PRIMARY KEY,
			com_code TEXT NOT NULL,
			user_id TEXT NOT NULL,
			zone TEXT NOT NULL DEFAULT '',
			api_cert_key TEXT NOT NULL,
			lan_type TEXT NOT NULL DEFAULT 'ko-KR',
			is_active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id BIGSERIAL PRIMARY KEY,
			sync_type TEXT NOT NULL,
			record_id BIGINT NOT NULL,
			record_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			request_data TEXT NOT NULL DEFAULT '',
			response_data TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'staff',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_material ON material_receipts (material_id, receipt_date)`,
		`CREATE INDEX IF NOT EXISTS idx_production_date ON production_records (production_date)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_date ON inventory_records (inventory_date)`,
		`CREATE INDEX IF NOT EXISTS idx_irregular_date ON irregular_records (record_date)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// loadGraph snapshots the cost graph through q, which is the surrounding
// transaction for mutations so the snapshot sees uncommitted edits.
func loadGraph(ctx context.Context, q querier) (*costing.Graph, error) {
	g := costing.NewGraph()

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, type, weight, unit, purchase_price, price_per_unit, supplier, note, erp_code
		FROM materials
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var m domain.Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Type, &m.Weight, &m.Unit, &m.PurchasePrice, &m.PricePerUnit, &m.Supplier, &m.Note, &m.ErpCode); err != nil {
			_ = rows.Close()
			return nil, err
		}
		g.AddMaterial(m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT id, prep_material_id, ingredient_material_id, quantity FROM recipe_items
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var it domain.RecipeItem
		if err := rows.Scan(&it.ID, &it.PrepID, &it.IngredientID, &it.Quantity); err != nil {
			_ = rows.Close()
			return nil, err
		}
		g.AddRecipeItem(it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT id, product_id, material_id, quantity FROM bom_items
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var it domain.BOMItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.MaterialID, &it.Quantity); err != nil {
			_ = rows.Close()
			return nil, err
		}
		g.AddBOMItem(it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	return g, nil
}

// cascade propagates price changes downstream and persists the results
// through q. Runs inside the caller's transaction.
func cascade(ctx context.Context, q querier, extraProducts []int64, seeds ...int64) error {
	g, err := loadGraph(ctx, q)
	if err != nil {
		return err
	}
	ch, err := g.Propagate(seeds...)
	if err != nil {
		return err
	}
	for _, m := range ch.Materials {
		_, err := q.ExecContext(ctx, `
			UPDATE materials SET purchase_price = $2, price_per_unit = $3 WHERE id = $1
		`, m.ID, m.PurchasePrice, m.PricePerUnit)
		if err != nil {
			return err
		}
	}
	for id, cost := range ch.ProductCosts {
		if _, err := q.ExecContext(ctx, `UPDATE products SET cost = $2 WHERE id = $1`, id, cost); err != nil {
			return err
		}
	}
	for _, id := range extraProducts {
		if _, alreadyDone := ch.ProductCosts[id]; alreadyDone {
			continue
		}
		if _, err := q.ExecContext(ctx, `UPDATE products SET cost = $2 WHERE id = $1`, id, g.ProductCost(id)); err != nil {
			return err
		}
	}
	return nil
}

// Products.

const productColumns = `id, name, unit, price, cost, stock_type, category, erp_code, display_order`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Unit, &p.Price, &p.Cost, &p.StockType, &p.Category, &p.ErpCode, &p.DisplayOrder)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY display_order, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, unit, price, cost, stock_type, category, erp_code, display_order)
		VALUES ($1,$2,$3,0,$4,$5,$6,$7)
		RETURNING id
	`, product.Name, product.Unit, product.Price, product.StockType, product.Category, product.ErpCode, product.DisplayOrder).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	product.Cost = 0
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, unit = $3, price = $4, stock_type = $5, category = $6, erp_code = $7, display_order = $8
		WHERE id = $1
		RETURNING cost
	`, product.ID, product.Name, product.Unit, product.Price, product.StockType, product.Category, product.ErpCode, product.DisplayOrder).Scan(&product.Cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListBOM(ctx context.Context, productID int64) ([]domain.BOMLine, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.quantity,
			m.id, m.name, m.type, m.weight, m.unit, m.purchase_price, m.price_per_unit, m.supplier, m.note, m.erp_code
		FROM bom_items b
		JOIN materials m ON m.id = b.material_id
		WHERE b.product_id = $1
		ORDER BY m.name
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.BOMLine, 0, 8)
	for rows.Next() {
		var line domain.BOMLine
		m := &line.Material
		if err := rows.Scan(&line.ID, &line.Quantity, &m.ID, &m.Name, &m.Type, &m.Weight, &m.Unit, &m.PurchasePrice, &m.PricePerUnit, &m.Supplier, &m.Note, &m.ErpCode); err != nil {
			return nil, err
		}
		line.LineCost = line.Quantity * m.PricePerUnit
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) AddBOMItem(ctx context.Context, item domain.BOMItem) (*domain.BOMItem, error) {
	if item.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO bom_items (product_id, material_id, quantity)
		VALUES ($1,$2,$3)
		RETURNING id
	`, item.ProductID, item.MaterialID, item.Quantity).Scan(&item.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := cascade(ctx, tx, []int64{item.ProductID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateBOMItem(ctx context.Context, item domain.BOMItem) (*domain.BOMItem, error) {
	if item.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE bom_items SET quantity = $2 WHERE id = $1
		RETURNING product_id, material_id
	`, item.ID, item.Quantity).Scan(&item.ProductID, &item.MaterialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := cascade(ctx, tx, []int64{item.ProductID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := item
	return &updated, nil
}

func (s *Store) DeleteBOMItem(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	err = tx.QueryRowContext(ctx, `
		DELETE FROM bom_items WHERE id = $1 RETURNING product_id
	`, id).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if err := cascade(ctx, tx, []int64{productID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Materials.

const materialColumns = `id, name, type, weight, unit, purchase_price, price_per_unit, supplier, note, erp_code`

func scanMaterial(row interface{ Scan(...any) error }) (domain.Material, error) {
	var m domain.Material
	err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Weight, &m.Unit, &m.PurchasePrice, &m.PricePerUnit, &m.Supplier, &m.Note, &m.ErpCode)
	return m, err
}

func (s *Store) ListMaterials(ctx context.Context) ([]domain.MaterialView, error) {
	g, err := loadGraph(ctx, s.db)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+materialColumns+` FROM materials ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]domain.MaterialView, 0, 64)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		v := domain.MaterialView{Material: m}
		if m.Prep() {
			v.RecipeCost = g.RecipeCost(m.ID)
			if m.Weight > 0 {
				v.RecipePricePerUnit = v.RecipeCost / m.Weight
			}
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Store) GetMaterial(ctx context.Context, id int64) (*domain.Material, error) {
	m, err := scanMaterial(s.db.QueryRowContext(ctx, `
		SELECT `+materialColumns+` FROM materials WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if material.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if material.Type != domain.MaterialTypeRaw && material.Type != domain.MaterialTypePrep {
		return nil, store.ErrInvalidInput
	}
	if material.Prep() {
		material.PurchasePrice = 0
		material.PricePerUnit = 0
	} else if material.Weight > 0 {
		material.PricePerUnit = material.PurchasePrice / material.Weight
	} else {
		material.PricePerUnit = 0
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO materials (name, type, weight, unit, purchase_price, price_per_unit, supplier, note, erp_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, material.Name, material.Type, material.Weight, material.Unit, material.PurchasePrice, material.PricePerUnit, material.Supplier, material.Note, material.ErpCode).Scan(&material.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	created := material
	return &created, nil
}

func (s *Store) UpdateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if material.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if material.Type != domain.MaterialTypeRaw && material.Type != domain.MaterialTypePrep {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if !material.Prep() {
		// The receipt history, when present, owns the raw material's price.
		avg, err := averagePrice(ctx, tx, material.ID)
		if err != nil {
			return nil, err
		}
		if avg.ReceiptCount > 0 {
			material.PricePerUnit = avg.AvgPrice
			material.PurchasePrice = avg.AvgPrice * material.Weight
		} else if material.Weight > 0 {
			material.PricePerUnit = material.PurchasePrice / material.Weight
		} else {
			material.PricePerUnit = 0
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE materials
		SET name = $2, type = $3, weight = $4, unit = $5, purchase_price = $6,
			price_per_unit = $7, supplier = $8, note = $9, erp_code = $10
		WHERE id = $1
	`, material.ID, material.Name, material.Type, material.Weight, material.Unit,
		material.PurchasePrice, material.PricePerUnit, material.Supplier, material.Note, material.ErpCode)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := cascade(ctx, tx, nil, material.ID); err != nil {
		return nil, err
	}

	// Re-read: the cascade recomputes the row itself for prep materials.
	updated, err := scanMaterial(tx.QueryRowContext(ctx, `
		SELECT `+materialColumns+` FROM materials WHERE id = $1
	`, material.ID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteMaterial(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	seeds := make([]int64, 0, 4)
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT prep_material_id FROM recipe_items WHERE ingredient_material_id = $1
	`, id)
	if err != nil {
		return err
	}
	for rows.Next() {
		var prepID int64
		if err := rows.Scan(&prepID); err != nil {
			_ = rows.Close()
			return err
		}
		seeds = append(seeds, prepID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	products := make([]int64, 0, 4)
	rows, err = tx.QueryContext(ctx, `
		SELECT DISTINCT product_id FROM bom_items WHERE material_id = $1
	`, id)
	if err != nil {
		return err
	}
	for rows.Next() {
		var productID int64
		if err := rows.Scan(&productID); err != nil {
			_ = rows.Close()
			return err
		}
		products = append(products, productID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	res, err := tx.ExecContext(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if err := cascade(ctx, tx, products, seeds...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListRecipe(ctx context.Context, prepID int64) ([]domain.RecipeLine, error) {
	if _, err := s.GetMaterial(ctx, prepID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.quantity,
			m.id, m.name, m.type, m.weight, m.unit, m.purchase_price, m.price_per_unit, m.supplier, m.note, m.erp_code
		FROM recipe_items r
		JOIN materials m ON m.id = r.ingredient_material_id
		WHERE r.prep_material_id = $1
		ORDER BY m.name
	`, prepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.RecipeLine, 0, 8)
	for rows.Next() {
		var line domain.RecipeLine
		m := &line.Ingredient
		if err := rows.Scan(&line.ID, &line.Quantity, &m.ID, &m.Name, &m.Type, &m.Weight, &m.Unit, &m.PurchasePrice, &m.PricePerUnit, &m.Supplier, &m.Note, &m.ErpCode); err != nil {
			return nil, err
		}
		line.LineCost = line.Quantity * m.PricePerUnit
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) AddRecipeItem(ctx context.Context, item domain.RecipeItem) (*domain.RecipeItem, error) {
	if item.Quantity <= 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var prepType string
	err = tx.QueryRowContext(ctx, `SELECT type FROM materials WHERE id = $1`, item.PrepID).Scan(&prepType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if prepType != domain.MaterialTypePrep {
		return nil, store.ErrInvalidInput
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO recipe_items (prep_material_id, ingredient_material_id, quantity)
		VALUES ($1,$2,$3)
		RETURNING id
	`, item.PrepID, item.IngredientID, item.Quantity).Scan(&item.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	// A cycle introduced by this edge fails the cascade and rolls everything back.
	if err := cascade(ctx, tx, nil, item.PrepID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) DeleteRecipeItem(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var prepID int64
	err = tx.QueryRowContext(ctx, `
		DELETE FROM recipe_items WHERE id = $1 RETURNING prep_material_id
	`, id).Scan(&prepID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if err := cascade(ctx, tx, nil, prepID); err != nil {
		return err
	}
	return tx.Commit()
}

// Receipts.

func (s *Store) ListReceipts(ctx context.Context, materialID int64, limit int) ([]domain.ReceiptLine, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.material_id, r.receipt_date, r.quantity, r.unit_price, r.supplier, r.note,
			m.name, m.type, m.unit
		FROM material_receipts r
		JOIN materials m ON m.id = r.material_id
		WHERE ($1 = 0 OR r.material_id = $1)
		ORDER BY r.receipt_date DESC, r.id DESC
		LIMIT $2
	`, materialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ReceiptLine, 0, limit)
	for rows.Next() {
		var line domain.ReceiptLine
		if err := rows.Scan(&line.ID, &line.MaterialID, &line.Date, &line.Quantity, &line.UnitPrice, &line.Supplier, &line.Note, &line.MaterialName, &line.MaterialType, &line.Unit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) GetReceipt(ctx context.Context, id int64) (*domain.MaterialReceipt, error) {
	var r domain.MaterialReceipt
	err := s.db.QueryRowContext(ctx, `
		SELECT id, material_id, receipt_date, quantity, unit_price, supplier, note
		FROM material_receipts WHERE id = $1
	`, id).Scan(&r.ID, &r.MaterialID, &r.Date, &r.Quantity, &r.UnitPrice, &r.Supplier, &r.Note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) AddReceipt(ctx context.Context, receipt domain.MaterialReceipt) (*domain.MaterialReceipt, error) {
	if receipt.Quantity <= 0 || receipt.UnitPrice < 0 || receipt.Date == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO material_receipts (material_id, receipt_date, quantity, unit_price, supplier, note)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, receipt.MaterialID, receipt.Date, receipt.Quantity, receipt.UnitPrice, receipt.Supplier, receipt.Note).Scan(&receipt.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := repriceFromReceipts(ctx, tx, receipt.MaterialID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := receipt
	return &created, nil
}

func (s *Store) UpdateReceipt(ctx context.Context, receipt domain.MaterialReceipt) (*domain.MaterialReceipt, error) {
	if receipt.Quantity <= 0 || receipt.UnitPrice < 0 || receipt.Date == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE material_receipts
		SET receipt_date = $2, quantity = $3, unit_price = $4, supplier = $5, note = $6
		WHERE id = $1
		RETURNING material_id
	`, receipt.ID, receipt.Date, receipt.Quantity, receipt.UnitPrice, receipt.Supplier, receipt.Note).Scan(&receipt.MaterialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := repriceFromReceipts(ctx, tx, receipt.MaterialID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := receipt
	return &updated, nil
}

func (s *Store) DeleteReceipt(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var materialID int64
	err = tx.QueryRowContext(ctx, `
		DELETE FROM material_receipts WHERE id = $1 RETURNING material_id
	`, id).Scan(&materialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if err := repriceFromReceipts(ctx, tx, materialID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AveragePrice(ctx context.Context, materialID int64) (domain.AveragePrice, error) {
	if _, err := s.GetMaterial(ctx, materialID); err != nil {
		return domain.AveragePrice{}, err
	}
	return averagePrice(ctx, s.db, materialID)
}

func averagePrice(ctx context.Context, q querier, materialID int64) (domain.AveragePrice, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT quantity, unit_price FROM material_receipts WHERE material_id = $1
	`, materialID)
	if err != nil {
		return domain.AveragePrice{}, err
	}
	defer rows.Close()

	history := make([]domain.MaterialReceipt, 0, 32)
	for rows.Next() {
		var r domain.MaterialReceipt
		if err := rows.Scan(&r.Quantity, &r.UnitPrice); err != nil {
			return domain.AveragePrice{}, err
		}
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		return domain.AveragePrice{}, err
	}
	return costing.WeightedAverage(history), nil
}

// repriceFromReceipts re-derives a raw material's price from its receipt
// history and cascades. With no receipts left the manually entered purchase
// price takes over again.
func repriceFromReceipts(ctx context.Context, q querier, materialID int64) error {
	var materialType string
	var weight, purchasePrice float64
	err := q.QueryRowContext(ctx, `
		SELECT type, weight, purchase_price FROM materials WHERE id = $1
	`, materialID).Scan(&materialType, &weight, &purchasePrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if materialType == domain.MaterialTypePrep {
		// Receipts against a prep material never override its recipe price.
		return cascade(ctx, q, nil, materialID)
	}

	avg, err := averagePrice(ctx, q, materialID)
	if err != nil {
		return err
	}
	pricePerUnit := float64(0)
	newPurchase := purchasePrice
	switch {
	case avg.ReceiptCount > 0:
		pricePerUnit = avg.AvgPrice
		newPurchase = avg.AvgPrice * weight
	case weight > 0:
		pricePerUnit = purchasePrice / weight
	}
	_, err = q.ExecContext(ctx, `
		UPDATE materials SET price_per_unit = $2, purchase_price = $3 WHERE id = $1
	`, materialID, pricePerUnit, newPurchase)
	if err != nil {
		return err
	}
	return cascade(ctx, q, nil, materialID)
}

// Daily records.

func (s *Store) ListProduction(ctx context.Context, date string) ([]domain.ProductionLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.quantity, r.production_date, r.note, p.name, p.unit
		FROM production_records r
		JOIN products p ON p.id = r.product_id
		WHERE ($1 = '' OR r.production_date = $1)
		ORDER BY r.production_date DESC, p.name
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ProductionLine, 0, 64)
	for rows.Next() {
		var line domain.ProductionLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.Date, &line.Note, &line.ProductName, &line.Unit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) AddProduction(ctx context.Context, record domain.ProductionRecord) (*domain.ProductionRecord, error) {
	if record.Quantity <= 0 || record.Date == "" {
		return nil, store.ErrInvalidInput
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO production_records (product_id, quantity, production_date, note)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (product_id, production_date)
		DO UPDATE SET quantity = EXCLUDED.quantity, note = EXCLUDED.note
		RETURNING id
	`, record.ProductID, record.Quantity, record.Date, record.Note).Scan(&record.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := record
	return &created, nil
}

func (s *Store) DeleteProduction(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM production_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetProductionForSync(ctx context.Context, recordID int64) (*domain.ProductionSyncView, error) {
	var v domain.ProductionSyncView
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, p.name, p.erp_code, r.quantity, p.price, r.production_date
		FROM production_records r
		JOIN products p ON p.id = r.product_id
		WHERE r.id = $1
	`, recordID).Scan(&v.RecordID, &v.ProductName, &v.ErpCode, &v.Quantity, &v.Price, &v.Date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetReceiptForSync(ctx context.Context, recordID int64) (*domain.ReceiptSyncView, error) {
	var v domain.ReceiptSyncView
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, m.name, m.erp_code, r.quantity, r.unit_price, r.supplier, r.receipt_date
		FROM material_receipts r
		JOIN materials m ON m.id = r.material_id
		WHERE r.id = $1
	`, recordID).Scan(&v.RecordID, &v.MaterialName, &v.ErpCode, &v.Quantity, &v.UnitPrice, &v.Supplier, &v.Date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListInventory(ctx context.Context, date string) ([]domain.InventoryLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.quantity, r.inventory_date, r.note, p.name, p.unit
		FROM inventory_records r
		JOIN products p ON p.id = r.product_id
		WHERE ($1 = '' OR r.inventory_date = $1)
		ORDER BY r.inventory_date DESC, p.name
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.InventoryLine, 0, 64)
	for rows.Next() {
		var line domain.InventoryLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.Date, &line.Note, &line.ProductName, &line.Unit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListIrregular(ctx context.Context, date string) ([]domain.IrregularRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, opening_inventory, production, donation, closing_inventory, record_date, note
		FROM irregular_records
		WHERE ($1 = '' OR record_date = $1)
		ORDER BY record_date DESC, product_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.IrregularRecord, 0, 32)
	for rows.Next() {
		var rec domain.IrregularRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.OpeningInventory, &rec.Production, &rec.Donation, &rec.ClosingInventory, &rec.Date, &rec.Note); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) SaveProductionGrid(ctx context.Context, date string, edits []domain.QuantityEdit) error {
	return s.saveQuantityGrid(ctx, "production_records", "production_date", date, edits)
}

func (s *Store) SaveInventoryGrid(ctx context.Context, date string, edits []domain.QuantityEdit) error {
	return s.saveQuantityGrid(ctx, "inventory_records", "inventory_date", date, edits)
}

// saveQuantityGrid applies one bulk grid submission atomically: zero or
// missing quantity deletes the row for (product, date), anything else
// upserts it. Table and column names are fixed call sites, never user input.
func (s *Store) saveQuantityGrid(ctx context.Context, table string, dateColumn string, date string, edits []domain.QuantityEdit) error {
	if date == "" {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt := `DELETE FROM ` + table + ` WHERE product_id = $1 AND ` + dateColumn + ` = $2`
	upsertStmt := `
		INSERT INTO ` + table + ` (product_id, quantity, ` + dateColumn + `)
		VALUES ($1,$2,$3)
		ON CONFLICT (product_id, ` + dateColumn + `)
		DO UPDATE SET quantity = EXCLUDED.quantity`

	for _, e := range edits {
		if e.Zero() {
			if _, err := tx.ExecContext(ctx, deleteStmt, e.ProductID, date); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertStmt, e.ProductID, *e.Quantity, date); err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SaveIrregularGrid(ctx context.Context, date string, edits []domain.IrregularEdit) error {
	if date == "" {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range edits {
		if e.Zero() {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM irregular_records WHERE product_id = $1 AND record_date = $2
			`, e.ProductID, date)
			if err != nil {
				return err
			}
			continue
		}
		opening, production, donation, closing := e.Values()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO irregular_records (product_id, opening_inventory, production, donation, closing_inventory, record_date)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (product_id, record_date)
			DO UPDATE SET opening_inventory = EXCLUDED.opening_inventory,
				production = EXCLUDED.production,
				donation = EXCLUDED.donation,
				closing_inventory = EXCLUDED.closing_inventory
		`, e.ProductID, opening, production, donation, closing, date)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

// Production targets.

func (s *Store) ListTargets(ctx context.Context) ([]domain.TargetLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.unit, p.category, p.price,
			COALESCE(t.weekday_target, 0), COALESCE(t.weekend_target, 0)
		FROM products p
		LEFT JOIN target_production t ON t.product_id = p.id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.TargetLine, 0, 64)
	for rows.Next() {
		var line domain.TargetLine
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.Unit, &line.Category, &line.Price, &line.WeekdayTarget, &line.WeekendTarget); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) SaveTargets(ctx context.Context, edits []domain.TargetEdit) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range edits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO target_production (product_id, weekday_target, weekend_target)
			VALUES ($1,$2,$3)
			ON CONFLICT (product_id)
			DO UPDATE SET weekday_target = EXCLUDED.weekday_target, weekend_target = EXCLUDED.weekend_target
		`, e.ProductID, e.WeekdayTarget, e.WeekendTarget)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

// Statistics.

func (s *Store) ProductStats(ctx context.Context, filter domain.StatsFilter) ([]domain.ProductStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.unit, p.price, p.cost, p.category, p.stock_type,
			COALESCE(SUM(r.quantity), 0),
			COUNT(r.id)::int,
			COALESCE(SUM(r.quantity * p.price), 0),
			COALESCE(SUM(r.quantity * p.cost), 0)
		FROM production_records r
		JOIN products p ON p.id = r.product_id
		WHERE ($1 = '' OR r.production_date >= $1)
			AND ($2 = '' OR r.production_date <= $2)
			AND ($3 = '' OR p.category = $3)
		GROUP BY p.id, p.name, p.unit, p.price, p.cost, p.category, p.stock_type
		ORDER BY COALESCE(SUM(r.quantity * p.price), 0) DESC, p.name
	`, filter.StartDate, filter.EndDate, filter.Category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProductStats, 0, 64)
	for rows.Next() {
		var st domain.ProductStats
		if err := rows.Scan(&st.ProductID, &st.Name, &st.Unit, &st.Price, &st.Cost, &st.Category, &st.StockType,
			&st.TotalQuantity, &st.RecordCount, &st.TotalSales, &st.TotalCost); err != nil {
			return nil, err
		}
		st.TotalProfit = st.TotalSales - st.TotalCost
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ERP settings, sync logs, code assignment.

func (s *Store) GetErpSettings(ctx context.Context) (*domain.ErpSettings, error) {
	var settings domain.ErpSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT id, com_code, user_id, zone, api_cert_key, lan_type, is_active, updated_at
		FROM erp_settings
		WHERE is_active = true
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(&settings.ID, &settings.ComCode, &settings.UserID, &settings.Zone, &settings.APICertKey, &settings.LanType, &settings.Active, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) SaveErpSettings(ctx context.Context, settings domain.ErpSettings) (*domain.ErpSettings, error) {
	if settings.ComCode == "" || settings.UserID == "" || settings.APICertKey == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE erp_settings SET is_active = false`); err != nil {
		return nil, err
	}
	settings.Active = true
	settings.UpdatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO erp_settings (com_code, user_id, zone, api_cert_key, lan_type, is_active, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,$6)
		RETURNING id
	`, settings.ComCode, settings.UserID, settings.Zone, settings.APICertKey, settings.LanType, settings.UpdatedAt).Scan(&settings.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := settings
	return &saved, nil
}

func (s *Store) CreateSyncLog(ctx context.Context, entry domain.SyncLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (sync_type, record_id, record_type, status, request_data, response_data, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.SyncType, entry.RecordID, entry.RecordType, entry.Status, entry.RequestData, entry.ResponseData, entry.ErrorMessage, entry.CreatedAt)
	return err
}

func (s *Store) ListSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_type, record_id, record_type, status, request_data, response_data, error_message, created_at
		FROM sync_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.SyncLog, 0, limit)
	for rows.Next() {
		var entry domain.SyncLog
		if err := rows.Scan(&entry.ID, &entry.SyncType, &entry.RecordID, &entry.RecordType, &entry.Status, &entry.RequestData, &entry.ResponseData, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) SyncStats(ctx context.Context) (domain.SyncStats, error) {
	stats := domain.SyncStats{ByType: map[string]domain.SyncTypeStats{}}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_type,
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0)::int,
			COALESCE(SUM(CASE WHEN status <> 'success' THEN 1 ELSE 0 END), 0)::int
		FROM sync_logs
		GROUP BY sync_type
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var syncType string
		var byType domain.SyncTypeStats
		if err := rows.Scan(&syncType, &byType.Success, &byType.Failed); err != nil {
			return stats, err
		}
		stats.ByType[syncType] = byType
		stats.Success += byType.Success
		stats.Failed += byType.Failed
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	stats.Total = stats.Success + stats.Failed
	return stats, nil
}

func (s *Store) ListUncodedProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE erp_code = '' ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListUncodedMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+materialColumns+` FROM materials WHERE erp_code = '' ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.Material, 0, 32)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}

func (s *Store) ApplyCodes(ctx context.Context, assignments []domain.CodeAssignment) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	applied := 0
	for _, a := range assignments {
		if a.ErpCode == "" {
			continue
		}
		var table string
		switch a.Kind {
		case "product":
			table = "products"
		case "material":
			table = "materials"
		default:
			return 0, store.ErrInvalidInput
		}
		res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET erp_code = $2 WHERE id = $1`, a.ID, a.ErpCode)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		applied += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

// Auth.

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicateName
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
