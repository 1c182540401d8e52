package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bakeops/backend/internal/costing"
	"bakeops/backend/internal/domain"
	"bakeops/backend/internal/ecount"
	"bakeops/backend/internal/store/memory"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestService() *Service {
	log := quietLogger()
	return New(memory.New(), ecount.NewClient(nil, log), log)
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func floatPtr(v float64) *float64 { return &v }

func TestSalesGridReconcilesRegularProducts(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 3800, Category: "pastry"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	// Yesterday's closing inventory becomes today's opening.
	if err := svc.SaveInventoryGrid(ctx, "2026-02-01", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(10)}}); err != nil {
		t.Fatalf("save opening inventory: %v", err)
	}
	if err := svc.SaveProductionGrid(ctx, "2026-02-02", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(5)}}); err != nil {
		t.Fatalf("save production: %v", err)
	}
	if err := svc.SaveInventoryGrid(ctx, "2026-02-02", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(3)}}); err != nil {
		t.Fatalf("save closing inventory: %v", err)
	}

	rows, err := svc.SalesGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("sales grid: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 sales row, got %d", len(rows))
	}
	row := rows[0]
	if row.OpeningInventory != 10 || row.Production != 5 || row.ClosingInventory != 3 {
		t.Fatalf("unexpected base quantities: %+v", row)
	}
	if row.Donation != 0 {
		t.Fatalf("regular products never report donation in the sales grid, got %v", row.Donation)
	}
	if row.Sales != 12 {
		t.Fatalf("sales = %v, want 12", row.Sales)
	}
}

func TestSalesGridIrregularProducts(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: "Event Cake", Unit: "ea", Price: 32000, StockType: domain.StockTypePreorder, Category: domain.CategoryIrregular,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	err = svc.SaveIrregularGrid(ctx, "2026-02-02", []domain.IrregularEdit{{
		ProductID:        product.ID,
		OpeningInventory: floatPtr(10),
		Production:       floatPtr(5),
		Donation:         floatPtr(2),
		ClosingInventory: floatPtr(3),
	}})
	if err != nil {
		t.Fatalf("save irregular grid: %v", err)
	}

	rows, err := svc.SalesGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("sales grid: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 sales row, got %d", len(rows))
	}
	row := rows[0]
	if row.Donation != 2 {
		t.Fatalf("donation = %v, want 2", row.Donation)
	}
	if row.Sales != 10 {
		t.Fatalf("sales = %v, want 10", row.Sales)
	}
}

func TestDonationGrid(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	normal, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Baguette", Unit: "ea", Price: 4500})
	if err != nil {
		t.Fatalf("create normal product: %v", err)
	}
	unsold, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Milk Bread", Unit: "ea", Price: 3200})
	if err != nil {
		t.Fatalf("create second normal product: %v", err)
	}
	preorder, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Whole Cake", Unit: "ea", Price: 28000, StockType: domain.StockTypePreorder})
	if err != nil {
		t.Fatalf("create preorder product: %v", err)
	}
	irregular, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Event Cake", Unit: "ea", Price: 32000, Category: domain.CategoryIrregular})
	if err != nil {
		t.Fatalf("create irregular product: %v", err)
	}

	err = svc.SaveInventoryGrid(ctx, "2026-02-02", []domain.QuantityEdit{
		{ProductID: normal.ID, Quantity: floatPtr(4)},
		{ProductID: preorder.ID, Quantity: floatPtr(2)},
	})
	if err != nil {
		t.Fatalf("save inventory: %v", err)
	}
	err = svc.SaveIrregularGrid(ctx, "2026-02-02", []domain.IrregularEdit{{
		ProductID: irregular.ID, OpeningInventory: floatPtr(6), Donation: floatPtr(2), ClosingInventory: floatPtr(4),
	}})
	if err != nil {
		t.Fatalf("save irregular: %v", err)
	}

	rows, err := svc.DonationGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("donation grid: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 donation rows, got %d: %+v", len(rows), rows)
	}
	for _, row := range rows {
		switch row.Product.ID {
		case normal.ID:
			if row.Quantity != 4 || row.ProductType != "regular" {
				t.Fatalf("normal product row = %+v", row)
			}
		case unsold.ID:
			// Normal-stock products appear even with nothing left to donate.
			if row.Quantity != 0 || row.ProductType != "regular" {
				t.Fatalf("zero-inventory product row = %+v", row)
			}
		case irregular.ID:
			if row.Quantity != 2 || row.ProductType != "irregular" {
				t.Fatalf("irregular product row = %+v", row)
			}
		default:
			t.Fatalf("unexpected product %d in donation grid", row.Product.ID)
		}
	}
}

func TestDonationGridSkipsFractionalIrregularDonations(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Sample Box", Unit: "ea", Price: 12000, Category: domain.CategoryIrregular})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	err = svc.SaveIrregularGrid(ctx, "2026-02-02", []domain.IrregularEdit{{
		ProductID: product.ID, OpeningInventory: floatPtr(3), Donation: floatPtr(0.5), ClosingInventory: floatPtr(2),
	}})
	if err != nil {
		t.Fatalf("save irregular: %v", err)
	}

	rows, err := svc.DonationGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("donation grid: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("donations below 1 should be dropped, got %+v", rows)
	}
}

func TestSaveProductionGridZeroDeletesRecord(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 3800})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if err := svc.SaveProductionGrid(ctx, "2026-02-02", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(12)}}); err != nil {
		t.Fatalf("save production: %v", err)
	}
	rows, err := svc.ProductionGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("production grid: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 12 || rows[0].RecordID == nil {
		t.Fatalf("grid after save = %+v", rows)
	}

	if err := svc.SaveProductionGrid(ctx, "2026-02-02", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(0)}}); err != nil {
		t.Fatalf("save zero quantity: %v", err)
	}
	rows, err = svc.ProductionGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("production grid after delete: %v", err)
	}
	if rows[0].RecordID != nil {
		t.Fatalf("zero quantity should delete the record, got %+v", rows[0])
	}
	records, err := svc.ListProduction(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("list production: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no production records, got %d", len(records))
	}
}

func TestIrregularGridCarriesPreviousClosing(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Event Cake", Unit: "ea", Price: 32000, Category: domain.CategoryIrregular})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	err = svc.SaveIrregularGrid(ctx, "2026-02-01", []domain.IrregularEdit{{
		ProductID: product.ID, OpeningInventory: floatPtr(9), ClosingInventory: floatPtr(7),
	}})
	if err != nil {
		t.Fatalf("save previous day: %v", err)
	}

	rows, err := svc.IrregularGrid(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("irregular grid: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].PrevClosing != 7 {
		t.Fatalf("prev closing = %v, want 7", rows[0].PrevClosing)
	}
	if rows[0].RecordID != nil {
		t.Fatalf("no record exists for the day yet, got %+v", rows[0])
	}
}

func TestReceiptRepricesMaterialAndProductCost(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	flour, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Bread Flour", Weight: 1000, Unit: "g", PurchasePrice: 5000})
	if err != nil {
		t.Fatalf("create material: %v", err)
	}
	if flour.PricePerUnit != 5 {
		t.Fatalf("initial price per unit = %v, want 5", flour.PricePerUnit)
	}

	bread, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Campagne", Unit: "ea", Price: 6500})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := svc.AddBOMItem(ctx, domain.BOMItem{ProductID: bread.ID, MaterialID: flour.ID, Quantity: 200}); err != nil {
		t.Fatalf("add bom item: %v", err)
	}

	got, err := svc.GetProduct(ctx, bread.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Cost != 1000 {
		t.Fatalf("cost before receipt = %v, want 1000", got.Cost)
	}

	_, err = svc.AddReceipt(ctx, domain.MaterialReceipt{MaterialID: flour.ID, Date: "2026-02-02", Quantity: 2000, UnitPrice: 10})
	if err != nil {
		t.Fatalf("add receipt: %v", err)
	}

	updated, err := svc.GetMaterial(ctx, flour.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if updated.PricePerUnit != 10 {
		t.Fatalf("price per unit after receipt = %v, want 10", updated.PricePerUnit)
	}
	got, err = svc.GetProduct(ctx, bread.ID)
	if err != nil {
		t.Fatalf("get product after receipt: %v", err)
	}
	if got.Cost != 2000 {
		t.Fatalf("cost after receipt = %v, want 2000", got.Cost)
	}
}

func TestAddRecipeItemRejectsCycle(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	doughA, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Dough A", Type: domain.MaterialTypePrep, Weight: 1000, Unit: "g"})
	if err != nil {
		t.Fatalf("create prep a: %v", err)
	}
	doughB, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Dough B", Type: domain.MaterialTypePrep, Weight: 1000, Unit: "g"})
	if err != nil {
		t.Fatalf("create prep b: %v", err)
	}

	if _, err := svc.AddRecipeItem(ctx, domain.RecipeItem{PrepID: doughA.ID, IngredientID: doughB.ID, Quantity: 500}); err != nil {
		t.Fatalf("first recipe edge: %v", err)
	}
	_, err = svc.AddRecipeItem(ctx, domain.RecipeItem{PrepID: doughB.ID, IngredientID: doughA.ID, Quantity: 500})
	if !errors.Is(err, costing.ErrRecipeCycle) {
		t.Fatalf("expected recipe cycle error, got %v", err)
	}

	// The rejected edge must not linger.
	lines, err := svc.ListRecipe(ctx, doughB.ID)
	if err != nil {
		t.Fatalf("list recipe: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("cycle-forming edge was persisted: %+v", lines)
	}
}

func TestMutationsRequireAdmin(t *testing.T) {
	svc := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})

	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Price: 3800}); err == nil {
		t.Fatalf("expected staff create product to fail")
	}
	if _, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Bread Flour", Weight: 1000, PurchasePrice: 5000}); err == nil {
		t.Fatalf("expected staff create material to fail")
	}
	if err := svc.SaveTargets(ctx, []domain.TargetEdit{{ProductID: 1, WeekdayTarget: 10}}); err == nil {
		t.Fatalf("expected staff save targets to fail")
	}

	// Grid saves are open to staff.
	product, err := svc.CreateProduct(adminContext(), domain.ProductCreateRequest{Name: "Baguette", Price: 4500})
	if err != nil {
		t.Fatalf("create product as admin: %v", err)
	}
	if err := svc.SaveProductionGrid(ctx, "2026-02-02", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(6)}}); err != nil {
		t.Fatalf("staff production save: %v", err)
	}
}

func TestStatisticsAggregatesByCategory(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	croissant, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 4000, Category: "pastry"})
	if err != nil {
		t.Fatalf("create croissant: %v", err)
	}
	baguette, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Baguette", Unit: "ea", Price: 5000, Category: "bread"})
	if err != nil {
		t.Fatalf("create baguette: %v", err)
	}

	for _, day := range []string{"2026-02-01", "2026-02-02"} {
		err = svc.SaveProductionGrid(ctx, day, []domain.QuantityEdit{
			{ProductID: croissant.ID, Quantity: floatPtr(10)},
			{ProductID: baguette.ID, Quantity: floatPtr(4)},
		})
		if err != nil {
			t.Fatalf("save production %s: %v", day, err)
		}
	}

	resp, err := svc.Statistics(ctx, domain.StatsFilter{StartDate: "2026-02-01", EndDate: "2026-02-02"})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if resp.Summary.ProductCount != 2 {
		t.Fatalf("product count = %d, want 2", resp.Summary.ProductCount)
	}
	if resp.Summary.TotalQuantity != 28 {
		t.Fatalf("total quantity = %v, want 28", resp.Summary.TotalQuantity)
	}
	// 20*4000 + 8*5000
	if resp.Summary.TotalSales != 120000 {
		t.Fatalf("total sales = %v, want 120000", resp.Summary.TotalSales)
	}
	if len(resp.ByCategory) != 2 {
		t.Fatalf("expected 2 category rows, got %d", len(resp.ByCategory))
	}
	if resp.ByCategory[0].Category != "pastry" || resp.ByCategory[0].TotalSales != 80000 {
		t.Fatalf("top category = %+v, want pastry with 80000", resp.ByCategory[0])
	}

	filtered, err := svc.Statistics(ctx, domain.StatsFilter{Category: "bread"})
	if err != nil {
		t.Fatalf("filtered statistics: %v", err)
	}
	if filtered.Summary.ProductCount != 1 || filtered.Summary.TotalSales != 40000 {
		t.Fatalf("bread summary = %+v", filtered.Summary)
	}
}

func TestErpSettingsMasksCertKey(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	saved, err := svc.SaveErpSettings(ctx, domain.ErpSettings{
		ComCode: "12345", UserID: "bakery", Zone: "CD", APICertKey: "cert-key-98765",
	})
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.APICertKey != "**********8765" {
		t.Fatalf("masked key = %q", saved.APICertKey)
	}
	if saved.LanType != "ko-KR" {
		t.Fatalf("lan type default = %q", saved.LanType)
	}

	got, err := svc.GetErpSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.APICertKey != "**********8765" {
		t.Fatalf("read-back key = %q", got.APICertKey)
	}
}

func newSyncTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := quietLogger()
	erp := ecount.NewClient(nil, log)
	erp.BaseURL = server.URL + "%.0s"
	return New(memory.New(), erp, log)
}

func TestSyncProductionRecordsSuccessLog(t *testing.T) {
	var salePath string
	svc := newSyncTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/OAPI/V2/OAPILogin":
			_ = json.NewEncoder(w).Encode(map[string]string{"SESSION_ID": "sess-7"})
		default:
			salePath = r.URL.Path
			_ = json.NewEncoder(w).Encode(map[string]string{"Status": "200"})
		}
	})
	ctx := adminContext()

	if _, err := svc.SaveErpSettings(ctx, domain.ErpSettings{ComCode: "12345", UserID: "bakery", Zone: "CD", APICertKey: "cert"}); err != nil {
		t.Fatalf("save erp settings: %v", err)
	}
	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 3800, ErpCode: "P-100"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	record, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: product.ID, Quantity: 40, Date: "2026-02-02"})
	if err != nil {
		t.Fatalf("add production: %v", err)
	}

	result, err := svc.SyncProduction(ctx, record.ID)
	if err != nil {
		t.Fatalf("sync production: %v", err)
	}
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Error)
	}
	if salePath != "/OAPI/V2/Sale/SaveSale" {
		t.Fatalf("sale path = %q", salePath)
	}

	logs, err := svc.ListSyncLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list sync logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 sync log, got %d", len(logs))
	}
	entry := logs[0]
	if entry.SyncType != domain.SyncTypeSale || entry.Status != domain.SyncStatusSuccess {
		t.Fatalf("sync log = %+v", entry)
	}
	if entry.RequestData == "" || entry.ResponseData == "" {
		t.Fatalf("sync log should capture request and response, got %+v", entry)
	}
}

func TestSyncProductionWithoutErpCodeFailsSoftly(t *testing.T) {
	svc := newSyncTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no API call expected for an uncoded product")
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx := adminContext()

	if _, err := svc.SaveErpSettings(ctx, domain.ErpSettings{ComCode: "12345", UserID: "bakery", Zone: "CD", APICertKey: "cert"}); err != nil {
		t.Fatalf("save erp settings: %v", err)
	}
	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 3800})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	record, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: product.ID, Quantity: 40, Date: "2026-02-02"})
	if err != nil {
		t.Fatalf("add production: %v", err)
	}

	result, err := svc.SyncProduction(ctx, record.ID)
	if err != nil {
		t.Fatalf("sync production: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Fatalf("expected soft failure, got %+v", result)
	}

	stats, err := svc.SyncStats(ctx)
	if err != nil {
		t.Fatalf("sync stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed count = %d, want 1", stats.Failed)
	}
}

func TestSyncProductionWithoutSettingsFails(t *testing.T) {
	svc := newTestService()

	_, err := svc.SyncProduction(adminContext(), 1)
	if err == nil {
		t.Fatalf("expected sync to fail without erp settings")
	}
}

func TestErpConnectionTest(t *testing.T) {
	accept := true
	svc := newSyncTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if accept {
			_ = json.NewEncoder(w).Encode(map[string]string{"SESSION_ID": "sess-9"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"SESSION_ID": ""})
	})
	ctx := adminContext()

	if err := svc.TestErpConnection(ctx); err == nil {
		t.Fatalf("expected connection test to fail without settings")
	}
	if _, err := svc.SaveErpSettings(ctx, domain.ErpSettings{ComCode: "12345", UserID: "bakery", Zone: "CD", APICertKey: "cert"}); err != nil {
		t.Fatalf("save erp settings: %v", err)
	}

	if err := svc.TestErpConnection(ctx); err != nil {
		t.Fatalf("connection test: %v", err)
	}

	accept = false
	if err := svc.TestErpConnection(ctx); err == nil {
		t.Fatalf("expected connection test to fail on rejected login")
	}
}

func TestSyncProductionBatchCountsResults(t *testing.T) {
	svc := newSyncTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/OAPI/V2/OAPILogin" {
			_ = json.NewEncoder(w).Encode(map[string]string{"SESSION_ID": "sess-7"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"Status": "200"})
	})
	ctx := adminContext()

	if _, err := svc.SaveErpSettings(ctx, domain.ErpSettings{ComCode: "12345", UserID: "bakery", Zone: "CD", APICertKey: "cert"}); err != nil {
		t.Fatalf("save erp settings: %v", err)
	}
	coded, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Price: 3800, ErpCode: "P-100"})
	if err != nil {
		t.Fatalf("create coded product: %v", err)
	}
	uncoded, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Baguette", Price: 4500})
	if err != nil {
		t.Fatalf("create uncoded product: %v", err)
	}
	for _, id := range []int64{coded.ID, uncoded.ID} {
		if _, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: id, Quantity: 10, Date: "2026-02-02"}); err != nil {
			t.Fatalf("add production: %v", err)
		}
	}

	resp, err := svc.SyncProductionBatch(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("batch sync: %v", err)
	}
	if resp.Total != 2 || resp.Success != 1 || resp.Failed != 1 {
		t.Fatalf("batch response = %+v", resp)
	}
}

func TestSyncReceiptBatchCountsResults(t *testing.T) {
	svc := newSyncTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/OAPI/V2/OAPILogin" {
			_ = json.NewEncoder(w).Encode(map[string]string{"SESSION_ID": "sess-7"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"Status": "200"})
	})
	ctx := adminContext()

	if _, err := svc.SaveErpSettings(ctx, domain.ErpSettings{ComCode: "12345", UserID: "bakery", Zone: "CD", APICertKey: "cert"}); err != nil {
		t.Fatalf("save erp settings: %v", err)
	}
	coded, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Bread Flour", Weight: 1000, PurchasePrice: 5000, ErpCode: "M-200"})
	if err != nil {
		t.Fatalf("create coded material: %v", err)
	}
	uncoded, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Butter", Weight: 500, PurchasePrice: 9000})
	if err != nil {
		t.Fatalf("create uncoded material: %v", err)
	}

	ids := make([]int64, 0, 2)
	for _, materialID := range []int64{coded.ID, uncoded.ID} {
		receipt, err := svc.AddReceipt(ctx, domain.MaterialReceipt{MaterialID: materialID, Quantity: 1000, UnitPrice: 5, Date: "2026-02-02"})
		if err != nil {
			t.Fatalf("add receipt: %v", err)
		}
		ids = append(ids, receipt.ID)
	}

	resp, err := svc.SyncReceiptBatch(ctx, ids)
	if err != nil {
		t.Fatalf("batch sync: %v", err)
	}
	if resp.Total != 2 || resp.Success != 1 || resp.Failed != 1 {
		t.Fatalf("batch response = %+v", resp)
	}
}

func TestAddProductionSameDayReplacesQuantity(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 3800})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	first, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: product.ID, Quantity: 10, Date: "2026-02-02"})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	second, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: product.ID, Quantity: 25, Date: "2026-02-02"})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same-day add allocated a new record: first %d, second %d", first.ID, second.ID)
	}

	lines, err := svc.ListProduction(ctx, "2026-02-02")
	if err != nil {
		t.Fatalf("list production: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected a single record for the day, got %d", len(lines))
	}
	if lines[0].Quantity != 25 {
		t.Fatalf("quantity = %v, want 25", lines[0].Quantity)
	}
}

func TestListInventoryByDate(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Baguette", Unit: "ea", Price: 4500})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if err := svc.SaveInventoryGrid(ctx, "2026-02-01", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(8)}}); err != nil {
		t.Fatalf("save inventory: %v", err)
	}
	if err := svc.SaveInventoryGrid(ctx, "2026-02-02", []domain.QuantityEdit{{ProductID: product.ID, Quantity: floatPtr(3)}}); err != nil {
		t.Fatalf("save inventory: %v", err)
	}

	lines, err := svc.ListInventory(ctx, "2026-02-01")
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 8 {
		t.Fatalf("filtered inventory = %+v", lines)
	}

	all, err := svc.ListInventory(ctx, "")
	if err != nil {
		t.Fatalf("list all inventory: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records without a date filter, got %d", len(all))
	}

	if _, err := svc.ListInventory(ctx, "02/01/2026"); err == nil {
		t.Fatalf("expected malformed date to be rejected")
	}
}

func TestDashboardAggregates(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	today := time.Now().Format("2006-01-02")
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	regular, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Unit: "ea", Price: 4000, Category: "pastry"})
	if err != nil {
		t.Fatalf("create regular product: %v", err)
	}
	irregular, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Event Cake", Unit: "ea", Price: 30000, Category: domain.CategoryIrregular})
	if err != nil {
		t.Fatalf("create irregular product: %v", err)
	}

	if _, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: regular.ID, Quantity: 5, Date: yesterday}); err != nil {
		t.Fatalf("add production: %v", err)
	}
	if _, err := svc.AddProduction(ctx, domain.ProductionRecord{ProductID: regular.ID, Quantity: 10, Date: today}); err != nil {
		t.Fatalf("add production: %v", err)
	}
	err = svc.SaveIrregularGrid(ctx, today, []domain.IrregularEdit{{
		ProductID: irregular.ID, OpeningInventory: floatPtr(4), Donation: floatPtr(1), ClosingInventory: floatPtr(1),
	}})
	if err != nil {
		t.Fatalf("save irregular: %v", err)
	}
	if err := svc.SaveInventoryGrid(ctx, today, []domain.QuantityEdit{{ProductID: regular.ID, Quantity: floatPtr(2)}}); err != nil {
		t.Fatalf("save inventory: %v", err)
	}

	resp, err := svc.Dashboard(ctx, 7)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}

	if len(resp.DailySales) != 2 {
		t.Fatalf("expected 2 daily points, got %+v", resp.DailySales)
	}
	if resp.DailySales[0].Date != yesterday || resp.DailySales[0].RegularSales != 20000 {
		t.Fatalf("yesterday point = %+v", resp.DailySales[0])
	}
	// Today: 10 croissants sold plus 4+0-1-1=2 event cakes.
	if p := resp.DailySales[1]; p.Date != today || p.RegularSales != 40000 || p.IrregularSales != 60000 || p.TotalSales != 100000 {
		t.Fatalf("today point = %+v", p)
	}

	if len(resp.CategorySales) != 1 || resp.CategorySales[0].Category != "pastry" || resp.CategorySales[0].TotalSales != 60000 {
		t.Fatalf("category sales = %+v", resp.CategorySales)
	}
	if len(resp.TopProducts) != 1 || resp.TopProducts[0].Name != "Croissant" || resp.TopProducts[0].TotalQuantity != 15 {
		t.Fatalf("top products = %+v", resp.TopProducts)
	}

	stats := resp.Stats
	if stats.TotalSales != 60000 || stats.TotalMargin != 60000 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgMarginRate != 100 {
		t.Fatalf("margin rate = %v, want 100", stats.AvgMarginRate)
	}
	// Donation value: 2 leftover croissants plus 1 donated event cake.
	if stats.TotalDonation != 38000 {
		t.Fatalf("donation = %v, want 38000", stats.TotalDonation)
	}
}

func TestMatchCodesByName(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Croissant", Price: 3800})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	material, err := svc.CreateMaterial(ctx, domain.MaterialCreateRequest{Name: "Bread Flour", Weight: 1000, PurchasePrice: 5000})
	if err != nil {
		t.Fatalf("create material: %v", err)
	}

	matches, err := svc.MatchCodes(ctx, []domain.CatalogEntry{
		{Code: "P-100", Name: "croissant"},
		{Code: "M-200", Name: "Sugar"},
	})
	if err != nil {
		t.Fatalf("match codes: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 match rows, got %d", len(matches))
	}
	for _, m := range matches {
		switch {
		case m.Kind == "product" && m.ID == product.ID:
			if !m.Matched || m.SuggestedCode != "P-100" {
				t.Fatalf("product match = %+v", m)
			}
		case m.Kind == "material" && m.ID == material.ID:
			if m.Matched {
				t.Fatalf("flour should not match the catalog, got %+v", m)
			}
		default:
			t.Fatalf("unexpected match row %+v", m)
		}
	}

	applied, err := svc.ApplyCodes(ctx, []domain.CodeAssignment{{ID: product.ID, Kind: "product", ErpCode: "P-100"}})
	if err != nil {
		t.Fatalf("apply codes: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}

	remaining, err := svc.MatchCodes(ctx, nil)
	if err != nil {
		t.Fatalf("match codes after apply: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != material.ID {
		t.Fatalf("remaining uncoded = %+v", remaining)
	}
}

func TestDateValidation(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.SalesGrid(ctx, "02/02/2026"); err == nil {
		t.Fatalf("expected malformed date to be rejected")
	}
	if err := svc.SaveProductionGrid(ctx, "2026-2-2", nil); err == nil {
		t.Fatalf("expected non-canonical date to be rejected")
	}
	if _, err := svc.AddReceipt(ctx, domain.MaterialReceipt{MaterialID: 1, Date: "not-a-date", Quantity: 1, UnitPrice: 1}); err == nil {
		t.Fatalf("expected receipt with bad date to be rejected")
	}
}
