package postgres

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"bakeops/backend/internal/domain"
)

func TestReceiptCascadesToProductCost(t *testing.T) {
	databaseURL := os.Getenv("BAKEOPS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BAKEOPS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	flourName := fmt.Sprintf("flour-cascade-it-%d", stamp)
	doughName := fmt.Sprintf("dough-cascade-it-%d", stamp)
	breadName := fmt.Sprintf("bread-cascade-it-%d", stamp)

	flour, err := s.CreateMaterial(ctx, domain.Material{
		Name: flourName, Type: domain.MaterialTypeRaw, Weight: 1000, Unit: "g", PurchasePrice: 5000,
	})
	if err != nil {
		t.Fatalf("create flour: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteMaterial(ctx, flour.ID) })

	dough, err := s.CreateMaterial(ctx, domain.Material{
		Name: doughName, Type: domain.MaterialTypePrep, Weight: 500, Unit: "g",
	})
	if err != nil {
		t.Fatalf("create dough: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteMaterial(ctx, dough.ID) })

	if _, err := s.AddRecipeItem(ctx, domain.RecipeItem{PrepID: dough.ID, IngredientID: flour.ID, Quantity: 200}); err != nil {
		t.Fatalf("add recipe item: %v", err)
	}

	bread, err := s.CreateProduct(ctx, domain.Product{Name: breadName, Unit: "ea", Price: 4000, StockType: domain.StockTypeNormal})
	if err != nil {
		t.Fatalf("create bread: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteProduct(ctx, bread.ID) })

	if _, err := s.AddBOMItem(ctx, domain.BOMItem{ProductID: bread.ID, MaterialID: dough.ID, Quantity: 3}); err != nil {
		t.Fatalf("add bom item: %v", err)
	}

	// Flour: 5000 for 1000g -> 5/g. Dough: 200g flour per 500g batch -> 2/g.
	// Bread: 3g dough -> cost 6.
	got, err := s.GetProduct(ctx, bread.ID)
	if err != nil {
		t.Fatalf("get bread: %v", err)
	}
	if math.Abs(got.Cost-6) > 1e-9 {
		t.Fatalf("bread cost = %v, want 6", got.Cost)
	}

	// A receipt at 10/g doubles flour, dough follows to 4/g, bread to 12.
	if _, err := s.AddReceipt(ctx, domain.MaterialReceipt{
		MaterialID: flour.ID, Date: "2026-01-15", Quantity: 2000, UnitPrice: 10,
	}); err != nil {
		t.Fatalf("add receipt: %v", err)
	}

	reloadedDough, err := s.GetMaterial(ctx, dough.ID)
	if err != nil {
		t.Fatalf("get dough: %v", err)
	}
	if math.Abs(reloadedDough.PricePerUnit-4) > 1e-9 {
		t.Fatalf("dough price per unit = %v, want 4", reloadedDough.PricePerUnit)
	}

	got, err = s.GetProduct(ctx, bread.ID)
	if err != nil {
		t.Fatalf("get bread after receipt: %v", err)
	}
	if math.Abs(got.Cost-12) > 1e-9 {
		t.Fatalf("bread cost after receipt = %v, want 12", got.Cost)
	}
}
