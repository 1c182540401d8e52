package costing

import (
	"errors"
	"math"
	"testing"

	"bakeops/backend/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeightedAverage(t *testing.T) {
	receipts := []domain.MaterialReceipt{
		{Quantity: 10, UnitPrice: 5},
		{Quantity: 30, UnitPrice: 7},
	}
	avg := WeightedAverage(receipts)
	if !almostEqual(avg.AvgPrice, 6.5) {
		t.Fatalf("avg price = %v, want 6.5", avg.AvgPrice)
	}
	if !almostEqual(avg.TotalQuantity, 40) {
		t.Fatalf("total quantity = %v, want 40", avg.TotalQuantity)
	}
	if avg.ReceiptCount != 2 {
		t.Fatalf("receipt count = %d, want 2", avg.ReceiptCount)
	}
}

func TestWeightedAverageEmptyAndZeroQuantity(t *testing.T) {
	if avg := WeightedAverage(nil); avg.AvgPrice != 0 || avg.ReceiptCount != 0 {
		t.Fatalf("empty history: got %+v", avg)
	}
	avg := WeightedAverage([]domain.MaterialReceipt{{Quantity: 0, UnitPrice: 100}})
	if avg.AvgPrice != 0 {
		t.Fatalf("zero total quantity should yield zero average, got %v", avg.AvgPrice)
	}
}

// buildGraph wires flour (raw) into dough (prep) into bread (product):
// flour 1000g at 5000 -> 5/g; dough = 200g flour per 500g batch -> 1000/500 = 2/g;
// bread consumes 3g dough -> cost 6.
func buildGraph() *Graph {
	g := NewGraph()
	g.AddMaterial(domain.Material{ID: 1, Name: "flour", Type: domain.MaterialTypeRaw, Weight: 1000, PurchasePrice: 5000, PricePerUnit: 5})
	g.AddMaterial(domain.Material{ID: 2, Name: "dough", Type: domain.MaterialTypePrep, Weight: 500})
	g.AddRecipeItem(domain.RecipeItem{PrepID: 2, IngredientID: 1, Quantity: 200})
	g.AddBOMItem(domain.BOMItem{ProductID: 10, MaterialID: 2, Quantity: 3})
	return g
}

func TestPropagateThroughPrepToProduct(t *testing.T) {
	g := buildGraph()

	ch, err := g.Propagate(2)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	dough, ok := ch.Materials[2]
	if !ok {
		t.Fatal("expected dough to be recomputed")
	}
	if !almostEqual(dough.PurchasePrice, 1000) {
		t.Fatalf("dough purchase price = %v, want 1000", dough.PurchasePrice)
	}
	if !almostEqual(dough.PricePerUnit, 2) {
		t.Fatalf("dough price per unit = %v, want 2", dough.PricePerUnit)
	}
	if cost, ok := ch.ProductCosts[10]; !ok || !almostEqual(cost, 6) {
		t.Fatalf("bread cost = %v (present=%v), want 6", cost, ok)
	}
}

func TestPropagateFromUpstreamRawMaterial(t *testing.T) {
	g := buildGraph()
	if _, err := g.Propagate(2); err != nil {
		t.Fatalf("initial propagate: %v", err)
	}

	// Flour doubles in price; dough and bread must follow.
	flour := g.Materials[1]
	flour.PricePerUnit = 10
	flour.PurchasePrice = 10000
	g.AddMaterial(flour)

	ch, err := g.Propagate(1)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if !almostEqual(ch.Materials[2].PricePerUnit, 4) {
		t.Fatalf("dough price per unit = %v, want 4", ch.Materials[2].PricePerUnit)
	}
	if !almostEqual(ch.ProductCosts[10], 12) {
		t.Fatalf("bread cost = %v, want 12", ch.ProductCosts[10])
	}
	if _, ok := ch.Materials[1]; ok {
		t.Fatal("raw seed material must not appear in changes")
	}
}

func TestPropagateChainOfPreps(t *testing.T) {
	g := buildGraph()
	// Glaze consumes 100g dough per 200g batch: cost 200, ppu 1.
	g.AddMaterial(domain.Material{ID: 3, Name: "glaze", Type: domain.MaterialTypePrep, Weight: 200})
	g.AddRecipeItem(domain.RecipeItem{PrepID: 3, IngredientID: 2, Quantity: 100})
	g.AddBOMItem(domain.BOMItem{ProductID: 11, MaterialID: 3, Quantity: 10})

	ch, err := g.Propagate(1)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if !almostEqual(ch.Materials[2].PricePerUnit, 2) {
		t.Fatalf("dough price per unit = %v, want 2", ch.Materials[2].PricePerUnit)
	}
	if !almostEqual(ch.Materials[3].PricePerUnit, 1) {
		t.Fatalf("glaze price per unit = %v, want 1", ch.Materials[3].PricePerUnit)
	}
	if !almostEqual(ch.ProductCosts[11], 10) {
		t.Fatalf("donut cost = %v, want 10", ch.ProductCosts[11])
	}
}

func TestPropagateIsIdempotent(t *testing.T) {
	g := buildGraph()
	first, err := g.Propagate(2)
	if err != nil {
		t.Fatalf("first propagate: %v", err)
	}
	second, err := g.Propagate(2)
	if err != nil {
		t.Fatalf("second propagate: %v", err)
	}
	if first.Materials[2] != second.Materials[2] {
		t.Fatalf("propagation not a fixed point: %+v vs %+v", first.Materials[2], second.Materials[2])
	}
	if !almostEqual(first.ProductCosts[10], second.ProductCosts[10]) {
		t.Fatalf("product cost drifted: %v vs %v", first.ProductCosts[10], second.ProductCosts[10])
	}
}

func TestPropagateRejectsRecipeCycle(t *testing.T) {
	g := NewGraph()
	g.AddMaterial(domain.Material{ID: 1, Name: "a", Type: domain.MaterialTypePrep, Weight: 100})
	g.AddMaterial(domain.Material{ID: 2, Name: "b", Type: domain.MaterialTypePrep, Weight: 100})
	g.AddRecipeItem(domain.RecipeItem{PrepID: 1, IngredientID: 2, Quantity: 10})
	g.AddRecipeItem(domain.RecipeItem{PrepID: 2, IngredientID: 1, Quantity: 10})

	if _, err := g.Propagate(1); !errors.Is(err, ErrRecipeCycle) {
		t.Fatalf("expected ErrRecipeCycle, got %v", err)
	}
}

func TestZeroWeightPrepGetsZeroUnitPrice(t *testing.T) {
	g := buildGraph()
	dough := g.Materials[2]
	dough.Weight = 0
	g.AddMaterial(dough)

	ch, err := g.Propagate(2)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if got := ch.Materials[2]; got.PricePerUnit != 0 || !almostEqual(got.PurchasePrice, 1000) {
		t.Fatalf("zero-weight prep: got ppu=%v purchase=%v, want ppu=0 purchase=1000", got.PricePerUnit, got.PurchasePrice)
	}
}

func TestProductCostIgnoresUnknownMaterials(t *testing.T) {
	g := buildGraph()
	g.AddBOMItem(domain.BOMItem{ProductID: 10, MaterialID: 999, Quantity: 50})
	if _, err := g.Propagate(2); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if cost := g.ProductCost(10); !almostEqual(cost, 6) {
		t.Fatalf("cost with dangling edge = %v, want 6", cost)
	}
}
