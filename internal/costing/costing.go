// Package costing implements the cost graph: weighted-average receipt
// pricing, recipe costing for prep materials, bill-of-materials costing for
// products, and transitive propagation when an upstream price changes.
//
// The engine is pure. Callers build a Graph snapshot (usually inside a store
// transaction), mutate the seed materials, run Propagate, and persist the
// returned changes atomically.
package costing

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"bakeops/backend/internal/domain"
)

// ErrRecipeCycle is returned when prep-material recipes reference each other
// in a loop. Propagation over such a graph would never terminate, so the
// mutation that introduced the loop must be rejected.
var ErrRecipeCycle = errors.New("recipe cycle detected")

// Graph is an in-memory snapshot of every cost-bearing relationship.
type Graph struct {
	Materials map[int64]domain.Material
	Recipes   map[int64][]domain.RecipeItem // prep material id -> edges
	BOMs      map[int64][]domain.BOMItem    // product id -> edges

	usedInRecipe map[int64][]int64 // ingredient id -> prep ids
	usedInBOM    map[int64][]int64 // material id -> product ids
}

func NewGraph() *Graph {
	return &Graph{
		Materials:    make(map[int64]domain.Material),
		Recipes:      make(map[int64][]domain.RecipeItem),
		BOMs:         make(map[int64][]domain.BOMItem),
		usedInRecipe: make(map[int64][]int64),
		usedInBOM:    make(map[int64][]int64),
	}
}

func (g *Graph) AddMaterial(m domain.Material) {
	g.Materials[m.ID] = m
}

func (g *Graph) AddRecipeItem(it domain.RecipeItem) {
	g.Recipes[it.PrepID] = append(g.Recipes[it.PrepID], it)
	g.usedInRecipe[it.IngredientID] = append(g.usedInRecipe[it.IngredientID], it.PrepID)
}

func (g *Graph) AddBOMItem(it domain.BOMItem) {
	g.BOMs[it.ProductID] = append(g.BOMs[it.ProductID], it)
	g.usedInBOM[it.MaterialID] = append(g.usedInBOM[it.MaterialID], it.ProductID)
}

// WeightedAverage computes the quantity-weighted average unit price over a
// material's receipt history. An empty history or a zero total quantity
// yields a zero average.
func WeightedAverage(receipts []domain.MaterialReceipt) domain.AveragePrice {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for _, r := range receipts {
		qty := decimal.NewFromFloat(r.Quantity)
		totalQty = totalQty.Add(qty)
		totalValue = totalValue.Add(qty.Mul(decimal.NewFromFloat(r.UnitPrice)))
	}
	out := domain.AveragePrice{
		TotalQuantity: totalQty.InexactFloat64(),
		ReceiptCount:  len(receipts),
	}
	if !totalQty.IsZero() {
		out.AvgPrice = totalValue.Div(totalQty).InexactFloat64()
	}
	return out
}

// RecipeCost sums quantity times ingredient unit price over a prep
// material's recipe. Unknown ingredients contribute zero.
func (g *Graph) RecipeCost(prepID int64) float64 {
	total := decimal.Zero
	for _, it := range g.Recipes[prepID] {
		ing, ok := g.Materials[it.IngredientID]
		if !ok {
			continue
		}
		total = total.Add(decimal.NewFromFloat(it.Quantity).Mul(decimal.NewFromFloat(ing.PricePerUnit)))
	}
	return total.InexactFloat64()
}

// ProductCost sums quantity times material unit price over a product's bill
// of materials. Unknown materials contribute zero.
func (g *Graph) ProductCost(productID int64) float64 {
	total := decimal.Zero
	for _, it := range g.BOMs[productID] {
		m, ok := g.Materials[it.MaterialID]
		if !ok {
			continue
		}
		total = total.Add(decimal.NewFromFloat(it.Quantity).Mul(decimal.NewFromFloat(m.PricePerUnit)))
	}
	return total.InexactFloat64()
}

// applyRecipeCost derives a prep material's purchase price and unit price
// from its recipe cost. A non-positive batch weight zeroes the unit price
// rather than dividing.
func applyRecipeCost(m domain.Material, recipeCost float64) domain.Material {
	m.PurchasePrice = recipeCost
	if m.Weight > 0 {
		m.PricePerUnit = decimal.NewFromFloat(recipeCost).
			Div(decimal.NewFromFloat(m.Weight)).InexactFloat64()
	} else {
		m.PricePerUnit = 0
	}
	return m
}

// Changes is the delta produced by one propagation run.
type Changes struct {
	// Materials holds every prep material whose derived prices were
	// recomputed, keyed by id. Raw seed materials are the caller's to
	// persist and never appear here.
	Materials map[int64]domain.Material
	// ProductCosts holds the recomputed cost for every product downstream
	// of the seeds.
	ProductCosts map[int64]float64
}

// Propagate recomputes everything downstream of the seed materials: every
// prep material whose recipe (transitively) consumes a seed, and every
// product whose BOM references a seed or a recomputed prep. Seed materials
// that are themselves preps are recomputed too, since their derived prices
// always follow from their recipe.
//
// The affected prep set is processed in dependency order; a cycle among
// recipes yields ErrRecipeCycle and no changes.
func (g *Graph) Propagate(seeds ...int64) (Changes, error) {
	affected := map[int64]bool{}
	var collect func(id int64)
	collect = func(id int64) {
		for _, prepID := range g.usedInRecipe[id] {
			if affected[prepID] {
				continue
			}
			affected[prepID] = true
			collect(prepID)
		}
	}
	for _, seed := range seeds {
		if m, ok := g.Materials[seed]; ok && m.Prep() {
			affected[seed] = true
		}
		collect(seed)
	}

	order, err := g.topoOrder(affected)
	if err != nil {
		return Changes{}, err
	}

	ch := Changes{
		Materials:    make(map[int64]domain.Material),
		ProductCosts: make(map[int64]float64),
	}
	for _, prepID := range order {
		m, ok := g.Materials[prepID]
		if !ok {
			continue
		}
		m = applyRecipeCost(m, g.RecipeCost(prepID))
		g.Materials[prepID] = m
		ch.Materials[prepID] = m
	}

	products := map[int64]bool{}
	for _, seed := range seeds {
		for _, pid := range g.usedInBOM[seed] {
			products[pid] = true
		}
	}
	for prepID := range ch.Materials {
		for _, pid := range g.usedInBOM[prepID] {
			products[pid] = true
		}
	}
	for pid := range products {
		ch.ProductCosts[pid] = g.ProductCost(pid)
	}
	return ch, nil
}

// topoOrder sorts the affected prep materials so every prep comes after the
// affected preps its recipe consumes. DFS with an on-path set rejects
// cycles.
func (g *Graph) topoOrder(affected map[int64]bool) ([]int64, error) {
	const (
		unvisited = 0
		onPath    = 1
		done      = 2
	)
	state := make(map[int64]int, len(affected))
	order := make([]int64, 0, len(affected))

	var visit func(id int64) error
	visit = func(id int64) error {
		switch state[id] {
		case done:
			return nil
		case onPath:
			return ErrRecipeCycle
		}
		state[id] = onPath
		for _, it := range g.Recipes[id] {
			if affected[it.IngredientID] {
				if err := visit(it.IngredientID); err != nil {
					return err
				}
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}

	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
