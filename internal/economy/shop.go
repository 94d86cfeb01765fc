// Package economy holds the in-session shop and gold rules: rarity-weighted
// item generation for DM-created shops and the sentinel errors the purchase
// path surfaces.
package economy

import (
	"errors"
	"math/rand"

	"github.com/google/uuid"
)

// Purchase failure sentinels, surfaced through the store's transaction.
var (
	ErrInsufficientGold = errors.New("economy: insufficient gold")
	ErrOutOfStock       = errors.New("economy: item out of stock")
	ErrItemNotFound     = errors.New("economy: item not found")
)

// Rarity tiers, cheapest to most expensive.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityLegendary = "legendary"
)

// Item is a purchasable shop entry.
type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rarity string `json:"rarity"`
	Price  int    `json:"price"`
	Qty    int    `json:"qty"`
}

// Shop is a stocked storefront tied to a session.
type Shop struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Items     []Item `json:"items"`
}

type template struct {
	name   string
	rarity string
	price  int
}

// Base catalog the generator draws from. Prices are in gold pieces.
var catalog = []template{
	{"Torch", RarityCommon, 1},
	{"Rations (1 day)", RarityCommon, 2},
	{"Rope, hempen (50 ft)", RarityCommon, 1},
	{"Shortsword", RarityCommon, 10},
	{"Shield", RarityCommon, 10},
	{"Healing Potion", RarityUncommon, 50},
	{"Chain Mail", RarityUncommon, 75},
	{"Longbow", RarityUncommon, 50},
	{"Silvered Dagger", RarityUncommon, 110},
	{"Potion of Greater Healing", RarityRare, 150},
	{"Bag of Holding", RarityRare, 500},
	{"Boots of Elvenkind", RarityRare, 450},
	{"Wand of Magic Missiles", RarityRare, 600},
	{"Flame Tongue", RarityLegendary, 5000},
	{"Cloak of Invisibility", RarityLegendary, 8000},
	{"Staff of Power", RarityLegendary, 12000},
}

// rarityWeight biases generation toward mundane stock.
func rarityWeight(rarity string) int {
	switch rarity {
	case RarityCommon:
		return 8
	case RarityUncommon:
		return 4
	case RarityRare:
		return 2
	default:
		return 1
	}
}

// Generator produces shop stock. A fixed seed yields a reproducible
// storefront, which the tests rely on.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator seeds a generator. Same seed, same stock.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate draws n items from the catalog with rarity weighting. Quantities
// shrink as rarity climbs; legendary items are always singletons.
func (g *Generator) Generate(n int) []Item {
	if n <= 0 {
		return []Item{}
	}
	total := 0
	for _, t := range catalog {
		total += rarityWeight(t.rarity)
	}
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		pick := g.rng.Intn(total)
		var chosen template
		for _, t := range catalog {
			pick -= rarityWeight(t.rarity)
			if pick < 0 {
				chosen = t
				break
			}
		}
		qty := 1
		switch chosen.rarity {
		case RarityCommon:
			qty = 2 + g.rng.Intn(9)
		case RarityUncommon:
			qty = 1 + g.rng.Intn(4)
		case RarityRare:
			qty = 1 + g.rng.Intn(2)
		}
		items = append(items, Item{
			ID:     uuid.NewString(),
			Name:   chosen.name,
			Rarity: chosen.rarity,
			Price:  chosen.price,
			Qty:    qty,
		})
	}
	return items
}
