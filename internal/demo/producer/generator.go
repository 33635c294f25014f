package producer

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"
)

const (
	firstCID     = 1001
	firstIID     = 100001
	firstPriceID = 501
	// Orphan CIDs start well above any generated customer.
	orphanCIDBase = 9000000
)

// Table is one generated CSV: canonical headers and string cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

type Dataset struct {
	Customer  Table
	Inventory Table
	Detail    Table
	Pricelist Table
	Orphans   int
}

func (d Dataset) Tables() []Table {
	return []Table{d.Customer, d.Inventory, d.Detail, d.Pricelist}
}

type Generator struct {
	rnd *rand.Rand
	cfg Config
}

// NewGenerator output depends only on cfg, so the same seed always yields
// the same files.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(cfg.Seed)),
		cfg: cfg,
	}
}

func (g *Generator) Generate() Dataset {
	ds := Dataset{
		Customer: Table{
			Name:   "Customer",
			Header: []string{"CID", "name", "email", "phone", "address", "city", "state", "zip"},
		},
		Inventory: Table{
			Name:   "Inventory",
			Header: []string{"IID", "CID", "order_date", "order_total", "CATEGORY", "PIECES", "READYDATE", "OUTDATE", "PIF", "payment_type"},
		},
		Detail: Table{
			Name:   "Detail",
			Header: []string{"DID", "IID", "product_id", "qty", "unit_price", "price_table_item_id"},
		},
		Pricelist: Table{
			Name:   "Pricelist",
			Header: []string{"price_table_item_id", "product_id", "unit_price"},
		},
	}

	for i := 0; i < g.cfg.Customers; i++ {
		ds.Customer.Rows = append(ds.Customer.Rows, g.customer(firstCID+i))
	}

	prices := make([]float64, g.cfg.Products)
	for i := range prices {
		prices[i] = round2(2 + g.rnd.Float64()*48)
		ds.Pricelist.Rows = append(ds.Pricelist.Rows, []string{
			strconv.Itoa(firstPriceID + i),
			productID(i),
			formatMoney(prices[i]),
		})
	}

	did := 1
	for i := 0; i < g.cfg.Orders; i++ {
		iid := firstIID + i
		cid := firstCID + g.rnd.Intn(g.cfg.Customers)
		if g.rnd.Float64() < g.cfg.OrphanRate {
			cid = orphanCIDBase + i
			ds.Orphans++
		}

		lines := 1 + g.rnd.Intn(g.cfg.MaxLinesPerOrder)
		var total float64
		var pieces int
		for l := 0; l < lines; l++ {
			product := g.rnd.Intn(g.cfg.Products)
			qty := 1 + g.rnd.Intn(6)
			price := prices[product]
			// Some lines carry a negotiated price below list.
			if g.rnd.Intn(10) == 0 {
				price = round2(price * 0.9)
			}
			total += float64(qty) * price
			pieces += qty
			ds.Detail.Rows = append(ds.Detail.Rows, []string{
				strconv.Itoa(did),
				strconv.Itoa(iid),
				productID(product),
				strconv.Itoa(qty),
				formatMoney(price),
				strconv.Itoa(firstPriceID + product),
			})
			did++
		}

		ordered := g.cfg.EndDate.AddDate(0, 0, -g.rnd.Intn(g.cfg.Days))
		// The newest day always has an order so the grounding date is stable.
		if i == 0 {
			ordered = g.cfg.EndDate
		}
		ready := ordered.AddDate(0, 0, 1+g.rnd.Intn(3))
		out := ready.AddDate(0, 0, g.rnd.Intn(4))
		ds.Inventory.Rows = append(ds.Inventory.Rows, []string{
			strconv.Itoa(iid),
			strconv.Itoa(cid),
			ordered.Format(time.DateOnly),
			formatMoney(round2(total)),
			pickOne(g.rnd, []string{"SHIRTS", "SUITS", "DRESSES", "OUTERWEAR", "HOUSEHOLD", "ALTERATIONS"}),
			strconv.Itoa(pieces),
			ready.Format(time.DateOnly),
			out.Format(time.DateOnly),
			pickOne(g.rnd, []string{"Y", "Y", "Y", "N"}),
			pickOne(g.rnd, []string{"card", "card", "cash", "account"}),
		})
	}
	return ds
}

func (g *Generator) customer(cid int) []string {
	first := pickOne(g.rnd, []string{"Ada", "Grace", "Alan", "Barbara", "Edsger", "Frances", "Donald", "Radia", "Ken", "Margaret"})
	last := pickOne(g.rnd, []string{"Lovelace", "Hopper", "Turing", "Liskov", "Dijkstra", "Allen", "Knuth", "Perlman", "Thompson", "Hamilton"})
	city, state, zip := g.location()
	return []string{
		strconv.Itoa(cid),
		first + " " + last,
		fmt.Sprintf("customer%d@example.com", cid),
		fmt.Sprintf("555-%04d", g.rnd.Intn(10000)),
		fmt.Sprintf("%d %s St", 1+g.rnd.Intn(9999), pickOne(g.rnd, []string{"Main", "Oak", "Pine", "Maple", "Cedar", "Elm"})),
		city,
		state,
		zip,
	}
}

func (g *Generator) location() (string, string, string) {
	locations := [][3]string{
		{"Austin", "TX", "78701"},
		{"Denver", "CO", "80202"},
		{"Portland", "OR", "97201"},
		{"Raleigh", "NC", "27601"},
		{"Madison", "WI", "53703"},
	}
	l := locations[g.rnd.Intn(len(locations))]
	return l[0], l[1], l[2]
}

func productID(i int) string {
	return fmt.Sprintf("P%03d", i+1)
}

func formatMoney(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
