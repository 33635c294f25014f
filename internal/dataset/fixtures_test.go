package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/duckqa/duckqa/internal/schema"
)

var fixtureCSVs = map[string]string{
	"Customer.csv": `customer_id,customer_name,email,phone,city,state,zip,loyalty_tier
1001,Ada Lovelace,ada@example.com,555-0101,London,LDN,10001,gold
1002,Grace Hopper,grace@example.com,555-0102,Arlington,VA,22201,silver
1003,Alan Turing,alan@example.com,555-0103,Wilmslow,CHS,SK9,bronze
`,
	"Inventory.csv": `IID,CID,order_date,order_total,CATEGORY,PIECES,READYDATE,OUTDATE,PIF,payment_type
5001,1001,2024-11-03,120.50,SHIRTS,3,2024-11-05,2024-11-06,Y,card
5002,1001,2024-11-20,80.00,SUITS,1,2024-11-22,2024-11-23,Y,cash
5003,1002,2024-10-02,200.00,SHIRTS,5,2024-10-04,2024-10-05,N,card
5004,9999,2024-11-30,10.00,MISC,1,2024-12-01,2024-12-02,Y,card
`,
	"Detail.csv": `DID,IID,sku,qty,unit_price,price_table_item_id
1,5001,SKU-1,2,40.25,11
2,5001,SKU-2,1,40.00,12
3,5002,SKU-2,2,40.00,12
4,5003,SKU-1,5,40.00,11
`,
	"Pricelist.csv": `price_table_item_id,product_id,unit_price
11,SKU-1,40.00
12,SKU-2,40.00
`,
}

func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	for name, body := range fixtureCSVs {
		writeFile(t, filepath.Join(dir, name), body)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimLeft(body, "\n")), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func mustTable(t *testing.T, name string) *schema.Table {
	t.Helper()
	table, ok := schema.Default().Table(name)
	if !ok {
		t.Fatalf("registry has no table %s", name)
	}
	return table
}
