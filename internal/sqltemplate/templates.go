package sqltemplate

import "github.com/duckqa/duckqa/internal/intent"

// Template is a parameterized statement bound to one intent. Text uses
// {Table} and {Table.column} tokens resolved through the schema registry and
// :name placeholders bound at render time.
type Template struct {
	Intent       string
	Text         string
	DefaultLimit int
	MaxLimit     int
	// LimitParam names the parameter that sets the row limit, if any.
	LimitParam string
	// ScanColumn holds the number of rows examined before LIMIT.
	ScanColumn string
	// TotalColumn holds an aggregate over the whole matched set.
	TotalColumn string
}

const scanColumn = "rows_scanned"

func defaultTemplates() []Template {
	return []Template{
		{
			Intent: intent.OrderDetails,
			Text: `SELECT {Detail.DID}, {Detail.IID}, {Detail.product_id}, {Detail.qty}, {Detail.unit_price},
	{Detail.qty} * {Detail.unit_price} AS line_total,
	CAST(COUNT(*) OVER () AS BIGINT) AS rows_scanned
FROM {Detail}
WHERE {Detail.IID} = :iid
ORDER BY {Detail.DID}`,
			DefaultLimit: 100,
			MaxLimit:     1000,
			ScanColumn:   scanColumn,
		},
		{
			Intent: intent.OrdersByCustomer,
			Text: `SELECT {Inventory.IID}, {Inventory.CID}, {Customer.name}, {Inventory.order_date}, {Inventory.order_total}, {Inventory.payment_type},
	CAST(COUNT(*) OVER () AS BIGINT) AS rows_scanned
FROM {Inventory}
LEFT JOIN {Customer} ON {Customer.CID} = {Inventory.CID}
WHERE {Inventory.CID} = :cid
ORDER BY {Inventory.order_date} DESC, {Inventory.IID}`,
			DefaultLimit: 50,
			MaxLimit:     500,
			ScanColumn:   scanColumn,
		},
		{
			Intent: intent.OrdersByCustomerName,
			Text: `SELECT {Inventory.IID}, {Inventory.CID}, {Customer.name}, {Inventory.order_date}, {Inventory.order_total}, {Inventory.payment_type},
	CAST(COUNT(*) OVER () AS BIGINT) AS rows_scanned
FROM {Inventory}
JOIN {Customer} ON {Customer.CID} = {Inventory.CID}
WHERE {Inventory.CID} = (
	SELECT MIN({Customer.CID}) FROM {Customer}
	WHERE LOWER({Customer.name}) LIKE :name_pattern OR LOWER({Customer.email}) LIKE :name_pattern
)
ORDER BY {Inventory.order_date} DESC, {Inventory.IID}`,
			DefaultLimit: 50,
			MaxLimit:     500,
			ScanColumn:   scanColumn,
		},
		{
			Intent: intent.TopCustomers,
			Text: `SELECT {Customer.CID}, {Customer.name}, COUNT(*) AS order_count, SUM({Inventory.order_total}) AS revenue,
	CAST(SUM(COUNT(*)) OVER () AS BIGINT) AS rows_scanned
FROM {Inventory}
JOIN {Customer} ON {Customer.CID} = {Inventory.CID}
GROUP BY {Customer.CID}, {Customer.name}
ORDER BY revenue DESC, {Customer.CID}`,
			DefaultLimit: 5,
			MaxLimit:     1000,
			LimitParam:   intent.ParamK,
			ScanColumn:   scanColumn,
		},
		{
			Intent: intent.TopProducts,
			Text: `SELECT {Detail.product_id}, SUM({Detail.qty}) AS units, SUM({Detail.qty} * {Detail.unit_price}) AS revenue,
	CAST(SUM(COUNT(*)) OVER () AS BIGINT) AS rows_scanned
FROM {Detail}
GROUP BY {Detail.product_id}
ORDER BY revenue DESC, {Detail.product_id}`,
			DefaultLimit: 10,
			MaxLimit:     1000,
			LimitParam:   intent.ParamK,
			ScanColumn:   scanColumn,
		},
		{
			Intent: intent.RevenueByPeriod,
			Text: `SELECT {Inventory.order_date}, COUNT(*) AS order_count, SUM({Inventory.order_total}) AS revenue,
	SUM(SUM({Inventory.order_total})) OVER () AS period_revenue,
	CAST(SUM(COUNT(*)) OVER () AS BIGINT) AS rows_scanned
FROM {Inventory}
WHERE {Inventory.order_date} BETWEEN CAST(:from AS DATE) AND CAST(:to AS DATE)
GROUP BY {Inventory.order_date}
ORDER BY {Inventory.order_date}`,
			DefaultLimit: 400,
			MaxLimit:     1000,
			ScanColumn:   scanColumn,
			TotalColumn:  "period_revenue",
		},
	}
}
