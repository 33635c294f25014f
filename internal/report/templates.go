package report

import (
	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/sqltemplate"
)

func reportTemplates() []sqltemplate.Template {
	return []sqltemplate.Template{
		{
			Intent: RevenueByMonth,
			Text: `SELECT strftime({Inventory.order_date}, '%Y-%m') AS order_month, SUM({Inventory.order_total}) AS revenue
FROM {Inventory}
WHERE {Inventory.order_date} BETWEEN CAST(:from AS DATE) AND CAST(:to AS DATE)
GROUP BY order_month
ORDER BY order_month`,
			DefaultLimit: 1000,
			MaxLimit:     1000,
		},
		{
			Intent: TopCustomers,
			Text: `SELECT COALESCE({Customer.name}, CAST({Inventory.CID} AS VARCHAR)) AS customer, SUM({Inventory.order_total}) AS revenue
FROM {Inventory}
LEFT JOIN {Customer} ON {Customer.CID} = {Inventory.CID}
GROUP BY COALESCE({Customer.name}, CAST({Inventory.CID} AS VARCHAR))
ORDER BY revenue DESC, customer`,
			DefaultLimit: 5,
			MaxLimit:     1000,
			LimitParam:   intent.ParamK,
		},
		{
			Intent: TopProducts,
			Text: `SELECT {Detail.product_id}, SUM({Detail.qty}) AS units, SUM({Detail.qty} * {Detail.unit_price}) AS revenue
FROM {Detail}
JOIN {Inventory} ON {Inventory.IID} = {Detail.IID}
WHERE {Inventory.order_date} BETWEEN CAST(:from AS DATE) AND CAST(:to AS DATE)
GROUP BY {Detail.product_id}
ORDER BY revenue DESC, {Detail.product_id}`,
			DefaultLimit: 5,
			MaxLimit:     1000,
			LimitParam:   intent.ParamK,
		},
		{
			Intent: RevenueTrend,
			Text: `SELECT CAST({Inventory.order_date} AS DATE) AS order_day, SUM({Inventory.order_total}) AS revenue
FROM {Inventory}
WHERE {Inventory.order_date} BETWEEN CAST(:from AS DATE) AND CAST(:to AS DATE)
GROUP BY order_day
ORDER BY order_day`,
			DefaultLimit: 1000,
			MaxLimit:     1000,
		},
	}
}
