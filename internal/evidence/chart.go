package evidence

import (
	"fmt"

	"github.com/duckqa/duckqa/internal/intent"
	"github.com/duckqa/duckqa/internal/query"
)

const (
	ChartLine  = "line"
	ChartBar   = "bar"
	ChartTable = "table"
)

// Chart is a rendering hint plus the series drawn from the result. X and Y
// name the result columns the series were read from.
type Chart struct {
	Type   string   `json:"type"`
	X      string   `json:"x,omitempty"`
	Y      string   `json:"y,omitempty"`
	Series []Series `json:"series,omitempty"`
}

type Series struct {
	Name string  `json:"name"`
	Data []Point `json:"data"`
}

// Point is an [x, y] pair.
type Point [2]any

type chartSpec struct {
	kind   string
	x      string
	y      string
	series string
}

var chartSpecs = map[string]chartSpec{
	intent.RevenueByPeriod:      {kind: ChartLine, x: "order_date", y: "revenue", series: "Revenue"},
	intent.TopCustomers:         {kind: ChartBar, x: "name", y: "revenue", series: "Revenue"},
	intent.TopProducts:          {kind: ChartBar, x: "product_id", y: "revenue", series: "Revenue"},
	intent.OrdersByCustomer:     {kind: ChartBar, x: "order_date", y: "order_total", series: "Order total"},
	intent.OrdersByCustomerName: {kind: ChartBar, x: "order_date", y: "order_total", series: "Order total"},
}

// chartFor builds the chart for a successful result. Intents without a
// natural axis, and generated SQL, get a table hint.
func chartFor(plan Plan, result query.Result) *Chart {
	spec, ok := chartSpecs[plan.Intent]
	if !ok || result.Column(spec.x) < 0 || result.Column(spec.y) < 0 {
		return &Chart{Type: ChartTable}
	}
	return &Chart{
		Type:   spec.kind,
		X:      spec.x,
		Y:      spec.y,
		Series: []Series{SeriesFrom(result, spec.series, spec.x, spec.y)},
	}
}

// SeriesFrom reads one series from two result columns. Missing or
// non-numeric y values plot as zero.
func SeriesFrom(result query.Result, name, x, y string) Series {
	xi, yi := result.Column(x), result.Column(y)
	series := Series{Name: name, Data: make([]Point, 0, len(result.Rows))}
	if xi < 0 || yi < 0 {
		return series
	}
	for _, row := range result.Rows {
		if xi >= len(row) || yi >= len(row) {
			continue
		}
		value, _ := toFloat64(row[yi])
		series.Data = append(series.Data, Point{fmt.Sprint(row[xi]), value})
	}
	return series
}
