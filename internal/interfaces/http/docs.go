package http

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	httpContracts "github.com/sawpanic/arkholdings/internal/http"
	"github.com/sawpanic/arkholdings/internal/query"
)

const schemaPrefix = "#/components/schemas/"

func holdingSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("date", openapi3.NewStringSchema().WithFormat("date").WithNullable()).
		WithProperty("ticker", openapi3.NewStringSchema().WithNullable()).
		WithProperty("cusip", openapi3.NewStringSchema().WithNullable()).
		WithProperty("company", openapi3.NewStringSchema().WithNullable()).
		WithProperty("market_value", openapi3.NewInt64Schema().WithNullable()).
		WithProperty("shares", openapi3.NewInt64Schema().WithNullable()).
		WithProperty("share_price", openapi3.NewFloat64Schema().WithNullable()).
		WithProperty("weight", openapi3.NewFloat64Schema().WithNullable())
}

func errorSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("request_id", openapi3.NewStringSchema()).
		WithProperty("timestamp", openapi3.NewDateTimeSchema())
	s.Required = []string{"error", "message", "code", "request_id", "timestamp"}
	return s
}

func intHeader(description string) *openapi3.HeaderRef {
	return &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{
		Description: description,
		Schema:      openapi3.NewIntegerSchema().NewRef(),
	}}}
}

// BuildOpenAPI describes every data endpoint, with each ticker set as an enum.
// Component refs carry their values so the document validates without a
// loader.
func BuildOpenAPI(version string, routes []Route) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	holding, apiError := holdingSchema(), errorSchema()
	holdingRef := openapi3.NewSchemaRef(schemaPrefix+"Holding", holding)
	errorRef := openapi3.NewSchemaRef(schemaPrefix+"Error", apiError)

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "ARK Holdings",
			Description: "Daily holdings of ARK Invest funds, filtered by fund ticker and date range.",
			Version:     version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{Schemas: openapi3.Schemas{
			"Holding": openapi3.NewSchemaRef("", holding),
			"Error":   openapi3.NewSchemaRef("", apiError),
		}},
	}

	for _, rt := range routes {
		ep := rt.Endpoint
		tickers := make([]interface{}, 0, len(ep.Tickers.Members()))
		for _, t := range ep.Tickers.Members() {
			tickers = append(tickers, t.String())
		}

		rows := openapi3.NewArraySchema()
		rows.Items = holdingRef
		limited := openapi3.NewResponse().WithDescription("Rate limited").WithJSONSchemaRef(errorRef)
		limited.Headers = openapi3.Headers{
			"Retry-After":       intHeader("Seconds until a request may succeed"),
			"X-RateLimit-Limit": intHeader("Bucket capacity"),
			"X-RateLimit-After": intHeader("Seconds until a request may succeed"),
		}

		op := openapi3.NewOperation()
		op.OperationID = ep.Name
		op.Summary = rt.Summary
		op.Description = "Rows are returned in storage order. start and end are inclusive; either may be omitted."
		op.AddParameter(openapi3.NewQueryParameter("ticker").
			WithDescription("Fund ticker").
			WithRequired(true).
			WithSchema(openapi3.NewStringSchema().WithEnum(tickers...)))
		op.AddParameter(openapi3.NewQueryParameter("start").
			WithDescription("Earliest date, inclusive (YYYY-MM-DD)").
			WithSchema(openapi3.NewStringSchema().WithFormat("date")))
		op.AddParameter(openapi3.NewQueryParameter("end").
			WithDescription("Latest date, inclusive (YYYY-MM-DD)").
			WithSchema(openapi3.NewStringSchema().WithFormat("date")))
		op.Responses = openapi3.NewResponses(
			openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("Holdings").WithJSONSchema(rows)}),
			openapi3.WithStatus(http.StatusBadRequest, &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("Unknown ticker or malformed date").WithJSONSchemaRef(errorRef)}),
			openapi3.WithStatus(http.StatusTooManyRequests, &openapi3.ResponseRef{Value: limited}),
			openapi3.WithStatus(http.StatusInternalServerError, &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("Dataset unavailable").WithJSONSchemaRef(errorRef)}),
		)

		doc.AddOperation(rt.Path, http.MethodGet, op)
	}
	return doc
}

func (s *Server) apiDocument(w http.ResponseWriter, r *http.Request) {
	httpContracts.WriteJSON(w, http.StatusOK, s.openapi)
}

const redocPage = `<!DOCTYPE html>
<html>
  <head>
    <title>ARK Holdings API</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1">
  </head>
  <body>
    <redoc spec-url="/api.json"></redoc>
    <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
  </body>
</html>
`

func (s *Server) redoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(redocPage))
}

// Route is a mounted data endpoint.
type Route struct {
	Path     string
	Summary  string
	Endpoint query.Endpoint
}
