// internal/handlers/router.go
package handlers

import (
	"net/http"
	"time"

	"github.com/ammerola/stockledger/internal/handlers/middleware"
)

// APIPrefix is the versioned path every ledger route lives under.
const APIPrefix = "/api/v1"

// Router bundles the handlers mounted by RegisterRoutes.
type Router struct {
	Sales     *SalesHandler
	Transfers *TransferHandler
	Lots      *LotHandler
	Imports   *ImportHandler
	Demands   *DemandHandler
	Exports   *ExportHandler
	Health    *HealthHandler
	// RequestTimeout bounds every handler except the workbook stream. Zero
	// disables it.
	RequestTimeout time.Duration
}

// RegisterRoutes mounts the API on mux using method-specific patterns.
func RegisterRoutes(mux *http.ServeMux, rt *Router) {
	timed := func(h http.HandlerFunc) http.Handler {
		if rt.RequestTimeout <= 0 {
			return h
		}
		return middleware.Timeout(rt.RequestTimeout)(h)
	}

	// Health and readiness endpoints
	mux.HandleFunc("GET /health", rt.Health.Health)
	mux.HandleFunc("GET /ready", rt.Health.Readiness)

	// Sales and returns
	mux.Handle("POST "+APIPrefix+"/sales", timed(rt.Sales.CreateSale))
	mux.Handle("GET "+APIPrefix+"/sales/{id}", timed(rt.Sales.GetSale))
	mux.Handle("POST "+APIPrefix+"/sales/{id}/returns", timed(rt.Sales.CreateReturn))

	// Transfers
	mux.Handle("POST "+APIPrefix+"/transfers", timed(rt.Transfers.Transfer))

	// Lots
	mux.Handle("POST "+APIPrefix+"/lots", timed(rt.Lots.CreateLot))
	mux.Handle("GET "+APIPrefix+"/lots", timed(rt.Lots.ListLots))
	mux.Handle("POST "+APIPrefix+"/lots/import", timed(rt.Imports.ImportLots))
	mux.Handle("GET "+APIPrefix+"/lots/{id}", timed(rt.Lots.GetLot))
	mux.Handle("GET "+APIPrefix+"/lots/{id}/movements", timed(rt.Lots.Movements))

	// Demands
	mux.Handle("POST "+APIPrefix+"/demands/generate", timed(rt.Demands.Generate))
	mux.Handle("GET "+APIPrefix+"/demands", timed(rt.Demands.ListDemands))
	mux.Handle("PATCH "+APIPrefix+"/demands/{id}", timed(rt.Demands.UpdateDemand))
	mux.HandleFunc("GET "+APIPrefix+"/demands/export", rt.Exports.ExportDemands)
	mux.Handle("POST "+APIPrefix+"/demands/export", timed(rt.Exports.QueueExport))

	// Background jobs
	mux.Handle("GET "+APIPrefix+"/jobs/{id}", timed(rt.Imports.JobStatus))
}
