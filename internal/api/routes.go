package api

import (
	"net/http"

	"vendingmachine/internal/middleware"
)

// Routes returns the mux for everything under /api, with the prefix
// already stripped.
func (h *Handler) Routes() *http.ServeMux {
	apiMux := http.NewServeMux()

	post := func(path string, fn http.HandlerFunc) {
		apiMux.HandleFunc(path, middleware.APIMiddleware(middleware.Method(fn, http.MethodPost)))
	}
	get := func(path string, fn http.HandlerFunc) {
		apiMux.HandleFunc(path, middleware.APIMiddleware(middleware.Method(fn, http.MethodGet)))
	}

	post("/money", h.InsertMoneyHandler)
	post("/card", h.InsertCardHandler)
	post("/card/cancel", h.CancelCardHandler)
	post("/select", h.SelectProductHandler)
	post("/return", h.ReturnMoneyHandler)
	post("/collect/products", h.CollectProductsHandler)
	post("/collect/money", h.CollectMoneyHandler)
	post("/reset", h.ResetHandler)
	get("/state", h.StateHandler)
	get("/journal", h.JournalHandler)
	get("/journal/summary", h.SalesSummaryHandler)

	return apiMux
}

// Mount registers the health check and the API on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.HealthHandler)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))
}
