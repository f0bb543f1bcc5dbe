package handler

import "net/http"

// Index describes the API when no static site is configured.
// GET /{$}
func Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "cryptoboard",
		"endpoints": map[string]string{
			"GET /list":                       "ranked market listing",
			"POST /list/refresh":              "discard the cache and refetch the listing",
			"GET /list/{id}":                  "one asset of the listing",
			"GET /list/history":               "recent refreshes, or ?asset= quotes",
			"GET /list/archive?date=":         "snapshots archived on a day",
			"GET /list/archive/{date}/{id}":   "one archived snapshot",
			"GET /predict/{assetId}":          "run the prediction pipeline for an asset",
			"POST /predict/{assetId}/collect": "run only data collection for an asset",
			"DELETE /predict/cache":           "delete the scripts' per-asset cache files",
			"GET /health":                     "service health",
			"GET /metrics":                    "Prometheus metrics",
			"GET /ws":                         "websocket listing events",
		},
	})
}
