// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import "net/http"

// APIKeyQueryParam is the query parameter accepted by APIKeyFromQuery routes.
const APIKeyQueryParam = "apikey"

// APIKeyFromQuery moves an API key from the query string into the X-API-Key
// header for routes whose clients cannot set headers (Prometheus scrapers and
// browser EventSource). The parameter is removed from the URL either way so it
// never reaches handlers or the request log.
func APIKeyFromQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if !query.Has(param) {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get(APIKeyHeader) == "" {
				if key := query.Get(param); key != "" {
					r.Header.Set(APIKeyHeader, key)
				}
			}

			query.Del(param)
			r.URL.RawQuery = query.Encode()
			next.ServeHTTP(w, r)
		})
	}
}
