// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/domain"
)

// APIKeyHeader carries the API key on authenticated requests.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey rejects requests that neither present the configured API key
// nor originate from one of apiAllowedCIDRs. An empty API key disables the
// check entirely.
func RequireAPIKey(cfg *domain.Config) func(http.Handler) http.Handler {
	var (
		apiKey   []byte
		prefixes []netip.Prefix
	)
	if cfg != nil {
		apiKey = []byte(cfg.APIKey)

		parsed, err := cfg.ParseAPIAllowedCIDRs()
		if err != nil {
			// Validate rejects this at load time. The key is still required.
			log.Error().Err(err).Msg("apiAllowedCIDRs is invalid, ignoring allowlist")
		}
		prefixes = parsed
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(apiKey) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			if provided := r.Header.Get(APIKeyHeader); provided != "" {
				if subtle.ConstantTimeCompare([]byte(provided), apiKey) == 1 {
					next.ServeHTTP(w, r)
					return
				}

				log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if len(prefixes) > 0 {
				addr, err := parseRemoteAddrIP(r.RemoteAddr)
				if err != nil {
					log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to parse remote address for API allowlist")
				} else {
					for _, prefix := range prefixes {
						if prefix.Contains(addr) {
							next.ServeHTTP(w, r)
							return
						}
					}
				}
			}

			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func parseRemoteAddrIP(remoteAddr string) (netip.Addr, error) {
	trimmed := strings.TrimSpace(remoteAddr)
	if addr, err := netip.ParseAddr(strings.Trim(trimmed, "[]")); err == nil {
		return addr.Unmap(), nil
	}

	host, _, err := net.SplitHostPort(trimmed)
	if err != nil {
		return netip.Addr{}, err
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}

	return addr.Unmap(), nil
}
