// Package main is the entry point for the RexRelay server.
//
// The server embeds an externally hosted REDAXO-style CMS into a host web
// portal with single sign-on: portal credentials are replayed against the
// CMS's native login form, the resulting session cookies are captured and
// re-emitted to the browser, and content operations are performed by
// scraping the CMS backend HTML (there is no JSON API on the other side).
//
// Architecture:
//
//	Browser → Portal → RexRelay → CMS backend (HTML over HTTP)
//
// The server provides:
//   - Portal login/logout hooks triggering CMS session relay
//   - A browser keepalive endpoint with a clamped refresh interval
//   - An embed-URL helper for the portal iframe
//   - Prometheus metrics and a health probe
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML file (-config path)
//
// Usage:
//
//	# Production mode
//	CMS_EXTERNAL_LOCATION=https://cms.example.com/backend ./server
//
//	# Development mode (colored logs)
//	./server -dev -config config.yaml
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
