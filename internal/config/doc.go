// ABOUTME: Package config loads and validates consoledeck configuration.
// ABOUTME: YAML with ${VAR} environment expansion.

// Package config loads consoledeck's YAML configuration.
//
// Example:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "~/.local/share/consoledeck/deck.db"
//
//	auth:
//	  jwt_secret: "${DECK_JWT_SECRET}"
//	  idp_login_url: "https://sso.internal/login"
//	  default_route: "/home"
//	  session_duration: "168h"
//
//	consoles:
//	  - name: monitoring
//	    label: Monitoring
//	    url: "https://grafana.internal/"
//	    description: "Cluster dashboards and alert rules."
//	  - name: objects
//	    label: Object Storage
//	    url: "https://minio.internal/console/"
//
//	alerts:
//	  failure_threshold: 3
//
//	logging:
//	  level: info
//	  format: text
package config
