// Package docs holds the general Swagger annotations for the portprobe API.
// Endpoint annotations live on the handlers in internal/api/handlers; run
// `go generate ./docs` to refresh the spec under docs/swagger.
//
//go:generate swag init -g swagger_docs.go -d .,../internal/api/handlers -o ./swagger --parseDependency --parseInternal
package docs

// @title portprobe API
// @version 1.0
// @description Concurrent TCP connect port scanning service.
// @description
// @description Probes run synchronously through POST /probes or stream per-port outcomes over
// @description a websocket at /probes/stream. Reports are stored when a database is configured
// @description and cron schedules run probes in the background.
// @description
// @description ## Authentication
// @description When API keys are configured every endpoint except health and version requires
// @description a key in the `X-API-Key` header.
//
// @contact.name portprobe maintainers
// @contact.url https://github.com/anstrom/portprobe
//
// @license.name MIT
// @license.url https://github.com/anstrom/portprobe/blob/main/LICENSE
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication
