// Package gateway is the HTTP face of the character server and the process
// composition root.
//
// # Lifecycle
//
// New adopts an active configuration subsystem, builds the database
// subsystem behind it and bootstraps both through a subsystem.Group. The
// broadcaster is registered as the database observer and the completion
// service is wired to the database, the live configuration and the
// language model:
//
//	conf := config.NewConfiguration(env, "", logger)
//	if err := conf.Bootstrap(ctx); err != nil { ... }
//	gw, err := gateway.New(ctx, conf, logger)
//	if err != nil { ... }
//	return gw.Run(ctx) // serves until ctx is cancelled
//
// Shutdown stops the HTTP server first, which also ends open event streams,
// then shuts the subsystems down in reverse registration order, each with
// the configured bounded wait.
//
// # Routes
//
//	GET    /                              product title, tag, version, author
//	GET    /health                        liveness
//	GET    /health/ready                  200 once every subsystem is active
//	GET    /characters                    all characters keyed by name
//	POST   /characters/new                queue a new character (202, 409 on duplicate)
//	POST   /characters                    alias of /characters/new
//	GET    /characters/{name}             one character (404 if absent)
//	DELETE /characters/{name}             404 if absent, otherwise 501
//	GET    /characters/{name}/prompt      the derived prompt messages
//	POST   /characters/{name}/completion  chat completion, reply appended to history
//	GET    /characters/{name}/usage       token usage totals, optional ?since=RFC3339
//	GET    /characters/{name}/events      SSE stream of applied updates
//	GET    /events                        SSE stream of updates for every character
//	GET    /metrics                       Prometheus exposition when enabled
//
// Errors are returned as {"error": "..."}. Every response carries an
// X-Request-ID header and every request gets one access log line.
package gateway
