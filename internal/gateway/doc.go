// Package gateway exposes the runtime's handler to HTTP clients.
//
// # Routes
//
//	POST /invoke        run the handler, stream units as SSE
//	POST /chat          alias for /invoke
//	GET  /health        liveness, instance id, uptime
//	GET  /health/ready  200 once the runtime is initialized
//
// # Request body
//
//	{"session_id": "...", "message": {"name": "...", "role": "user", "content": ...}, "metadata": {...}}
//
// Validation failures return 400 with {"error": "..."} and never open a stream.
//
// # Stream framing
//
// Every event is a single "data: <json>\n\n" frame. Content units are the
// handler's messages with "type":"message". A handler error or panic produces
// one {"type":"error","error":{"code":"APP_ERROR",...}} unit; a failed session
// save produces a SESSION_ERROR unit. Every stream that is not abandoned by the
// client ends with exactly one {"type":"done",...} marker.
//
// Session components are saved only after the handler completes normally, so a
// failed or abandoned turn leaves the previous state untouched.
//
// # Listeners
//
// The HTTP server listens on server.host:server.port, or on a tsnet node when
// server.tailscale.enabled is set. With server.grpc_port configured a gRPC
// server carrying the standard health service runs alongside it.
package gateway
