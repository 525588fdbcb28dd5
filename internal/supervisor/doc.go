// Package supervisor keeps a remote controller informed about this instance.
//
// Every heartbeat_interval the client POSTs
//
//	{endpoint}/instances/{instance_id}/heartbeat
//	{"status": "running", "timestamp": "...", "metrics": {...}}
//
// and then GETs {endpoint}/instances/{instance_id}/config. An answer of
// {"updated": true, "action": "restart"} exits the process with status 0 so
// the process manager can start a fresh instance. Other actions are ignored.
//
// Network failures are logged and retried on the next tick; they never stop
// the runtime.
package supervisor
