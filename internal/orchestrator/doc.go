// Package orchestrator owns the runtime lifecycle.
//
//	uninitialized -> initializing -> initialized -> shutting-down -> uninitialized
//
// Initialize turns configuration into live clients (models first, then tool
// providers, each in declaration order), opens the session store, loads the
// handler, and runs its startup hook. Every acquired client is pushed onto a
// release stack so Shutdown, or a failed Initialize, can close them in exact
// reverse order. A second Initialize without Shutdown fails with
// ErrAlreadyInitialized and changes nothing.
package orchestrator
