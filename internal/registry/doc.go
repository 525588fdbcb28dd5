// Package registry holds the runtime's named upstream clients.
//
// The orchestrator owns each Registry: it registers clients in configuration
// order during initialization, releases them in reverse acquisition order at
// shutdown, and then clears the registry.
// Handlers and the gateway only read from it.
//
//	models := registry.New[model.ChatModel]("model", logger)
//	models.Register("main", client)
//	m, err := models.Get("main")
//	if errors.Is(err, registry.ErrSlotNotFound) {
//	    // err lists the registered slots
//	}
package registry
