// Package handler defines what a user application provides to the runtime.
//
// An App receives one message per request and yields reply units as an
// iter.Seq2. Optional interfaces add lifecycle hooks (Starter, Stopper) and
// session persistence (Stateful).
//
// Applications are usually built as Go plugins exporting a symbol named App:
//
//	var App handler.App = &myApp{}
//
//	go build -buildmode=plugin -o app.so .
package handler
