// Package toolkit merges tools from every tool provider into one namespace.
//
// Providers are added in configuration order. When a tool name is already
// taken the newcomer is exposed as name_provider (then name_provider_2, ...),
// so the first provider to declare a name keeps it. Calls are routed to the
// owning provider under the tool's original name.
package toolkit
