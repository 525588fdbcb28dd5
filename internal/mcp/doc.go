// Package mcp connects the runtime to Model Context Protocol tool providers.
//
// Each configured mcp_servers slot becomes a Client using either the SSE or
// the streamable HTTP transport from github.com/mark3labs/mcp-go. Connect
// performs the initialize handshake and caches the provider's tool list;
// CallTool invokes a tool by its advertised name.
package mcp
