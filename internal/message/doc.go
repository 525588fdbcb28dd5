// Package message defines Msg, the value handlers receive and yield.
package message
