// Package recent provides a bounded set of recently seen keys, used to
// report how many sessions were active within a time window.
package recent
