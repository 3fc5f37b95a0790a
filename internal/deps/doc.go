// Package deps checks the external binaries the daemon executes and reports
// their versions for status output.
package deps
