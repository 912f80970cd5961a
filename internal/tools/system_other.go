//go:build !linux

package tools

// systemStatus is only implemented on Linux, where the gateway runs in
// production.
func systemStatus() Result {
	return errResult("System status not supported on this platform")
}
