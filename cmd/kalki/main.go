// Command kalki scans a web application for SQL injection, XSS, CSRF and SSRF
// weaknesses and for injectable patterns in its page source.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
