//go:build !windows

package install

func hideWindows(string) error { return nil }
