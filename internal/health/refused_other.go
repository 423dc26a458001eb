//go:build !windows

package health

func isPlatformRefused(error) bool { return false }
