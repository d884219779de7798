//go:build !linux && !darwin

package storage

import "os"

// On unsupported platforms the table file is not locked.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }

func syncFile(file *os.File) error { return file.Sync() }
