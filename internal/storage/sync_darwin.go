//go:build darwin

package storage

import "os"

func syncFile(file *os.File) error { return file.Sync() }
