// Package logger provides adapters that let popular logger libraries serve as
// a tabledb.Logger.
//
// The standard library's slog.Logger already implements tabledb.Logger
// directly.
//
// Example with zap:
//
//	zapLogger, _ := zap.NewProduction()
//
//	db, err := tabledb.Open("data", tabledb.WithLogger(logger.NewZap(zapLogger)))
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
package logger
