// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so services can hold a Logger value that stays live across
// config hot reloads: Service.Apply swaps the underlying sinks atomically
// without invalidating loggers already handed out.
package logx
