// Package logx is a thin structured logging layer over zerolog.
//
// Components receive a Logger value and tag themselves with
// log.With(logx.String("comp", "...")). The zero value is a safe no-op.
package logx
