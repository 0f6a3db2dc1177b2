// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a small, stable
// surface (Logger + Field helpers) without importing zerolog directly.
package logx
