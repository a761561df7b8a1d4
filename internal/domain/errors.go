package domain

import "errors"

var (
	// ErrTokenOrder rejects liquidity pairs whose tokens are not in
	// ascending address order. Venues requiring canonical ordering would
	// revert later anyway; the check fails fast at the boundary.
	ErrTokenOrder = errors.New("liquidity pair tokens not in canonical order")

	ErrUnknownBundler = errors.New("bundler not registered")
	ErrPackNotFound   = errors.New("pack not found")
)
