//go:build !cgo
// +build !cgo

package onnx

import "errors"

// NewAPI returns an error when built without CGO (see ort.go for the real implementation).
func NewAPI(_ Config) (API, error) {
	return nil, errors.New("ONNX runtime requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
