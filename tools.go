//go:build tools
// +build tools

// Package tools pins the ginkgo test runner and golangci-lint to the versions
// in go.mod, so `go run` uses the same ones everywhere.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/onsi/ginkgo/ginkgo"
)
