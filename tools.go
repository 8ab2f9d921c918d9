//go:build tools

// This file exists only to pin a mutation-testing tool in go.mod/go.sum
// without it being an import of any real package.
package raidpir

import (
	_ "github.com/go-gremlins/gremlins"
)
