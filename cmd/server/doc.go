// Package main implements the rock-go server binary.
//
// See the package documentation in main.go for details on the server's
// architecture and configuration.
package main
