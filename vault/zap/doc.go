// Package zap adapts go.uber.org/zap to the vault log.Logger interface.
package zap
