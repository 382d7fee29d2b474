//go:build !consul

package store

import (
	log "github.com/sirupsen/logrus"
)

// NewConsulStore returns a memory store when the consul build tag is not enabled.
func NewConsulStore(addr string) (RouteStore, error) {
	log.WithField("addr", addr).Warn("consul store requested but consul build tag not enabled; using memory store")
	return NewMemoryStore(), nil
}
