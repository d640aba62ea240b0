package discovery

import (
	"fmt"

	consul "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Resolver looks collaborator endpoints up in Consul when an agent is
// configured; otherwise every lookup returns the static fallback.
type Resolver struct {
	client *consul.Client
	log    *zap.SugaredLogger
}

func New(addr string, log *zap.SugaredLogger) (*Resolver, error) {
	if addr == "" {
		return &Resolver{log: log}, nil
	}
	cfg := consul.DefaultConfig()
	cfg.Address = addr
	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Resolver{client: client, log: log}, nil
}

// ServiceURL returns an http base URL for a healthy instance of the named
// service, or fallback when discovery is disabled or finds nothing.
func (r *Resolver) ServiceURL(name, fallback string) string {
	if r.client == nil || name == "" {
		return fallback
	}
	entries, _, err := r.client.Health().Service(name, "", true, nil)
	if err != nil || len(entries) == 0 {
		r.log.Warnw("consul lookup failed, using fallback", "service", name, "error", err)
		return fallback
	}
	svc := entries[0].Service
	host := svc.Address
	if host == "" {
		host = entries[0].Node.Address
	}
	return fmt.Sprintf("http://%s:%d", host, svc.Port)
}
