package postgres

import (
	"fmt"

	"github.com/medallion-go/taxii/core/backend"
)

func init() {
	backend.Register("postgres", func(config interface{}) (backend.Backend, error) {
		cfg, ok := config.(Config)
		if !ok {
			if p, ok := config.(*Config); ok {
				cfg = *p
			} else {
				return nil, fmt.Errorf("postgres: expected postgres.Config, got %T", config)
			}
		}
		return New(cfg)
	})
}
