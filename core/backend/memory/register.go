package memory

import (
	"fmt"

	"github.com/medallion-go/taxii/core/backend"
)

func init() {
	backend.Register("memory", func(config interface{}) (backend.Backend, error) {
		cfg, ok := config.(Config)
		if !ok {
			if p, ok := config.(*Config); ok {
				cfg = *p
			} else {
				return nil, fmt.Errorf("memory: expected memory.Config, got %T", config)
			}
		}
		return New(cfg)
	})
}
