// Package ingestion is the bronze loading boundary: batches of raw employee
// records arrive over HTTP and land in the raw table together with their
// change-log entries.
package ingestion

import (
	"github.com/gin-gonic/gin"
	"github.com/preethamsamatham/medallion/internal/core/storage"
)

type Service struct {
	store            storage.BronzeStore
	maxBodySizeBytes int
}

func NewService(store storage.BronzeStore, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 4 // default to 4MB; bronze batches are bulky
	}
	return &Service{
		store:            store,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the bronze ingestion routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/bronze/employees", s.LoadHandler)
	r.DELETE("/v1/bronze/employees/:employee_number", s.DeleteHandler)
}
