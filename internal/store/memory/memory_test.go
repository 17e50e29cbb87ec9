package memory

import (
	"testing"

	"akiba/internal/store"
	"akiba/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return New() })
}
