package main

import (
	"github.com/galdor/go-service/pkg/service"
)

func main() {
	service.Run("ledmesh", "a synchronized led strip node", NewService())
}
