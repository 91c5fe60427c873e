package main

import (
	"os"

	"github.com/Forgate-Labs/CRUD-QL-sub000/cmd/crudql/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
