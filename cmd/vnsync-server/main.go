package main

import (
	"context"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/vnsync-go/application"
)

func main() {
	if err := application.New(os.Args[1:]).Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vnsync-server: %v\n", err)
		os.Exit(1)
	}
}
