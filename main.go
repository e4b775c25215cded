package main

import (
	trailblazer "github.com/Clinical-Genomics/trailblazer-sub000/cmd/trailblazer"
	_ "github.com/Clinical-Genomics/trailblazer-sub000/pkg/logger"
)

func main() {
	trailblazer.Execute()
}
