// Exports Label Studio annotations, converts them into Ultralytics YOLO datasets and uploads
// model predictions back as pre-annotations.
package main

import (
	"fmt"
	"os"

	"github.com/sensorable/lsyolo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
