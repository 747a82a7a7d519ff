// Package main is the tinyyolo command: it decodes YOLOv3-Tiny tensor dumps, draws detections
// onto images and replays frames through the rate limited detection scheduler.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
