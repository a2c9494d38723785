package main

import (
	"os"

	"voicenote-ingest-go/cmd/voicenote-ingest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
