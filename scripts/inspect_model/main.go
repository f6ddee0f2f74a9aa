package main

import (
	"flag"
	"fmt"
	"log"

	"fruitscan/internal/common"
	"fruitscan/internal/model"
	"fruitscan/internal/storage"
)

func main() {
	var (
		dataPath = flag.String("data", common.DefaultDataPath, "Data directory holding fruitscan-models.db")
		modelDir = flag.String("models", common.DefaultModelDir, "Model file directory")
		name     = flag.String("name", common.DefaultModelName, "Model name")
	)
	flag.Parse()

	fmt.Printf("Inspecting model %q\n", *name)

	primary, err := storage.NewBoltBackend(*dataPath)
	if err != nil {
		log.Fatalf("Failed to open bolt store: %v", err)
	}
	defer primary.Close()
	secondary, err := storage.NewFileBackend(*modelDir)
	if err != nil {
		log.Fatalf("Failed to open model dir: %v", err)
	}

	for _, b := range []storage.Backend{primary, secondary} {
		fmt.Printf("\n[%s]\n", b.Name())
		a, err := b.Load(*name)
		if err != nil {
			fmt.Printf("  unavailable: %v\n", err)
			continue
		}
		h := a.Header
		fmt.Printf("  format:     %s\n", h.Format)
		fmt.Printf("  created:    %s\n", h.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  checksum:   %s\n", h.Checksum)
		fmt.Printf("  weights:    %d bytes in %d params\n", len(a.Weights), len(h.Params))
		if h.Architecture != nil {
			fmt.Printf("  vocabulary: %v\n", h.Architecture.Vocabulary)
			fmt.Printf("  input:      %v\n", h.Architecture.InputShape())
		}
		if h.Training != nil {
			fmt.Printf("  trained on %d examples, %d epochs of batch %d, final loss %.4f\n",
				h.Training.Examples, h.Training.Epochs, h.Training.BatchSize, h.Training.FinalLoss)
		}
		if _, err := model.FromArtifact(a); err != nil {
			fmt.Printf("  NOT LOADABLE: %v\n", err)
		} else {
			fmt.Printf("  loadable:   yes\n")
		}
	}
}
