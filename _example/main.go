package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jrgochan/bookbrain"
	"github.com/jrgochan/bookbrain/bookstore"
)

func main() {
	ctx := context.Background()

	dataDir, err := os.MkdirTemp("", "bookbrain-demo")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dataDir)

	library := bookstore.NewMemorySource()
	library.Put(bookstore.BookInfo{ID: 1, Title: "The Quick Brown Fox", Author: "Jane Doe"},
		"The quick brown fox jumps over fences all morning.\n\nIn the afternoon the fox naps under the oak tree.")
	library.Put(bookstore.BookInfo{ID: 2, Title: "Lazy Dogs", Author: "John Smith"},
		"Lazy dogs sleep all day.\n\nAt night the dogs guard the farm.")

	// No embedding backend configured: the knowledge base falls back to
	// deterministic hash-based vectors and reports degraded mode.
	kb, err := bookbrain.New(ctx, dataDir, library, bookstore.NewMemoryRegistry(), nil,
		bookbrain.WithLogLevel(slog.LevelInfo),
		bookbrain.WithProgress(func(current, total int, message string) {
			fmt.Printf("  [%d/%d] %s\n", current, total, message)
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer kb.Close()

	fmt.Println("--- Indexing ---")
	for _, id := range []int64{1, 2} {
		result, err := kb.AddBook(ctx, id)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("book %d: %d chunks\n", result.BookID, result.ChunkCount)
	}

	stats, err := kb.Stats(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\nbooks=%d chunks=%d dim=%d model=%s degraded=%v\n",
		stats.Books, stats.Chunks, stats.Dimension, stats.Model, stats.Degraded)

	fmt.Println("\n--- Retrieval ---")
	query := "In the afternoon the fox naps under the oak tree."
	contextText, err := kb.RetrieveRelevantContext(ctx, query, func(o *bookbrain.SearchOptions) {
		o.NumResults = 2
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(contextText)

	fmt.Println("\n--- Remove and search again ---")
	removal, err := kb.RemoveBook(ctx, 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(removal)

	contextText, err = kb.RetrieveRelevantContext(ctx, query)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(contextText)
}
