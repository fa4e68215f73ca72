package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"babyagi-task-initiator/sdk/go/initiator"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "initiator API base URL")
	objective := flag.String("objective", "Write a blog post about the weather in London.", "objective to break into tasks")
	taskContext := flag.String("context", "Focus on historical weather patterns between 1900 and 2000", "optional context")
	flag.Parse()

	client, err := initiator.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	submitted, err := client.Submit(ctx, initiator.RunInput{
		ToolName:      "generate_tasks",
		ToolInputData: initiator.PromptInput{Objective: *objective, Context: *taskContext},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", submitted.ID, submitted.Status)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		current, err := client.GetRun(ctx, submitted.ID)
		if err != nil {
			log.Fatal(err)
		}
		if current.Terminal() {
			if current.Status == "failed" {
				log.Fatalf("run failed: %s %s", current.ErrorCode, current.LastError)
			}
			fmt.Printf("%s\n", current.Response)
			return
		}
		select {
		case <-ctx.Done():
			log.Fatal(ctx.Err())
		case <-ticker.C:
		}
	}
}
