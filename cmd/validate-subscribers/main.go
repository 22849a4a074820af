package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-dispatch/subscribers"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/transform"
)

/* validate-subscribers - Standalone CLI tool to validate subscribers.yaml
 * Transforms are compiled, so a file that passes here loads in the API
 * Usage: go run ./cmd/validate-subscribers [subscribers.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	subscribersFile := "subscribers.yaml"
	if len(os.Args) > 1 {
		subscribersFile = os.Args[1]
	}

	fmt.Printf("Validating subscribers file: %s\n", subscribersFile)
	fmt.Println(strings.Repeat("-", 50))

	engine, err := transform.NewEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loader := subscribers.NewLoader(subscribers.WithCompiler(engine))
	if err := loader.Load(subscribersFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d subscriber(s):\n", len(loaded))

	for i, sub := range loaded {
		events := "*"
		if len(sub.Events) > 0 {
			events = strings.Join(sub.Events, ", ")
		}

		fmt.Printf("\n%d. Subscriber: %s\n", i+1, sub.Name)
		fmt.Printf("   URL:         %s\n", webhook.MaskURL(sub.URL))
		fmt.Printf("   Events:      %s\n", events)
		fmt.Printf("   Enabled:     %t\n", sub.Enabled)
		fmt.Printf("   Signed:      %t\n", sub.Secret != "")
		if sub.UserID != "" {
			fmt.Printf("   User:        %s\n", sub.UserID)
		}
		if sub.Transform != "" {
			fmt.Printf("   Transform:   %s\n", sub.Transform)
		}
		if p := sub.RetryPolicy; p != nil {
			fmt.Printf("   Max Retries: %d\n", p.MaxRetries)
			fmt.Printf("   Backoff:     %s x%g up to %s\n", p.InitialDelay, p.BackoffMultiplier, p.MaxDelay)
			if p.EnableCircuitBreaker {
				fmt.Printf("   Breaker:     %d failures, %s cooldown\n", p.CircuitBreakerThreshold, p.CircuitBreakerTimeout)
			}
		}
	}

	fmt.Printf("\n✓ All subscribers are valid!\n")
}
