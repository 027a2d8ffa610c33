// Package main provides a CLI tool for operating the ticket registry.
// It can inspect session counts, validate tickets and revoke sessions via
// the kernel API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/client"
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "Ticket kernel base URL")
		action    = flag.String("action", "stats", "Action to perform: stats, validate, revoke")
		ticketID  = flag.String("ticket-id", "", "Ticket ID for validate/revoke operations")
		principal = flag.String("principal", "", "Principal filter for the stats action")
		kind      = flag.String("kind", "", "Expected ticket kind for the validate action")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	kc := client.NewKernelClient(*baseURL+"/api/v1", 30*time.Second, logger)
	ctx := context.Background()

	var err error
	switch *action {
	case "stats":
		err = runStats(ctx, kc, *principal)
	case "validate":
		if *ticketID == "" {
			fmt.Fprintf(os.Stderr, "Ticket ID is required for validate\n")
			os.Exit(1)
		}
		err = runValidate(ctx, kc, *ticketID, *kind)
	case "revoke":
		if *ticketID == "" {
			fmt.Fprintf(os.Stderr, "Ticket ID is required for revoke\n")
			os.Exit(1)
		}
		err = runRevoke(ctx, kc, *ticketID)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", *action)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(ctx context.Context, kc *client.KernelClient, principal string) error {
	count, err := kc.SessionStats(ctx, principal)
	if err != nil {
		return err
	}

	if principal != "" {
		fmt.Printf("Active sessions for %s: %d\n", principal, count)
	} else {
		fmt.Printf("Active sessions: %d\n", count)
	}
	return nil
}

func runValidate(ctx context.Context, kc *client.KernelClient, ticketID, kind string) error {
	t, err := kc.Validate(ctx, ticketID, kind)
	if err != nil {
		return err
	}

	fmt.Printf("Ticket: %s\n", t.ID)
	fmt.Printf("Kind: %s\n", t.Kind)
	fmt.Printf("Use count: %d\n", t.UseCount)
	if t.Principal != "" {
		fmt.Printf("Principal: %s\n", t.Principal)
	}
	if t.Service != "" {
		fmt.Printf("Service: %s\n", t.Service)
	}
	return nil
}

func runRevoke(ctx context.Context, kc *client.KernelClient, ticketID string) error {
	removed, err := kc.Revoke(ctx, ticketID)
	if err != nil {
		return err
	}

	fmt.Printf("Revoked %d tickets\n", removed)
	return nil
}
