package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slopesort/slopesort/pkg/cache"
	"github.com/slopesort/slopesort/pkg/roster"
	"github.com/slopesort/slopesort/pkg/slopesort"
	"github.com/slopesort/slopesort/pkg/vision"
)

func newDatabaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "database",
		Short: "Manage the subject roster interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := slopesort.LoadConfig()
			if err != nil {
				return exitf(exitUser, "configuration: %v", err)
			}
			r, err := roster.Load(roster.DefaultFile)
			if err != nil {
				return exitf(exitUser, "roster: %v", err)
			}
			return menuLoop(cmd.Context(), cfg, r)
		},
	}
}

// describer prepares the reference image, consults the analysis cache,
// and asks the vision service for a canonical description on a miss.
type describer struct {
	ctx    context.Context
	cfg    *slopesort.Config
	client *vision.Client
	store  *cache.Store
}

func (d *describer) Describe(path string) (string, error) {
	hash, err := slopesort.ContentHash(path)
	if err != nil {
		return "", err
	}

	var desc string
	if hit, err := d.store.Get(hash, vision.KindDescribeFace, &desc); err == nil && hit {
		return desc, nil
	}

	payload, err := slopesort.LoadPayload(path, d.cfg.MaxDimension, d.cfg.MaxPayloadMB)
	if err != nil {
		return "", err
	}
	desc, err = d.client.DescribeOneFace(d.ctx, payload.MIME, payload.Data)
	if err != nil {
		return "", err
	}

	if err := d.store.Put(hash, vision.KindDescribeFace, desc); err == nil {
		d.store.Flush()
	}
	return desc, nil
}

// menuLoop is the roster UI: prompt, dispatch, continue until quit.
func menuLoop(ctx context.Context, cfg *slopesort.Config, r *roster.Roster) error {
	var desc *describer // built lazily so list/show/stats work offline
	in := bufio.NewScanner(os.Stdin)

	for {
		fmt.Println("\nSubject roster")
		fmt.Println("  1) add      register a subject from a reference photo")
		fmt.Println("  2) remove   delete a subject")
		fmt.Println("  3) list     show all subjects")
		fmt.Println("  4) show     show one subject in full")
		fmt.Println("  5) stats    roster statistics")
		fmt.Println("  6) validate check roster integrity")
		fmt.Println("  7) quit")

		choice, ok := prompt(in, "Enter choice (1-7): ")
		if !ok {
			return nil
		}

		switch choice {
		case "1", "add":
			if desc == nil {
				d, err := newDescriber(ctx, cfg)
				if err != nil {
					fmt.Printf("vision backend unavailable: %v\n", err)
					continue
				}
				desc = d
			}
			menuAdd(in, r, desc)
		case "2", "remove":
			menuRemove(in, r)
		case "3", "list":
			menuList(r)
		case "4", "show":
			menuShow(in, r)
		case "5", "stats":
			s := r.Summarize()
			fmt.Printf("\n%d subjects registered", s.Total)
			if s.Total > 0 {
				fmt.Printf(" (oldest %s, newest %s)", s.Oldest, s.Newest)
			}
			fmt.Println()
		case "6", "validate":
			issues := r.Validate()
			if len(issues) == 0 {
				fmt.Println("\nRoster is valid.")
				continue
			}
			fmt.Printf("\n%d issues:\n", len(issues))
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
		case "7", "quit", "q", "exit":
			return nil
		default:
			fmt.Println("Invalid choice, enter 1-7.")
		}
	}
}

func newDescriber(ctx context.Context, cfg *slopesort.Config) (*describer, error) {
	backend, err := vision.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	store, err := cache.Load(cache.DefaultFile)
	if err != nil {
		return nil, err
	}
	client := vision.NewClient(backend, &vision.Options{
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		CallTimeout:   cfg.VisionTimeout,
	})
	return &describer{ctx: ctx, cfg: cfg, client: client, store: store}, nil
}

func menuAdd(in *bufio.Scanner, r *roster.Roster, d *describer) {
	name, ok := prompt(in, "Subject name: ")
	if !ok || name == "" {
		fmt.Println("Cancelled.")
		return
	}
	ref, ok := prompt(in, "Reference image path: ")
	if !ok || ref == "" {
		fmt.Println("Cancelled.")
		return
	}
	notes, _ := prompt(in, "Notes (optional): ")

	fmt.Println("Generating description, this may take a few seconds...")
	if err := r.Add(name, ref, notes, d); err != nil {
		fmt.Printf("add failed: %v\n", err)
		return
	}
	entry := r.Get(name)
	fmt.Printf("Added %s.\nDescription preview: %s\n", name, preview(entry.Description, 200))
}

func menuRemove(in *bufio.Scanner, r *roster.Roster) {
	name, ok := prompt(in, "Subject name to remove: ")
	if !ok || name == "" {
		fmt.Println("Cancelled.")
		return
	}
	removed, err := r.Remove(name)
	if err != nil {
		fmt.Printf("remove failed: %v\n", err)
		return
	}
	if !removed {
		fmt.Printf("%q is not in the roster.\n", name)
		return
	}
	fmt.Printf("Removed %s.\n", name)
}

func menuList(r *roster.Roster) {
	if len(r.Entries) == 0 {
		fmt.Println("\nRoster is empty.")
		return
	}
	fmt.Printf("\n%d subjects:\n", len(r.Entries))
	for i, e := range r.Entries {
		fmt.Printf("%d. %s\n", i+1, e.Name)
		for _, p := range e.ReferencePaths {
			fmt.Printf("   reference: %s\n", p)
		}
		if e.Notes != "" {
			fmt.Printf("   notes: %s\n", e.Notes)
		}
		fmt.Printf("   description: %s\n", preview(e.Description, 150))
	}
}

func menuShow(in *bufio.Scanner, r *roster.Roster) {
	name, ok := prompt(in, "Subject name: ")
	if !ok || name == "" {
		return
	}
	e := r.Get(name)
	if e == nil {
		fmt.Printf("%q is not in the roster.\n", name)
		return
	}
	fmt.Printf("\nName: %s\nAdded: %s\n", e.Name, e.CreatedAt)
	for _, p := range e.ReferencePaths {
		fmt.Printf("Reference: %s\n", p)
	}
	if e.Notes != "" {
		fmt.Printf("Notes: %s\n", e.Notes)
	}
	fmt.Printf("\n%s\n", e.Description)
}

func prompt(in *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !in.Scan() {
		return "", false
	}
	return strings.TrimSpace(in.Text()), true
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
