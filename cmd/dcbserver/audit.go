package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openlibraryenvironment/dcb-service-sub002/internal/config"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/model"
	"github.com/openlibraryenvironment/dcb-service-sub002/internal/storage"
)

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <request-id>",
		Short: "Print a request's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dbOverride, _ := cmd.Flags().GetString("db")
			return runAudit(cfgPath, dbOverride, args[0])
		},
	}
}

func runAudit(cfgPath, dbOverride, requestID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPath := dbOverride
	if dbPath == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		dbPath = cfg.DBPath
	}

	db, err := storage.Open(ctx, storage.Config{Path: dbPath})
	if err != nil {
		return err
	}
	defer db.Close()

	requests := storage.NewPatronRequests(db.DB)
	audits := storage.NewAudits(db.DB)

	pr, err := requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("request %s: %w", requestID, err)
	}

	fmt.Printf("request %s  cluster=%s  pickup=%s  workflow=%s\n",
		pr.ID, pr.BibClusterID, pr.PickupLocationCode, pr.ActiveWorkflow)
	fmt.Printf("status: %s\n", colorStatus(pr.Status))
	if pr.ErrorMessage != "" {
		color.Red("error: %s", pr.ErrorMessage)
	}
	fmt.Println()

	trail, err := audits.List(ctx, requestID)
	if err != nil {
		return err
	}
	for _, a := range trail {
		fmt.Printf("%s  %s -> %s  %s\n",
			a.Timestamp.UTC().Format(time.RFC3339),
			colorStatus(a.FromStatus), colorStatus(a.ToStatus),
			a.Description)
		if len(a.Data) > 0 {
			b, _ := json.MarshalIndent(a.Data, "    ", "  ")
			fmt.Printf("    %s\n", b)
		}
	}
	return nil
}

func colorStatus(s model.Status) string {
	switch {
	case s == model.StatusError:
		return color.RedString(string(s))
	case model.IsTerminal(s):
		return color.GreenString(string(s))
	default:
		return color.CyanString(string(s))
	}
}
