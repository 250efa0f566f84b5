package main

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parley/db"
)

func runListSessions(cmd *cobra.Command, args []string) {
	mainLogger := logger.With().WithPrefix("main")
	dataLogger := logger.With().WithPrefix("data")

	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		mainLogger.Fatal("missing PARLEY_DATABASE_URL or --database-url=")
	}

	ctx := context.Background()
	store, err := db.Open(ctx, databaseURL, dataLogger)
	if err != nil {
		mainLogger.Fatal("open database", "error", err.Error())
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx, 100)
	if err != nil {
		mainLogger.Fatal("fetch sessions", "error", err.Error())
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Title", "Started At", "Duration", "Segments"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, s := range sessions {
		duration := "live"
		if s.EndedAt != nil {
			duration = s.Duration.Round(1e9).String()
		}
		table.Append([]string{
			s.ID,
			s.Title,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			fmt.Sprintf("%d", s.Segments),
		})
	}

	table.Render()
}
