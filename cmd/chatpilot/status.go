package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		rec, err := st.Get(args[0])
		if err != nil {
			return err
		}

		if statusJSON {
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		}
		printStatus(cmd, rec)
		return nil
	},
}

func printStatus(cmd *cobra.Command, rec *models.SessionRecord) {
	cmd.Printf("Session: %s\n", rec.ID)
	cmd.Printf("Status: %s\n", rec.Status)
	cmd.Printf("Mode: %s\n", rec.Mode)
	if rec.Model != "" {
		cmd.Printf("Model: %s\n", rec.Model)
	}
	cmd.Printf("Created: %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.ElapsedMs > 0 {
		cmd.Printf("Elapsed: %s\n", time.Duration(rec.ElapsedMs)*time.Millisecond)
	}
	if rec.Usage != nil {
		cmd.Printf("Tokens: %d in, %d out\n", rec.Usage.InputTokens, rec.Usage.OutputTokens)
	}
	if rec.ReattachPending {
		cmd.Printf("Reattach pending: %s\n", rec.LastNotice)
	}
	if rec.Error != nil {
		cmd.Printf("Error (%s): %s\n", rec.Error.Category, rec.Error.Message)
	}
	if rec.Response != nil && len(rec.Response.Assets) > 0 {
		cmd.Printf("Assets: %d\n", len(rec.Response.Assets))
		for _, a := range rec.Response.Assets {
			cmd.Printf("  %d  %s\n", a.Score, a.URL)
		}
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw record")
	rootCmd.AddCommand(statusCmd)
}
