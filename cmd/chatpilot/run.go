package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/chatpilot/internal/session"
	"github.com/shehryarbajwa/chatpilot/pkg/models"
)

var runFlags struct {
	prompt            string
	model             string
	mode              string
	cookies           string
	allowCookieErrors bool
	output            string
	download          bool
	preferred         string
	timeout           time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a prompt and wait for the answer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := models.Mode(runFlags.mode)
		if mode != models.ModeText && mode != models.ModeImage {
			return fmt.Errorf("unknown mode %q", runFlags.mode)
		}

		browser := models.BrowserConfig{
			ChatURL:           cfg.Browser.ChatURL,
			Origin:            cfg.Browser.Origin,
			CookieJar:         cfg.Browser.CookieJar,
			AllowCookieErrors: cfg.Browser.AllowCookieErrors || runFlags.allowCookieErrors,
		}
		if runFlags.cookies != "" {
			browser.CookieJar = runFlags.cookies
		}

		eng, err := newEngine(cfg, logger)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rec, err := eng.Run(ctx, session.RunRequest{
			Prompt:     runFlags.prompt,
			Model:      runFlags.model,
			Mode:       mode,
			Browser:    browser,
			Endpoint:   cfg.Browser.Endpoint,
			OutputPath: runFlags.output,
			Download:   runFlags.download,
			Preferred:  runFlags.preferred,
			Timeout:    timeoutOr(runFlags.timeout),
		})
		report(cmd, rec, runFlags.output)
		return err
	},
}

var reattachFlags struct {
	output    string
	download  bool
	preferred string
	timeout   time.Duration
	force     bool
}

var reattachCmd = &cobra.Command{
	Use:   "reattach <session-id>",
	Short: "Resume a session whose browser connection dropped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cfg, logger)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rec, err := eng.Reattach(ctx, args[0], session.ReattachRequest{
			OutputPath: reattachFlags.output,
			Download:   reattachFlags.download,
			Preferred:  reattachFlags.preferred,
			Timeout:    timeoutOr(reattachFlags.timeout),
			Force:      reattachFlags.force,
		})
		report(cmd, rec, reattachFlags.output)
		return err
	},
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return cfg.Poll.Timeout
}

// report prints the answer to stdout unless it went to a file, and the
// session outcome to stderr
func report(cmd *cobra.Command, rec *models.SessionRecord, outputPath string) {
	if rec == nil {
		return
	}
	switch {
	case rec.Status == models.StatusRunning && rec.ReattachPending:
		cmd.PrintErrf("Browser disconnected. Resume with: chatpilot reattach %s\n", rec.ID)
	case rec.Status == models.StatusCompleted:
		if outputPath == "" && rec.Response != nil {
			cmd.Println(rec.Response.Text)
		}
		if rec.Response != nil && rec.Response.Downloaded != "" {
			cmd.PrintErrf("Download triggered for %s\n", rec.Response.Downloaded)
		}
		cmd.PrintErrf("Session %s completed in %s\n", rec.ID, time.Duration(rec.ElapsedMs)*time.Millisecond)
	default:
		cmd.PrintErrf("Session %s %s\n", rec.ID, rec.Status)
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.prompt, "prompt", "p", "", "prompt to submit")
	f.StringVarP(&runFlags.model, "model", "m", "", "model label recorded on the session")
	f.StringVar(&runFlags.mode, "mode", string(models.ModeText), "text or image")
	f.StringVar(&runFlags.cookies, "cookies", "", "cookie jar JSON file")
	f.BoolVar(&runFlags.allowCookieErrors, "allow-cookie-errors", false, "continue when the cookie jar cannot be applied")
	f.StringVarP(&runFlags.output, "output", "o", "", "write the answer text to this file")
	f.BoolVar(&runFlags.download, "download", false, "trigger the save control of the generated image")
	f.StringVar(&runFlags.preferred, "preferred", "", "download the image with this URL or id")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "how long to wait for output (default from config)")
	_ = runCmd.MarkFlagRequired("prompt")

	rf := reattachCmd.Flags()
	rf.StringVarP(&reattachFlags.output, "output", "o", "", "write the answer text to this file")
	rf.BoolVar(&reattachFlags.download, "download", false, "trigger the save control of the generated image")
	rf.StringVar(&reattachFlags.preferred, "preferred", "", "download the image with this URL or id")
	rf.DurationVar(&reattachFlags.timeout, "timeout", 0, "how long to wait for output (default from config)")
	rf.BoolVar(&reattachFlags.force, "force", false, "resume a running session left behind by a killed process")

	rootCmd.AddCommand(runCmd, reattachCmd)
}
