package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"CompetitorScanner/internal/app"
	"CompetitorScanner/internal/config"
	"CompetitorScanner/internal/domain"
	"CompetitorScanner/internal/logging"
	"CompetitorScanner/internal/usecase"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "competitorscanner",
		Short:         "Discover competitor accounts, harvest their reels and deliver reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default: $COMPETITOR_SCANNER_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override logging format (text, json)")

	root.AddCommand(newRunCmd(opts), newServeCmd(opts))
	return root
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	return cfg, logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format), nil
}

type runOptions struct {
	seed        string
	projectID   int64
	maxAccounts int
	maxContent  int
	harvest     bool
	channel     string
	recipient   string
	language    string
	dryRun      bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one scrape request and print its result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			var projects []int64
			if opts.dryRun {
				projects = []int64{opts.projectID}
			}
			application, err := app.New(cmd.Context(), cfg, logger, app.Options{DryRun: opts.dryRun, Projects: projects})
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer application.Close()

			res, runErr := application.Run(cmd.Context(), opts.request())
			if err := printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if res.Status == usecase.StatusCompletedWithDeliveryFailure {
				return errors.New("report archived but delivery failed")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.seed, "seed", "s", "", "seed account username or profile URL")
	f.Int64VarP(&opts.projectID, "project", "p", 0, "owning project id")
	f.IntVar(&opts.maxAccounts, "max-accounts", domain.DefaultMaxAccounts, "maximum related accounts to discover")
	f.IntVar(&opts.maxContent, "max-content", domain.DefaultMaxContentPerAccount, "maximum reels per account")
	f.BoolVar(&opts.harvest, "harvest", false, "also list recent reels of every discovered account")
	f.StringVar(&opts.channel, "channel", domain.DefaultChannel, "delivery channel (telegram, nats)")
	f.StringVar(&opts.recipient, "recipient", "", "recipient id on the channel (default: configured chat)")
	f.StringVar(&opts.language, "lang", string(domain.LanguageEN), "report language (en, ru)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "keep results in memory instead of Postgres")
	_ = cmd.MarkFlagRequired("seed")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func (o *runOptions) request() domain.ScrapeRequest {
	return domain.ScrapeRequest{
		SeedAccount:          o.seed,
		ProjectID:            o.projectID,
		MaxAccounts:          o.maxAccounts,
		MaxContentPerAccount: o.maxContent,
		HarvestContent:       o.harvest,
		Requester: domain.Requester{
			Channel:     o.channel,
			RecipientID: o.recipient,
			Language:    domain.Language(o.language),
		},
	}.WithDefaults()
}

type resultView struct {
	RunID          string               `json:"run_id"`
	Status         string               `json:"status"`
	FinalState     usecase.State        `json:"final_state"`
	Accounts       domain.UpsertStats   `json:"accounts"`
	Items          domain.UpsertStats   `json:"items"`
	HarvestFailed  []string             `json:"harvest_failed,omitempty"`
	InvalidRecords int                  `json:"invalid_records"`
	Archive        string               `json:"archive,omitempty"`
	ExpiresAt      string               `json:"expires_at,omitempty"`
	Delivered      bool                 `json:"delivered"`
	Steps          []usecase.Transition `json:"steps"`
	Error          string               `json:"error,omitempty"`
}

func printResult(w io.Writer, res usecase.RunResult) error {
	view := resultView{
		RunID:          res.RunID,
		Status:         res.Status,
		FinalState:     res.FinalState,
		Accounts:       res.AccountStats,
		Items:          res.ContentStats,
		InvalidRecords: len(res.ValidationErrors),
		Delivered:      res.Delivery != nil && res.Delivery.Success,
		Steps:          res.History,
	}
	for _, f := range res.HarvestFailures {
		view.HarvestFailed = append(view.HarvestFailed, f.Account.Username)
	}
	if res.Archive != nil {
		view.Archive = res.Archive.Path
		view.ExpiresAt = res.Archive.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watch-list scheduler and accept NATS triggers until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			application, err := app.New(cmd.Context(), cfg, logger, app.Options{})
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer application.Close()

			if err := application.Serve(cmd.Context()); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			return nil
		},
	}
}
