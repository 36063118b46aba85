package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"phabry/pkg/auth"
	"phabry/pkg/config"
	"phabry/pkg/fetcher"
	"phabry/pkg/logger"
	"phabry/pkg/ui"
)

var (
	// Fetch command flags
	apiURL       string
	apiToken     string
	hostName     string
	startDate    string
	endDate      string
	baseDir      string
	pageSize     int
	rateLimit    int
	resumeFetch  bool
	forceRestart bool
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <target>",
	Short: "Fetch revisions and transactions from a Phabricator instance",
	Long: `Fetch all revisions of a Phabricator instance, oldest first, together
with each revision's transaction history, and write them as JSON snapshot
files under <basedir>/<target>/.

Credentials come from, in order:
  - the --url and --token flags
  - a stored host (use 'phabry auth login' to store, pick with --host)
  - environment variables (PHABRY_URL and PHABRY_API_TOKEN)
  - the configuration file

The fetch window can be bounded with --start and --end (dd-mm-yyyy). A run
interrupted mid-way leaves a checkpoint; continue it with --resume or discard
it with --force-restart.`,
	Example: `  # Mirror an instance with credentials from the environment
  phabry fetch myproject

  # Explicit credentials and a bounded window
  phabry fetch myproject --url https://phab.example.com/api/ --token api-xyz --start 01-01-2020 --end 31-12-2020

  # Use a stored host
  phabry fetch myproject --host work

  # Continue an interrupted run
  phabry fetch myproject --resume`,
	Args: cobra.ExactArgs(1),
	Run:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&apiURL, "url", "", "Conduit API base URL, e.g. https://phab.example.com/api/")
	fetchCmd.Flags().StringVar(&apiToken, "token", "", "Conduit API token")
	fetchCmd.Flags().StringVar(&hostName, "host", "", "use a stored host entry")
	fetchCmd.Flags().StringVar(&startDate, "start", "", "only revisions created on or after this date (dd-mm-yyyy)")
	fetchCmd.Flags().StringVar(&endDate, "end", "", "only revisions created on or before this date (dd-mm-yyyy)")
	fetchCmd.Flags().StringVarP(&baseDir, "basedir", "o", "", "base directory for snapshots")
	fetchCmd.Flags().IntVar(&pageSize, "page-size", 0, "revisions per page, at most 100")
	fetchCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute")
	fetchCmd.Flags().BoolVar(&resumeFetch, "resume", false, "resume from last checkpoint")
	fetchCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard an existing checkpoint and start fresh")
}

func runFetch(cmd *cobra.Command, args []string) {
	target := strings.TrimSpace(args[0])
	ui.PrintInfo("Target", target)

	flags := make(map[string]interface{})
	if apiURL != "" {
		flags["url"] = apiURL
	}
	if apiToken != "" {
		flags["token"] = apiToken
	}
	if baseDir != "" {
		flags["basedir"] = baseDir
	}
	if startDate != "" {
		flags["start"] = startDate
	}
	if endDate != "" {
		flags["end"] = endDate
	}
	if pageSize > 0 {
		flags["page-size"] = pageSize
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if verbose {
		flags["log-level"] = "debug"
	} else if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	// A stored host fills in whatever the flags left out.
	if apiURL == "" || apiToken == "" {
		if host := resolveHost(hostName); host != nil {
			if apiURL == "" {
				flags["url"] = host.URL
			}
			if apiToken == "" {
				flags["token"] = host.Token
			}
			ui.PrintInfo("Using host", host.Name)
		} else if hostName != "" {
			ui.PrintError("Host not found", hostName)
			ui.PrintInfo("Stored hosts", "use 'phabry auth list' to see them")
			os.Exit(1)
		}
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		if strings.Contains(err.Error(), "token") {
			ui.PrintInfo("Hint", "store credentials with 'phabry auth login' or set PHABRY_API_TOKEN")
		}
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log.WithField("version", version).Info("phabry starting")

	f := fetcher.New(cfg, log)
	if err := f.Run(target, resumeFetch, forceRestart); err != nil {
		log.WithError(err).WithField("target", target).Error("fetch failed")
		ui.PrintError("FETCH FAILED", err.Error())
		os.Exit(1)
	}

	log.WithField("target", target).Info("fetch completed successfully")
	ui.PrintSuccess("[FETCH COMPLETED SUCCESSFULLY]")
}

// resolveHost looks up a stored host entry. With an empty name the first
// stored entry wins, which covers the common single-host setup.
func resolveHost(name string) *auth.Host {
	manager, err := auth.NewManager()
	if err != nil {
		return nil
	}

	if name != "" {
		host, err := manager.Retrieve(name)
		if err != nil {
			return nil
		}
		return host
	}

	hosts, err := manager.List()
	if err != nil || len(hosts) == 0 {
		return nil
	}
	return hosts[0]
}

// Make fetch the default command when no subcommand is specified
func init() {
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 && !isKnownCommand(args[0]) {
			// Treat a bare argument as the target name
			fetchCmd.Run(fetchCmd, args)
			return nil
		}
		return cmd.Help()
	}

	rootCmd.Args = cobra.ArbitraryArgs
}

func isKnownCommand(arg string) bool {
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == arg || cmd.HasAlias(arg) {
			return true
		}
	}
	return false
}
