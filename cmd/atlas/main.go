// atlas is the project-catalog service CLI: it discovers projects under
// configured roots, keeps the catalog fresh through background jobs, and
// answers keyword, semantic and natural-language searches.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"codeatlas/internal/app"
	"codeatlas/internal/catalog"
	"codeatlas/internal/config"
	"codeatlas/internal/logging"
	"codeatlas/internal/search"
)

var (
	// Global flags
	configPath string
	debug      bool
	orgID      string
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "atlas - multi-tenant project catalog and hybrid search",
	Long: `atlas discovers source-code projects under filesystem roots, extracts
manifest metadata, scores health and production quality, embeds every
project in a vector space, and serves keyword, semantic and
natural-language search over the result.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalog service: watcher, scheduler and metrics endpoint",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Enqueue a scan job over the given paths and wait for it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScan,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var relatedCmd = &cobra.Command{
	Use:   "related [project-id]",
	Short: "List projects similar to an indexed project",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelated,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
	RunE:  runJobs,
}

var (
	metricsAddr  string
	searchLimit  int
	naturalQuery bool
	jobStatus    string
	waitTimeout  time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id (default from CATALOG_ORG_ID)")

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address for /metrics")
	scanCmd.Flags().DurationVar(&waitTimeout, "wait", 5*time.Minute, "how long to wait for the scan to finish")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().BoolVar(&naturalQuery, "natural", false, "parse the query with the LLM and apply filters")
	relatedCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum results")
	jobsCmd.Flags().StringVar(&jobStatus, "status", "", "filter by status (pending|running|completed|failed)")

	rootCmd.AddCommand(serveCmd, scanCmd, searchCmd, relatedCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildApp loads configuration and assembles the service.
func buildApp() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Debug = true
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if orgID != "" {
		a.DefaultOrg = orgID
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	if err := a.Start(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Get(logging.CategoryBoot).Errorf("metrics server: %v", err)
		}
	}()
	logging.Get(logging.CategoryBoot).Infof("serving metrics on %s", metricsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Get(logging.CategoryBoot).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Stop()
	a.Scheduler.Start()

	job, err := a.EnqueueScan(a.DefaultOrg, args)
	if err != nil {
		return fmt.Errorf("enqueue scan: %w", err)
	}
	fmt.Printf("scan job %s queued for %s\n", job.ID, strings.Join(args, ", "))

	final, err := waitForJob(a, job.ID, waitTimeout)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(final.Result, "", "  ")
	fmt.Printf("scan %s: %s\n%s\n", final.ID, final.Status, out)
	if final.Status == catalog.JobFailed {
		return fmt.Errorf("scan failed")
	}
	return nil
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(a *app.App, jobID string, timeout time.Duration) (*catalog.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		session := a.Store.Session(context.Background())
		job, err := session.GetJob(jobID)
		session.Close()
		if err != nil {
			return nil, err
		}
		if job.Status == catalog.JobCompleted || job.Status == catalog.JobFailed {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %s still %s after %s", jobID, job.Status, timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	query := strings.Join(args, " ")
	ctx := context.Background()

	if naturalQuery {
		results, parsed, err := a.Search.SearchNatural(ctx, a.DefaultOrg, query, searchLimit)
		if err != nil {
			return err
		}
		fmt.Printf("keywords: %s\n", strings.Join(parsed.Keywords, ", "))
		printResults(results)
		return nil
	}

	results, err := a.Search.Search(ctx, a.DefaultOrg, query, searchLimit)
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func printResults(results []search.Result) {
	if len(results) == 0 {
		fmt.Println("no results")
		return
	}
	for _, r := range results {
		langs := strings.Join(r.Project.Languages, ",")
		fmt.Printf("%-30s %.4f  [%s]  %s\n", r.Project.Name, r.Score, langs, r.Project.Description)
	}
}

func runRelated(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	hits, err := a.Embeddings.FindRelated(a.DefaultOrg, args[0], searchLimit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("no related projects")
		return nil
	}
	session := a.Store.Session(context.Background())
	defer session.Close()
	for _, hit := range hits {
		p, err := session.GetProject(a.DefaultOrg, hit.ID)
		if err != nil {
			continue
		}
		fmt.Printf("%-30s %.3f  %s\n", p.Name, hit.Score, p.Description)
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Stop()

	session := a.Store.Session(context.Background())
	defer session.Close()

	list, err := session.ListJobs(a.DefaultOrg, catalog.JobStatus(jobStatus), 50)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, j := range list {
		fmt.Printf("%-36s %-20s %-10s attempts=%d/%d  %s\n",
			j.ID, j.Kind, j.Status, j.Attempts, j.MaxAttempts, j.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
