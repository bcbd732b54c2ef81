package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"aiowasp/cli/internal/config"
	"aiowasp/cli/internal/erruser"
	"aiowasp/cli/internal/findings"
	"aiowasp/cli/internal/gateway"
	"aiowasp/cli/internal/logging"
	"aiowasp/cli/internal/session"
	"aiowasp/cli/internal/stats"
	"aiowasp/cli/internal/suggest"
	"aiowasp/cli/internal/taxonomy"
	"aiowasp/cli/internal/version"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI. It is exported for testing.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	return runCLIWith(args, os.Stdout, os.Stderr)
}

func runCLIWith(args []string, stdout, stderr io.Writer) int {
	rootCmd := &cobra.Command{
		Use:     "aiowasp",
		Short:   "Triage OWASP security findings and request AI remediation suggestions",
		Version: version.String(),
	}
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Global config file (default: <user config dir>/aiowasp/config.toml)")
	pf.String("server", "", "Report server URL")
	pf.String("project", "", "Project key")
	pf.String("taxonomy-version", "", "OWASP Top 10 version (e.g. 2017, 2021, 2025)")
	pf.String("taxonomy-file", "", "YAML file with additional taxonomy versions")
	pf.String("state-dir", "", "Directory for session state (default: ./.aiowasp)")
	pf.Duration("timeout", 0, "Request timeout (e.g. 30s)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newFilterCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSummaryCmd())
	rootCmd.AddCommand(newFilesCmd())
	rootCmd.AddCommand(newCategoriesCmd())
	rootCmd.AddCommand(newVersionSwitchCmd())
	rootCmd.AddCommand(newSuggestCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintln(stderr, err)
		if d := erruser.Details(err); d != nil {
			fmt.Fprintf(stderr, "Details: %v\n", d)
		}
		return 1
	}
	return 0
}

// env is the per-invocation setup shared by every command.
type env struct {
	cfg      *config.Config
	stateDir string
	logger   *zap.Logger
	registry *taxonomy.Registry
	out      io.Writer
	errOut   io.Writer
}

func overridesFromFlags(cmd *cobra.Command) *config.Overrides {
	o := &config.Overrides{}
	changed := false
	str := func(name string) *string {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			return nil
		}
		changed = true
		v := f.Value.String()
		return &v
	}
	o.ServerURL = str("server")
	o.Project = str("project")
	o.TaxonomyVersion = str("taxonomy-version")
	o.TaxonomyFile = str("taxonomy-file")
	o.StateDir = str("state-dir")
	o.LogLevel = str("log-level")
	if f := cmd.Flags().Lookup("timeout"); f != nil && f.Changed {
		d, _ := cmd.Flags().GetDuration("timeout")
		o.Timeout = &d
		changed = true
	}
	if !changed {
		return nil
	}
	return o
}

func newEnv(cmd *cobra.Command) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, erruser.New("Could not determine current directory.", err)
	}
	_ = godotenv.Load(filepath.Join(cwd, ".env"))
	globalPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		Root:             cwd,
		GlobalConfigPath: globalPath,
		Overrides:        overridesFromFlags(cmd),
	})
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, zapcore.AddSync(cmd.ErrOrStderr()))
	if err != nil {
		return nil, erruser.New("Could not set up logging.", err)
	}
	reg, err := taxonomy.LoadFile(cfg.TaxonomyFile)
	if err != nil {
		return nil, erruser.New("Could not load taxonomy file.", err)
	}
	return &env{
		cfg:      cfg,
		stateDir: cfg.EffectiveStateDir(cwd),
		logger:   logger,
		registry: reg,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}, nil
}

// readSession restores the session without locking; for read-only commands.
func (e *env) readSession() (*session.Session, error) {
	return session.Restore(e.stateDir, e.cfg.Project, e.cfg.TaxonomyVersion)
}

// openSession locks the state directory and restores the session. The
// caller must call release.
func (e *env) openSession() (*session.Session, func(), error) {
	release, err := session.AcquireLock(e.stateDir)
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			return nil, nil, erruser.New("Another aiowasp command is using this session; try again when it finishes.", err)
		}
		return nil, nil, erruser.New("Could not lock session.", err)
	}
	s, err := e.readSession()
	if err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}

func (e *env) client() *gateway.Client {
	return gateway.NewClient(e.cfg.ServerURL, &http.Client{Timeout: e.cfg.Timeout},
		gateway.WithLogger(e.logger),
		gateway.WithRateLimit(e.cfg.RateLimit),
		gateway.WithTokenBudget(e.cfg.TokenBudget),
	)
}

func (e *env) unknownVersion(v string, err error) error {
	return erruser.New(fmt.Sprintf("Unknown taxonomy version %q; use one of: %s.", v, strings.Join(e.registry.Versions(), ", ")), err)
}

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Fetch the project's findings from the report server and start a new triage session",
		Args:  cobra.NoArgs,
		RunE:  runLoad,
	}
	cmd.Flags().Bool("sample", false, "Load the built-in sample report instead of fetching")
	return cmd
}

func runLoad(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	ver := e.cfg.TaxonomyVersion
	if !e.registry.Has(ver) {
		return e.unknownVersion(ver, taxonomy.ErrUnknownVersion)
	}
	sample, _ := cmd.Flags().GetBool("sample")
	project := e.cfg.Project
	if project == "" && !sample {
		return errors.New("load requires a project (--project or AIOWASP_PROJECT)")
	}
	prev, release, err := e.openSession()
	if err != nil {
		return err
	}
	defer release()

	next := session.New(project, ver)
	c := prev.Criteria()
	c.OwaspCategoryPrefix, _ = e.registry.ReconcileSelection(c.OwaspCategoryPrefix, ver)
	next.SetCriteria(c)

	var n int
	fellBack := false
	if !sample {
		raw, err := e.client().FetchFindings(cmd.Context(), project, ver)
		switch {
		case err == nil:
			_, n = next.Load(raw)
		case e.cfg.FallbackToSample:
			e.logger.Warn("fetching findings failed; loading sample report", zap.String("project", project), zap.Error(err))
			fellBack = true
		default:
			return erruser.New("Could not fetch findings from the report server.", err)
		}
	}
	if sample || fellBack {
		list := findings.SampleFindings()
		next.Replace(list)
		n = len(list)
	}
	if err := session.Save(e.stateDir, next); err != nil {
		return err
	}
	e.logger.Info("findings loaded", zap.String("project", project), zap.String("version", ver), zap.Int("count", n))
	fmt.Fprintf(e.out, "Loaded %d finding(s) for %s (OWASP %s).\n", n, displayProject(project), ver)
	switch {
	case fellBack:
		fmt.Fprintln(e.out, "Report server unavailable; loaded sample data instead.")
	case sample:
		fmt.Fprintln(e.out, "Using sample data; the report server was not queried.")
	}
	return nil
}

func displayProject(p string) string {
	if p == "" {
		return "sample project"
	}
	return p
}

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Set the active filter (replaces the previous one)",
		Long: `Set the active filter. All given criteria must match; omitted criteria are unconstrained.
The previous filter is replaced, not merged.`,
		Args: cobra.NoArgs,
		RunE: runFilter,
	}
	cmd.Flags().String("severity", "", "Raw severity: BLOCKER, CRITICAL, MAJOR, MINOR, INFO")
	cmd.Flags().String("category", "", "Category code of the session's taxonomy version (e.g. A03)")
	cmd.Flags().String("file", "", "Exact file path")
	cmd.Flags().String("search", "", "Case-insensitive text in title, description, CWE or category")
	return cmd
}

func runFilter(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	s, release, err := e.openSession()
	if err != nil {
		return err
	}
	defer release()

	severity, _ := cmd.Flags().GetString("severity")
	category, _ := cmd.Flags().GetString("category")
	file, _ := cmd.Flags().GetString("file")
	search, _ := cmd.Flags().GetString("search")
	c := findings.Criteria{
		Severity:            findings.Severity(strings.ToUpper(strings.TrimSpace(severity))),
		OwaspCategoryPrefix: strings.TrimSpace(category),
		FilePath:            file,
		SearchText:          search,
	}
	if c.Severity != "" && !c.Severity.Known() {
		known := make([]string, len(findings.Severities))
		for i, k := range findings.Severities {
			known[i] = string(k)
		}
		fmt.Fprintf(e.errOut, "Note: %s is not a scanner severity (%s); only findings reporting it verbatim match.\n", c.Severity, strings.Join(known, ", "))
	}
	if c.OwaspCategoryPrefix != "" {
		_, ok, err := e.registry.Label(s.TaxonomyVersion(), c.OwaspCategoryPrefix)
		if err != nil {
			return e.unknownVersion(s.TaxonomyVersion(), err)
		}
		if !ok {
			return fmt.Errorf("category %q is not in OWASP %s; run 'aiowasp categories' for the list", c.OwaspCategoryPrefix, s.TaxonomyVersion())
		}
	}
	s.SetCriteria(c)
	if err := session.Save(e.stateDir, s); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d of %d finding(s) match.\n", len(s.Filtered()), len(s.All()))
	return nil
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear every filter criterion",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	s, release, err := e.openSession()
	if err != nil {
		return err
	}
	defer release()
	s.SetCriteria(findings.Criteria{})
	if err := session.Save(e.stateDir, s); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Filters cleared; %d finding(s).\n", len(s.All()))
	return nil
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard the saved session (findings, filter and suggestions)",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}
}

func runClear(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	release, err := session.AcquireLock(e.stateDir)
	if err != nil {
		return erruser.New("Could not lock session.", err)
	}
	defer release()
	if err := session.Clear(e.stateDir); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Session cleared.")
	return nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the findings matching the active filter, with their indexes",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().Bool("json", false, "Emit {\"findings\": [...]} as JSON")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	s, err := e.readSession()
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		return writeFindingsJSON(e.out, s.Filtered())
	}
	if s.Generation() == 0 {
		fmt.Fprintln(e.errOut, "No findings loaded. Run 'aiowasp load' first.")
	}
	return writeFindingsHuman(e.out, s.Filtered(), len(s.All()))
}

func newSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show severity and category counts of the filtered findings",
		Args:  cobra.NoArgs,
		RunE:  runSummary,
	}
	cmd.Flags().Bool("json", false, "Emit the summary as JSON")
	return cmd
}

func runSummary(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	s, err := e.readSession()
	if err != nil {
		return err
	}
	sum := stats.Summarize(s.Filtered())
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		return writeJSON(e.out, sum)
	}
	return writeSummaryHuman(e.out, sum, e.registry, s.TaxonomyVersion())
}

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List every distinct file path of the loaded findings (ignores the filter)",
		Args:  cobra.NoArgs,
		RunE:  runFiles,
	}
}

func runFiles(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	s, err := e.readSession()
	if err != nil {
		return err
	}
	for _, p := range s.DistinctFilePaths() {
		fmt.Fprintln(e.out, p)
	}
	return nil
}

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the category options of the session's taxonomy version",
		Args:  cobra.NoArgs,
		RunE:  runCategories,
	}
}

func runCategories(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	s, err := e.readSession()
	if err != nil {
		return err
	}
	ver := s.TaxonomyVersion()
	opts, err := e.registry.OptionsFor(ver)
	if err != nil {
		return e.unknownVersion(ver, err)
	}
	selected := s.Criteria().OwaspCategoryPrefix
	fmt.Fprintf(e.out, "OWASP %s (versions: %s)\n", ver, strings.Join(e.registry.Versions(), ", "))
	for _, o := range opts {
		mark := " "
		if o.Code == selected {
			mark = "*"
		}
		code := o.Code
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(e.out, "%s %-4s %s\n", mark, code, o.Label)
	}
	return nil
}

func newVersionSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version-switch <version>",
		Short: "Select another OWASP Top 10 version; the category filter is kept only if its code exists there",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersionSwitch,
	}
}

func runVersionSwitch(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	s, release, err := e.openSession()
	if err != nil {
		return err
	}
	defer release()
	target := strings.TrimSpace(args[0])
	prev := s.Criteria().OwaspCategoryPrefix
	code, err := s.SwitchVersion(e.registry, target)
	if err != nil {
		return e.unknownVersion(target, err)
	}
	if err := session.Save(e.stateDir, s); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Taxonomy version: %s\n", target)
	switch {
	case code != "":
		fmt.Fprintf(e.out, "Category filter kept: %s\n", code)
	case prev != "":
		fmt.Fprintf(e.out, "Category filter %s cleared; it does not exist in %s.\n", prev, target)
	}
	if s.Project() != "" {
		fmt.Fprintln(e.out, "Run 'aiowasp load' to fetch findings for this version.")
	}
	return nil
}

func newSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <index|id>...",
		Short: "Request AI remediation suggestions for findings",
		Long: `Request AI remediation suggestions for findings of the current filtered list.
Each argument is an index shown by 'aiowasp list' or a finding id prefix (at least 4 characters).
Requests run concurrently; a finding that already has a suggestion is shown without a new request.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSuggest,
	}
	cmd.Flags().Int("retries", 0, "Retry failed requests up to this many times")
	cmd.Flags().Bool("json", false, "Emit results as JSON")
	return cmd
}

func runSuggest(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	s, release, err := e.openSession()
	if err != nil {
		return err
	}
	defer release()

	targets, err := resolveTargets(s.Filtered(), args)
	if err != nil {
		return err
	}
	refs := make([]session.Ref, len(targets))
	byPosition := make(map[int]int, len(targets))
	for i, idx := range targets {
		ref, _, err := s.Resolve(idx)
		if err != nil {
			return err
		}
		refs[i] = ref
		byPosition[ref.Position] = idx
	}

	ctx := cmd.Context()
	o := suggest.NewOrchestrator(s, e.client(), e.logger)
	var outMu sync.Mutex
	cancel := o.Subscribe(func(ev suggest.Event) {
		if ev.State.Kind != suggest.Loading {
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(e.errOut, "Requesting suggestion for finding %d...\n", byPosition[ev.Ref.Position])
	})
	defer cancel()

	for _, idx := range targets {
		if err := o.Start(ctx, idx); err != nil {
			return err
		}
	}
	o.Wait()
	retries, _ := cmd.Flags().GetInt("retries")
	for attempt := 0; attempt < retries && ctx.Err() == nil; attempt++ {
		for _, idx := range targets {
			if st, _ := o.State(idx); st.Kind == suggest.Failed {
				if _, err := o.Retry(ctx, idx); err != nil {
					e.logger.Debug("suggestion retry failed", zap.Int("index", idx), zap.Int("attempt", attempt+1), zap.Error(err))
				}
			}
		}
	}
	o.Wait()

	if err := session.Save(e.stateDir, s); err != nil {
		return err
	}
	results := make([]suggestionOutput, 0, len(targets))
	shown := make([]findings.Finding, 0, len(targets))
	failed := 0
	for i, idx := range targets {
		st, err := o.State(idx)
		if err != nil {
			return err
		}
		f, ok := s.Finding(refs[i])
		if !ok {
			return suggest.ErrStale
		}
		if st.Kind == suggest.Failed {
			failed++
		}
		results = append(results, newSuggestionOutput(idx, &f, st))
		shown = append(shown, f)
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		if err := writeJSON(e.out, results); err != nil {
			return err
		}
	} else {
		for i := range results {
			writeSuggestionHuman(e.out, &results[i], &shown[i])
		}
	}
	if failed > 0 {
		return errExit(1)
	}
	return nil
}

// resolveTargets maps each argument (filtered index or id prefix) to a
// filtered index, dropping duplicates and keeping argument order.
func resolveTargets(list []findings.Finding, args []string) ([]int, error) {
	seen := make(map[int]bool, len(args))
	out := make([]int, 0, len(args))
	for _, a := range args {
		a = strings.TrimSpace(a)
		idx, err := strconv.Atoi(a)
		if err != nil {
			idx, err = findings.ResolveIDPrefix(list, a)
			if err != nil {
				return nil, err
			}
		} else if idx < 0 || idx >= len(list) {
			return nil, erruser.New(fmt.Sprintf("No finding at index %d; the filtered list has %d.", idx, len(list)), suggest.ErrFindingNotFound)
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out, nil
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the project's report from the server",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	cmd.Flags().String("format", string(gateway.FormatPDF), "Report format: pdf, html, json, markdown")
	cmd.Flags().StringP("output", "o", "", "Output path, or - for stdout (default: owasp-security-report-<project>.<ext>)")
	cmd.Flags().Bool("url", false, "Print the download URL instead of downloading")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()
	s, err := e.readSession()
	if err != nil {
		return err
	}
	project := s.Project()
	if project == "" {
		project = e.cfg.Project
	}
	if project == "" {
		return errors.New("export requires a project (--project or AIOWASP_PROJECT)")
	}
	ver := s.TaxonomyVersion()
	format, _ := cmd.Flags().GetString("format")
	f, err := gateway.ParseFormat(format)
	if err != nil {
		e.logger.Error("export rejected", zap.String("format", format), zap.String("project", project))
		return erruser.New("Unsupported export format; use pdf, html, json, or markdown.", err)
	}
	if onlyURL, _ := cmd.Flags().GetBool("url"); onlyURL {
		u, err := gateway.ExportURL(e.client().BaseURL(), string(f), project, ver)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.out, u)
		return nil
	}

	path, _ := cmd.Flags().GetString("output")
	if path == "-" {
		_, err := e.client().Download(cmd.Context(), string(f), project, ver, e.out)
		if err != nil {
			return erruser.New("Could not download report.", err)
		}
		return nil
	}
	if path == "" {
		path = gateway.ExportFileName(project, f)
	}
	return downloadToFile(cmd.Context(), e.client(), f, project, ver, path, e.out)
}

// downloadToFile writes the report to a temp file next to path and renames
// it into place, so a failed download leaves no partial file.
func downloadToFile(ctx context.Context, c *gateway.Client, f gateway.Format, project, ver, path string, out io.Writer) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".aiowasp-export-*")
	if err != nil {
		return erruser.New("Could not create output file.", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	n, err := c.Download(ctx, string(f), project, ver, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return erruser.New("Could not download report.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not write output file.", err)
	}
	fmt.Fprintf(out, "Saved %s (%d bytes).\n", path, n)
	return nil
}
