package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/internal/broker"
	"github.com/IliaW/portal-checker/internal/browser"
	"github.com/IliaW/portal-checker/internal/domcheck"
	"github.com/IliaW/portal-checker/internal/linkcheck"
	"github.com/IliaW/portal-checker/internal/model"
	"github.com/IliaW/portal-checker/internal/perf"
	"github.com/IliaW/portal-checker/internal/report"
	"github.com/IliaW/portal-checker/internal/scenario"
	"github.com/IliaW/portal-checker/internal/urlsource"
	"github.com/spf13/cobra"
)

func newLinksCmd() *cobra.Command {
	var (
		src       urlsource.Source
		domain    string
		number    int
		headers   []string
		mechanism string
		workers   int
		output    string
	)
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Check pages for requests answered with an error status",
		Long: `Loads every page of the URL list and records the requests it makes.
Every response with a status of 400 or above, except the ignored ones, is written
to the output file as "ERROR <status> -> <resource>  from <page>".`,
		Example: `  portal-checker links -d https://bbp.epfl.ch --folder urls -n 20 -H "Authorization:Basic xyz"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			urls, err := urlsource.Load(src)
			if err != nil {
				return err
			}
			urls = urlsource.Sample(urlsource.WithDomain(domain, urls), number,
				rand.New(rand.NewSource(time.Now().UnixNano())))
			extra, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mechanism") {
				cfg.LinkSettings.Mechanism = mechanism
			}
			if cmd.Flags().Changed("workers") {
				cfg.LinkSettings.Workers = workers
			}
			if cmd.Flags().Changed("output") {
				cfg.LinkSettings.Output = output
			}
			opts, err := linkcheck.NewOptions(cfg.LinkSettings, cfg.WorkerSettings, cfg.Version)
			if err != nil {
				return err
			}
			loader, closeLoader, err := newLoader(ctx, opts)
			if err != nil {
				return err
			}
			defer closeLoader()

			s, err := newSuite(ctx, "links", outputPath(cfg.LinkSettings.Output))
			if err != nil {
				return err
			}
			res := linkcheck.Run(ctx, urls, extra, loader, opts, log)
			if err = writeLines(outputPath(cfg.LinkSettings.Output), res.Errors); err != nil {
				log.Error("failed to write errors file.", slog.String("err", err.Error()))
			}

			summary := report.NewSummary(log)
			for _, p := range res.Pages {
				r := &model.CheckResult{
					RunID:    s.runID,
					Suite:    s.name,
					Name:     p.URL,
					Passed:   !p.Failed(),
					Duration: time.Duration(p.TimeToCheck) * time.Millisecond,
					Version:  cfg.Version,
				}
				if msgs := linkcheck.Messages(p); len(msgs) > 0 {
					r.Step = msgs[0]
				}
				summary.Add(r)
			}

			return s.finish(ctx, summary, "")
		},
	}
	cmd.Flags().StringVarP(&src.URL, "url", "u", "", "single url to check")
	cmd.Flags().StringVarP(&src.File, "file", "f", "", "file with one url per line")
	cmd.Flags().StringVar(&src.Folder, "folder", "", "folder with *.txt url lists")
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "prefix for every url")
	cmd.Flags().IntVarP(&number, "number", "n", 0, "number of random urls to check, 0 checks all")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header KEY:VALUE, repeatable")
	cmd.Flags().StringVarP(&mechanism, "mechanism", "m", "headless", "check mechanism: headless or curl")
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "number of pages checked concurrently")
	cmd.Flags().StringVarP(&output, "output", "o", "errors.list", "errors file")

	return cmd
}

func newLoader(ctx context.Context, opts *linkcheck.Options) (linkcheck.PageLoader, func(), error) {
	if opts.Mechanism == model.Curl {
		return linkcheck.NewCurlLoader(opts, cfg.BrowserSettings.UserAgent, log), func() {}, nil
	}
	b, err := browser.NewBrowser(ctx, cfg.BrowserSettings, log)
	if err != nil {
		return nil, nil, err
	}

	return linkcheck.NewBrowserLoader(b, opts, log), b.Close, nil
}

func writeLines(path string, lines []string) error {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func newDomCmd() *cobra.Command {
	var (
		paramsFile  string
		domain      string
		number      int
		useAll      bool
		group       string
		wait        time.Duration
		workers     int
		output      string
		screenshots bool
	)
	cmd := &cobra.Command{
		Use:   "dom",
		Short: "Check that sampled pages render their expected elements",
		Example: `  portal-checker dom -p sites.json -d https://bbp.epfl.ch -n 5
  portal-checker dom -p sites.json -d https://bbp.epfl.ch --all --group nexus`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			params, err := domcheck.LoadParams(paramsFile)
			if err != nil {
				return err
			}
			opts := domcheck.NewOptions(cfg.DomSettings, cfg.BrowserSettings)
			opts.Domain = domain
			opts.UseAll = useAll
			opts.Group = group
			opts.Screenshots = screenshots
			opts.Output = outputPath(opts.Output)
			if cmd.Flags().Changed("number") {
				opts.Number = number
			}
			if cmd.Flags().Changed("wait") {
				opts.Wait = wait
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}
			if cmd.Flags().Changed("output") {
				opts.Output = output
			}

			b, err := browser.NewBrowser(ctx, cfg.BrowserSettings, log)
			if err != nil {
				return err
			}
			defer b.Close()
			checker := domcheck.NewChecker(opts, func() (domcheck.Prober, error) {
				s, err := b.NewSession()
				if err != nil {
					return nil, err
				}
				return s, nil
			}, log)

			res, err := checker.Run(ctx, params)
			if err != nil {
				return err
			}
			if res.Failed() {
				return failed("%d of %d pages miss elements, see %s", len(res.Failures), res.Checked, opts.Output)
			}
			log.Info(fmt.Sprintf("all %d pages have their elements.", res.Checked))

			return nil
		},
	}
	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "json file describing the sites")
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "prefix for every url")
	cmd.Flags().IntVarP(&number, "number", "n", 5, "number of random urls per site")
	cmd.Flags().BoolVar(&useAll, "all", false, "check every url instead of a sample")
	cmd.Flags().StringVar(&group, "group", "", "only check sites of this group")
	cmd.Flags().DurationVar(&wait, "wait", 20*time.Second, "time to wait for the elements of a page")
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "number of pages checked concurrently")
	cmd.Flags().StringVarP(&output, "output", "o", "page_dom_check.log", "failures file")
	cmd.Flags().BoolVar(&screenshots, "screenshots", false, "also take a screenshot of successful pages")
	_ = cmd.MarkFlagRequired("params")

	return cmd
}

func newMoocCmd() *cobra.Command {
	var servicesFile string
	cmd := &cobra.Command{
		Use:   "mooc [check...]",
		Short: "Run the course platform checks",
		Long: `Logs into the course platform and runs its checks. Without arguments the
grader and the simulation app checks run; the checks of the jobs started by the
previous run come before the new jobs are started.

Available checks: grade_submission, start_simui, check_simui, start_pspapp, check_pspapp.
With --services the service checks of the file run instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			results := outputPath(cfg.MoocSettings.ResultsFile)
			s, err := newSuite(ctx, "mooc", cfg.MoocSettings.DebugDir, results)
			if err != nil {
				return err
			}
			m := scenario.NewMooc(cfg.MoocSettings, s.store)

			var checks []scenario.Check
			switch {
			case servicesFile != "":
				services, err := scenario.LoadServiceChecks(servicesFile)
				if err != nil {
					s.close()
					return err
				}
				checks = m.ServiceChecks(services)
			case len(args) > 0:
				for _, name := range args {
					run, ok := m.Check(name)
					if !ok {
						s.close()
						return fmt.Errorf("unknown check %q", name)
					}
					checks = append(checks, scenario.Check{Name: name, Run: run})
				}
			default:
				checks = append([]scenario.Check{{Name: "grade_submission", Run: m.GradeSubmission}}, m.AppChecks()...)
			}

			summary := report.NewSummary(log)
			s.run(ctx, cfg.MoocSettings.DebugDir, m.Login, checks, summary)

			return s.finish(ctx, summary, results)
		},
	}
	cmd.Flags().StringVarP(&servicesFile, "services", "s", "", "json file with the service checks")

	return cmd
}

func newEbrainsCmd() *cobra.Command {
	var resultsFile string
	cmd := &cobra.Command{
		Use:   "ebrains [circuit...]",
		Short: "Check and start the simulation jobs of the launcher circuits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			results := outputPath(resultsFile)
			s, err := newSuite(ctx, "ebrains", cfg.MoocSettings.DebugDir, results)
			if err != nil {
				return err
			}
			e := scenario.NewEbrains(cfg.EbrainsSettings, s.store)
			circuits := e.Circuits()
			if len(args) > 0 {
				circuits = make([]string, len(args))
				for i, a := range args {
					circuits[i] = strings.ToUpper(a)
				}
			}

			summary := report.NewSummary(log)
			s.run(ctx, cfg.MoocSettings.DebugDir, nil, e.Checks(circuits), summary)

			return s.finish(ctx, summary, results)
		},
	}
	cmd.Flags().StringVarP(&resultsFile, "results", "r", "ebrains_results.txt", "results file")

	return cmd
}

func newPickNeuronCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "pickneuron",
		Short: "Play the real-or-synthesized neuron game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("url") {
				cfg.NeuronSettings.URL = url
			}
			results := outputPath("pickneuron_results.txt")
			s, err := newSuite(ctx, "pickneuron", cfg.MoocSettings.DebugDir, results)
			if err != nil {
				return err
			}
			game := &scenario.PickNeuron{URL: cfg.NeuronSettings.URL}

			summary := report.NewSummary(log)
			s.run(ctx, cfg.MoocSettings.DebugDir, nil, []scenario.Check{{Name: "pick_real_neuron", Run: game.Run}}, summary)

			return s.finish(ctx, summary, results)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "game page")

	return cmd
}

func newLocationCmd() *cobra.Command {
	var (
		paramsFile string
		portal     string
		testMode   bool
	)
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Measure page performance from several locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			params, err := perf.LoadParams(paramsFile)
			if err != nil {
				return err
			}
			if portal == "" {
				portal = params.Domain
			}
			client := perf.NewClient(cfg.PerfSettings, log)
			measurements, err := perf.NewRunner(client, cfg.PerfSettings, log).Run(ctx, params, portal, testMode)
			if err != nil {
				return err
			}
			if len(measurements) == 0 {
				return errNoMeasurements
			}
			log.Info(fmt.Sprintf("%d measurements done.", len(measurements)))

			return nil
		},
	}
	cmd.Flags().StringVarP(&paramsFile, "params", "p", "", "json file with the domain and the urls")
	cmd.Flags().StringVar(&portal, "portal", "", "portal name written with the results")
	cmd.Flags().BoolVar(&testMode, "test", false, "measure only the first url from the first location")
	_ = cmd.MarkFlagRequired("params")

	return cmd
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "report NAME STATUS FILE",
		Short:   "Post the outcome of a CI job to the chat channel",
		Example: `  portal-checker report page-checker $? errors.list`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid status %q: %w", args[1], err)
			}
			return report.NewSlack(cfg.SlackSettings, log).Report(cmd.Context(), args[0], status, args[2])
		},
	}
}

func newValidateCmd() *cobra.Command {
	var reportsDir, build string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Print the errors of a validation report and archive it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := report.Convert(args[0], cmd.OutOrStdout(), reportsDir, build)
			if err != nil {
				return err
			}
			log.Info("report archived.", slog.String("path", dest))
			return nil
		},
	}
	cmd.Flags().StringVar(&reportsDir, "reports-dir", "reports", "archive folder")
	cmd.Flags().StringVar(&build, "build", os.Getenv("CI_PIPELINE_ID"), "build number used in the archive name")

	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve link-check tasks from kafka",
		Long: `Reads link-check tasks from the consumer topic, checks them with a pool of
workers and writes the page reports to the producer topic until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	opts, err := linkcheck.NewOptions(cfg.LinkSettings, cfg.WorkerSettings, cfg.Version)
	if err != nil {
		return err
	}
	opts.Workers = cfg.WorkerSettings.MaxWorkers
	// in-flight checks finish after the shutdown signal
	workCtx := context.WithoutCancel(ctx)
	loader, closeLoader, err := newLoader(workCtx, opts)
	if err != nil {
		return err
	}
	defer closeLoader()
	log.Info("starting link-check worker.", slog.String("env", cfg.Env),
		slog.String("mechanism", opts.Mechanism.String()), slog.Int("workers", opts.Workers))

	taskChan := make(chan *model.LinkTask, 100)
	reportChan := make(chan *model.PageReport, 100)
	panicChan := make(chan struct{}, max(opts.Workers, 1))

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	go broker.NewKafkaConsumer(taskChan, cfg.KafkaSettings.Consumer, log, kafkaWg).Run(ctx)

	workerWg := &sync.WaitGroup{}
	linkWorker := &linkcheck.LinkWorker{
		InputChan:  taskChan,
		OutputChan: reportChan,
		PanicChan:  panicChan,
		Loader:     loader,
		Opts:       opts,
		Log:        log,
		Wg:         workerWg,
	}
	for i := 0; i < max(opts.Workers, 1); i++ {
		workerWg.Add(1)
		go linkWorker.Run(workCtx)
	}
	// Restart workers if they panic.
	go func() {
		for range panicChan {
			go linkWorker.Run(workCtx)
			time.Sleep(time.Minute) // avoid polluting logs if something unrecoverable happened
		}
	}()

	kafkaWg.Add(1)
	go broker.NewKafkaProducer(reportChan, cfg.KafkaSettings.Producer, log, kafkaWg).Run()

	// Graceful shutdown.
	// 1. Stop Kafka Consumer by system call. Close taskChan
	// 2. Wait till all Workers processed all tasks from taskChan. Close reportChan
	// 3. Wait till Producer process all messages from reportChan and write to kafka
	<-ctx.Done()
	log.Info("stopping worker...")
	workerWg.Wait()
	close(reportChan)
	log.Info("close reportChan.")
	close(panicChan)
	log.Info("close panicChan.")
	kafkaWg.Wait()

	return nil
}
