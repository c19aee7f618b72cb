package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AtRiskMedia/intervene/internal/application/classifier"
	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/pushclient"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
)

type simulateOptions struct {
	scenario  string
	sessions  int
	seed      uint64
	server    string
	tenant    string
	listen    time.Duration
	clickRate float64
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive synthetic visitor sessions through the classifier",
		Long: `Generates scripted visitor sessions (frustrated, browsing, price-hesitant,
confused, abandoning) and prints the emotion events they produce.

Without --server the samples run through an in-process classifier on a
simulated clock. With --server the batches are posted to a running
instance and a push client prints every intervention it receives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := selectScenarios(opts.scenario)
			if err != nil {
				return err
			}
			if opts.sessions <= 0 {
				opts.sessions = 1
			}
			if opts.server != "" {
				if opts.tenant == "" {
					return fmt.Errorf("--tenant is required with --server")
				}
				return simulateRemote(cmd.Context(), cmd.OutOrStdout(), selected, opts)
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			return simulateLocal(cmd.OutOrStdout(), selected, opts, jsonOut)
		},
	}
	cmd.Flags().StringVar(&opts.scenario, "scenario", "all", "Scenario to run: all, "+strings.Join(scenarioNames(), ", "))
	cmd.Flags().IntVar(&opts.sessions, "sessions", 1, "Sessions per scenario")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Random seed for pointer jitter")
	cmd.Flags().StringVar(&opts.server, "server", "", "Base URL of a running server, e.g. http://localhost:8080")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "Tenant id sent with remote batches")
	cmd.Flags().DurationVar(&opts.listen, "listen", 3*time.Second, "How long to wait for pushed interventions after each batch")
	cmd.Flags().Float64Var(&opts.clickRate, "click-rate", 0.5, "Share of received interventions reported as clicked")
	return cmd
}

// localRun is the outcome of one in-process session.
type localRun struct {
	Scenario string                  `json:"scenario"`
	Session  string                  `json:"sessionId"`
	Samples  int                     `json:"samples"`
	Events   []behavior.EmotionEvent `json:"events"`
}

// runLocal feeds one scripted session through c and, for scenarios that end
// idle, advances clk and ticks.
func runLocal(c *classifier.Classifier, clk *clock.Fake, sc scenario, sessionID, tenantID string, r *rand.Rand) localRun {
	samples := sc.build(r)
	run := localRun{Scenario: sc.name, Session: sessionID, Samples: len(samples)}
	for _, s := range samples {
		if ev, ok := c.Classify(tenantID, sessionID, s); ok {
			run.Events = append(run.Events, ev)
		}
	}
	if sc.idle > 0 {
		clk.Advance(sc.idle)
		for _, ev := range c.Tick() {
			if ev.SessionID == sessionID {
				run.Events = append(run.Events, ev)
			}
		}
	}
	return run
}

func simulateLocal(out io.Writer, selected []scenario, opts simulateOptions, jsonOut bool) error {
	clk := clock.NewFake(time.Now().UTC())
	c := classifier.New(classifier.DefaultConfig(), clk, logging.NewDiscardLogger(), metrics.NewUnregistered())
	r := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	var runs []localRun
	for _, sc := range selected {
		for i := 0; i < opts.sessions; i++ {
			sessionID := fmt.Sprintf("sim-%s-%03d", sc.name, i+1)
			runs = append(runs, runLocal(c, clk, sc, sessionID, "simulator", r))
		}
	}

	if jsonOut {
		return printJSON(runs)
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%-16s %-24s samples=%-3d %s\n", run.Scenario, run.Session, run.Samples, describe(run.Events))
		for _, ev := range run.Events {
			fmt.Fprintf(out, "    -> %-17s confidence=%-3d context=%-10s tail=%v\n",
				ev.Emotion, ev.Confidence, ev.ContextTag, ev.SequenceTail)
		}
	}
	return nil
}

func describe(events []behavior.EmotionEvent) string {
	switch len(events) {
	case 0:
		return "no events"
	case 1:
		return "1 event"
	default:
		return fmt.Sprintf("%d events", len(events))
	}
}

func simulateRemote(ctx context.Context, out io.Writer, selected []scenario, opts simulateOptions) error {
	base, err := url.Parse(strings.TrimRight(opts.server, "/"))
	if err != nil {
		return fmt.Errorf("parse --server: %w", err)
	}
	pushURL := *base
	switch base.Scheme {
	case "https":
		pushURL.Scheme = "wss"
	default:
		pushURL.Scheme = "ws"
	}
	pushURL.Path = base.Path + "/api/v1/push"
	batchURL := base.String() + "/api/v1/behavior/batch"

	var printMu sync.Mutex
	printf := func(format string, args ...any) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range selected {
		for i := 0; i < opts.sessions; i++ {
			sc := sc
			seed := opts.seed + uint64(i)
			g.Go(func() error {
				r := rand.New(rand.NewPCG(seed, uint64(len(sc.name))))
				sessionID := "sim-" + strings.ToLower(security.GenerateULID())
				return runRemote(ctx, httpClient, batchURL, pushURL.String(), sc, sessionID, r, opts, printf)
			})
		}
	}
	return g.Wait()
}

func runRemote(ctx context.Context, hc *http.Client, batchURL, pushURL string, sc scenario, sessionID string,
	r *rand.Rand, opts simulateOptions, printf func(string, ...any),
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	connected := make(chan struct{})
	var once sync.Once
	var client *pushclient.Client
	render := func(d intervention.Directive) {
		printf("%-16s %s <- %s %q (rule %s, %s %d%%)\n",
			sc.name, sessionID, d.Action, d.Payload.Intervention, d.RuleID, d.Emotion, d.Confidence)
		_ = client.Shown(d.ID)
		if rand.Float64() < opts.clickRate {
			_ = client.Clicked(d.ID, true)
		}
	}
	client = pushclient.New(pushclient.DefaultConfig(pushURL, opts.tenant, sessionID), render, logging.NewDiscardLogger(),
		pushclient.OnStateChange(func(s pushclient.State) {
			if s == pushclient.StateConnected {
				once.Do(func() { close(connected) })
			}
		}))

	pushDone := make(chan error, 1)
	go func() { pushDone <- client.Run(ctx) }()
	select {
	case <-connected:
	case err := <-pushDone:
		return fmt.Errorf("%s: push channel: %w", sessionID, err)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("%s: push channel did not connect", sessionID)
	}

	samples := sc.build(r)
	batch := services.Batch{
		SessionID:       sessionID,
		Samples:         samples,
		ClientTimestamp: samples[len(samples)-1].Timestamp,
		PageURL:         sc.pageURL,
		CustomerValue:   sc.value,
	}
	res, err := postBatch(ctx, hc, batchURL, opts.tenant, batch)
	if err != nil {
		return fmt.Errorf("%s: %w", sessionID, err)
	}
	printf("%-16s %s -> processed=%d dropped=%d emitted=%d\n", sc.name, sessionID, res.Processed, res.Dropped, res.Emitted)

	wait := opts.listen
	if sc.idle > 0 && wait < sc.idle {
		printf("%-16s %s    idle detection needs %s on the server clock; listening %s\n", sc.name, sessionID, sc.idle, wait)
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
	cancel()
	<-pushDone
	return nil
}

func postBatch(ctx context.Context, hc *http.Client, batchURL, tenantID string, batch services.Batch) (services.IngestResult, error) {
	var res services.IngestResult
	body, err := json.Marshal(batch)
	if err != nil {
		return res, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := hc.Do(req)
	if err != nil {
		return res, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return res, fmt.Errorf("post batch: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode ingest result: %w", err)
	}
	return res, nil
}
