package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mcr-lab/mcr/internal/embed"
	"github.com/mcr-lab/mcr/internal/llm"
	"github.com/mcr-lab/mcr/pkg/mcr"
	"github.com/mcr-lab/mcr/pkg/mcr/config"
	"github.com/mcr-lab/mcr/pkg/mcr/deduce"
	"github.com/mcr-lab/mcr/pkg/mcr/perf"
	"github.com/mcr-lab/mcr/pkg/mcr/perf/sqlite"
	"github.com/mcr-lab/mcr/pkg/mcr/reason/prologengine"
	"github.com/mcr-lab/mcr/pkg/mcr/router"
	"github.com/mcr-lab/mcr/pkg/mcr/session"
)

func main() {
	var (
		configPath = flag.String("config", "", "Config file (optional, defaults apply)")
		sessionID  = flag.String("session", "", "Session id (created when empty)")
		assertText = flag.String("assert", "", "One-shot assertion (non-interactive mode)")
		askText    = flag.String("ask", "", "One-shot question (non-interactive mode)")
		demoName   = flag.String("demo", "", "Run a demo scenario: family, spatial, mystery")
		verbose    = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	ctx := context.Background()

	svc, cleanup, err := buildService(ctx, *configPath, *verbose)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	sess, err := resolveSession(ctx, svc, *sessionID)
	if err != nil {
		log.Fatal(err)
	}

	if *demoName != "" {
		if err := runDemo(ctx, svc, sess.ID, *demoName); err != nil {
			log.Fatal(err)
		}
		return
	}

	// One-shot modes
	if *assertText != "" {
		if err := doAssert(ctx, svc, sess.ID, *assertText); err != nil {
			log.Fatal(err)
		}
		return
	}
	if *askText != "" {
		if err := doAsk(ctx, svc, sess.ID, *askText); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Interactive mode
	fmt.Println("===========================================")
	fmt.Println("  MCR Chat CLI")
	fmt.Println("  Natural language in, formal logic out")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Println("Statements are asserted; questions are answered. /kb shows the")
	fmt.Println("knowledge base. Ctrl+D to exit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/kb" {
			cur, err := svc.GetSession(ctx, sess.ID)
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println(cur.KnowledgeBase())
			continue
		}

		var runErr error
		if router.Classify(line) == perf.ClassQuery {
			runErr = doAsk(ctx, svc, sess.ID, line)
		} else {
			runErr = doAssert(ctx, svc, sess.ID, line)
		}
		if runErr != nil {
			fmt.Println("Error:", runErr)
		}
	}

	fmt.Println("\nGoodbye!")
}

func doAssert(ctx context.Context, svc *mcr.Service, sessionID, text string) error {
	res, err := svc.Assert(ctx, sessionID, text)
	if err != nil {
		return err
	}
	for _, c := range res.Added {
		fmt.Println("  +", c)
	}
	if len(res.Added) == 0 {
		fmt.Println("  (already known)")
	}
	if !res.Converged {
		fmt.Printf("  (unvalidated after %d attempts)\n", res.Iterations)
	}
	return nil
}

func doAsk(ctx context.Context, svc *mcr.Service, sessionID, text string) error {
	res, err := svc.Ask(ctx, sessionID, text)
	if err != nil {
		return err
	}
	fmt.Println("  query:", res.Query)
	for _, p := range res.Proofs {
		var parts []string
		for k, v := range p.Result {
			parts = append(parts, fmt.Sprintf("%s = %s", k, v))
		}
		fmt.Printf("  proof: %s (p=%.2f)\n", strings.Join(parts, ", "), p.Probability)
	}
	if res.Answer != "" {
		fmt.Println(" ", res.Answer)
	}
	return nil
}

func resolveSession(ctx context.Context, svc *mcr.Service, id string) (*session.Session, error) {
	if id != "" {
		return svc.GetSession(ctx, id)
	}
	return svc.CreateSession(ctx)
}

func buildService(ctx context.Context, configPath string, verbose bool) (*mcr.Service, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
		logger = l
	}

	sessions, err := session.NewFileStore(cfg.Storage.SessionDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}

	perfStore, err := sqlite.Open(ctx, cfg.Storage.PerfDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open perf store: %w", err)
	}

	engine := prologengine.New()
	engine.Timeout = cfg.Reasoner.QueryTimeout.Std()
	engine.MaxSolutions = cfg.Reasoner.MaxSolutions

	opts := mcr.Options{
		Gen:      llm.NewClient(cfg.Model),
		Reasoner: engine,
		Sessions: sessions,
		Perf:     perfStore,
		RouterConfig: router.Config{
			SuccessWeight:      cfg.Router.SuccessWeight,
			LatencyWeight:      cfg.Router.LatencyWeight,
			CostWeight:         cfg.Router.CostWeight,
			ExactMatchWeight:   cfg.Router.ExactMatchWeight,
			PartialMatchWeight: cfg.Router.PartialMatchWeight,
		},
		Deduction: deduce.Config{
			DefaultConfidence: cfg.Deduction.DefaultConfidence,
			Hypotheses:        cfg.Deduction.Hypotheses,
		},
		Threshold:     cfg.Deduction.Threshold,
		MaxIterations: cfg.Refine.MaxIterations,
		ModelID:       cfg.Model.Name,
		Log:           logger,
	}
	if cfg.Embedding.BaseURL != "" {
		emb, err := embed.NewClient(cfg.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("build embedder: %w", err)
		}
		opts.Embedder = emb
	}

	svc, err := mcr.New(opts)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		perfStore.Close()
		_ = logger.Sync()
	}
	return svc, cleanup, nil
}

type demoStep struct {
	assert string
	ask    string
}

var demos = map[string][]demoStep{
	"family": {
		{assert: "John is the father of Pete."},
		{assert: "John is the father of Anne."},
		{assert: "A parent is someone who is a father or a mother."},
		{ask: "Who are John's children?"},
	},
	"spatial": {
		{assert: "The book is on the table."},
		{assert: "The table is in the kitchen."},
		{assert: "If X is on Y and Y is in Z, then X is in Z."},
		{ask: "Where is the book?"},
	},
	"mystery": {
		{assert: "The butler was in the library at midnight."},
		{assert: "The murder happened in the library at midnight."},
		{assert: "Whoever was at the crime scene at the time of the murder is a suspect."},
		{ask: "Who is a suspect?"},
	},
}

func runDemo(ctx context.Context, svc *mcr.Service, sessionID, name string) error {
	steps, ok := demos[name]
	if !ok {
		return fmt.Errorf("unknown demo %q (want family, spatial or mystery)", name)
	}
	fmt.Printf("--- Demo: %s ---\n", name)
	for _, step := range steps {
		if step.assert != "" {
			fmt.Println(">", step.assert)
			if err := doAssert(ctx, svc, sessionID, step.assert); err != nil {
				return err
			}
			continue
		}
		fmt.Println(">", step.ask)
		if err := doAsk(ctx, svc, sessionID, step.ask); err != nil {
			return err
		}
	}
	return nil
}
