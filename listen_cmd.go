package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parley/audio"
	"parley/db"
	"parley/metrics"
	"parley/quality"
	"parley/recovery"
	"parley/rt"
	"parley/session"
	"parley/transcript"
	"parley/tui"
)

func runListen(cmd *cobra.Command, args []string) {
	mainLogger := logger.With().WithPrefix("main")
	wireLogger := logger.With().WithPrefix("wire")
	dataLogger := logger.With().WithPrefix("data")

	backendURL := viper.GetString("backend_url")
	apiKey := viper.GetString("api_key")
	if backendURL == "" {
		mainLogger.Fatal("missing PARLEY_BACKEND_URL or --backend-url=")
	}
	if apiKey == "" {
		mainLogger.Fatal("missing PARLEY_API_KEY or --api-key=")
	}

	title, _ := cmd.Flags().GetString("title")
	useTUI, _ := cmd.Flags().GetBool("tui")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store session.Store = session.NopStore{}
	var pgStore *db.Store
	if databaseURL := viper.GetString("database_url"); databaseURL != "" {
		var err error
		pgStore, err = db.Open(ctx, databaseURL, dataLogger)
		if err != nil {
			mainLogger.Fatal("open database", "error", err.Error())
		}
		defer pgStore.Close()
		store = pgStore
	}

	instruments := metrics.New()
	if addr := viper.GetString("metrics_addr"); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, mainLogger); err != nil {
				mainLogger.Error("metrics server", "error", err.Error())
			}
		}()
	}

	var uiMsgs chan tui.Msg
	if useTUI {
		uiMsgs = make(chan tui.Msg, 64)
	}
	renderer := transcript.NewRenderer(true)

	transport := rt.NewClient(wireLogger)
	source := audio.NewSimSource(100*time.Millisecond, 3200)
	buffer := transcript.NewBuffer(dataLogger)
	monitor := quality.NewMonitor(wireLogger)
	policy := recovery.NewPolicy(mainLogger)

	var manager *session.Manager
	errs := make(chan error, 16)

	callbacks := session.Callbacks{
		OnTranscription: func(seg transcript.Segment) {
			instruments.RecordSegmentFinalized(string(seg.Reason), seg.Confidence)
			if pgStore != nil {
				if sess := manager.Session(); sess != nil {
					saveCtx, saveCancel := context.WithTimeout(ctx, 5*time.Second)
					if err := pgStore.SaveSegment(saveCtx, sess.ID.String(), seg); err != nil {
						dataLogger.Error("save segment", "error", err.Error())
					}
					saveCancel()
				}
			}
			if uiMsgs != nil {
				select {
				case uiMsgs <- tui.SegmentMsg{Segment: seg}:
				default:
				}
			} else {
				os.Stdout.WriteString(renderer.RenderSegment(seg) + "\n")
			}
		},
		OnFunctionCall: func(fc rt.FunctionCallEvent) {
			mainLogger.Info("assistant signal", "name", fc.Name)
		},
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	}
	managerCallbacks := session.ManagerCallbacks{
		OnDegraded: func(mode recovery.DegradedMode) {
			mainLogger.Warn("running degraded", "mode", mode.Name)
		},
		OnTerminated: func(reason string) {
			mainLogger.Error("session terminated", "reason", reason)
			cancel()
		},
		OnRecovery: func(outcome recovery.Outcome) {
			instruments.RecordRecoveryAttempt(outcome.Kind.String())
		},
	}

	coord := session.NewCoordinator(mainLogger, source, transport, buffer, monitor, callbacks)
	manager = session.NewManager(mainLogger, coord, store, policy, managerCallbacks)

	config := session.Config{
		Title: title,
		Transport: rt.Config{
			URL:        backendURL,
			APIKey:     apiKey,
			Language:   viper.GetString("language"),
			SampleRate: 16000,
			Channels:   2,
		},
	}

	if err := manager.Configure(ctx, config); err != nil {
		mainLogger.Fatal("configure session", "error", err.Error())
	}
	if err := manager.Start(); err != nil {
		mainLogger.Fatal("start session", "error", err.Error())
	}
	instruments.SessionStarted()

	// drive recovery from surfaced errors and keep telemetry current
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var lastStats transcript.Stats
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				if uiMsgs != nil {
					select {
					case uiMsgs <- tui.ErrorMsg{Err: err}:
					default:
					}
				}
				manager.HandleError(ctx, err)
			case <-ticker.C:
				status := manager.Status()
				instruments.SetQualityLevel(int(status.Coord.Quality))
				if d := status.Coord.Stats.PartialEvents - lastStats.PartialEvents; d > 0 {
					instruments.AddPartialEvents(d)
				}
				if d := status.Coord.Stats.Dropped - lastStats.Dropped; d > 0 {
					instruments.AddDroppedEvents(d)
				}
				lastStats = status.Coord.Stats
				if uiMsgs != nil {
					select {
					case uiMsgs <- tui.StatusMsg{Status: status}:
					default:
					}
					select {
					case uiMsgs <- tui.PartialMsg{Partial: buffer.Current()}:
					default:
					}
				}
			}
		}
	}()

	if useTUI {
		if err := tui.Run(uiMsgs); err != nil {
			mainLogger.Error("tui", "error", err.Error())
		}
	} else {
		sc := make(chan os.Signal, 1)
		signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
		select {
		case <-sc:
		case <-ctx.Done():
		}
	}

	if manager.State() == session.StateRunning || manager.State() == session.StatePaused {
		endCtx, endCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := manager.End(endCtx); err != nil {
			mainLogger.Error("end session", "error", err.Error())
		}
		endCancel()
		if sess := manager.Session(); sess != nil {
			instruments.SessionEnded(sess.Duration)
		}
	}
	manager.Reset()
}
