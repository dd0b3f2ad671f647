// Command permitflow is a batch reporting front end for the permit
// workflow intelligence engine: it fits the model over the configured
// history store and prints the prediction, diagnosis, and cost estimate
// for a permit as JSON. Rendering beyond raw JSON belongs to the
// surrounding application, not here.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/permitops/permitflow"
	"github.com/permitops/permitflow/internal/config"
	"github.com/permitops/permitflow/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("PERMITFLOW_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	permitArg := flag.String("permit", "", "Permit UUID to report on (default: every open permit)")
	horizon := flag.Int("horizon", 0, "Prediction horizon in steps (0 = configured default)")
	advance := flag.String("assume-advance", "", "Also simulate advancing the permit to this station")
	writeSample := flag.String("write-sample-pipeline", "", "Write a sample pipeline definition to path and exit")
	flag.Parse()

	if *writeSample != "" {
		if err := os.WriteFile(*writeSample, []byte(samplePipeline), 0o644); err != nil {
			return err
		}
		logger.Info("wrote sample pipeline", "path", *writeSample)
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	eng, err := permitflow.New(permitflow.WithLogger(logger))
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Refit(ctx); err != nil {
		return err
	}

	var permits []uuid.UUID
	if *permitArg != "" {
		permitID, err := uuid.Parse(*permitArg)
		if err != nil {
			return fmt.Errorf("parse permit id: %w", err)
		}
		permits = []uuid.UUID{permitID}
	} else {
		if permits, err = eng.OpenPermits(ctx); err != nil {
			return err
		}
		logger.Info("reporting on open permits", "count", len(permits))
	}

	reports := make([]permitReport, 0, len(permits))
	for _, permitID := range permits {
		r, err := buildReport(ctx, eng, permitID, *horizon, *advance)
		if err != nil {
			return fmt.Errorf("permit %s: %w", permitID, err)
		}
		reports = append(reports, r)
	}

	var payload []byte
	if *permitArg != "" {
		payload, err = json.MarshalIndent(reports[0], "", "  ")
	} else {
		payload, err = json.MarshalIndent(reports, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

type permitReport struct {
	PermitID   uuid.UUID                 `json:"permit_id"`
	Prediction permitflow.Prediction     `json:"prediction"`
	Diagnosis  permitflow.Diagnosis      `json:"diagnosis"`
	Cost       permitflow.CostEstimate   `json:"cost"`
	Scenario   *permitflow.ScenarioDelta `json:"scenario,omitempty"`
}

func buildReport(ctx context.Context, eng *permitflow.Engine, permitID uuid.UUID, horizon int, advance string) (permitReport, error) {
	r := permitReport{PermitID: permitID}
	var err error
	if r.Prediction, err = eng.PredictNext(ctx, permitID, horizon); err != nil {
		return r, err
	}
	if r.Diagnosis, err = eng.Diagnose(ctx, permitID); err != nil {
		return r, err
	}
	if r.Cost, err = eng.Estimate(ctx, permitID); err != nil {
		return r, err
	}
	if advance != "" {
		delta, err := eng.Simulate(ctx, permitID, permitflow.Scenario{
			Name: "assume-advance",
			Overrides: []permitflow.Override{{
				Kind:    permitflow.OverrideAdvanceStation,
				Station: permitflow.StationID(advance),
			}},
		}, nil)
		if err != nil {
			return r, err
		}
		r.Scenario = &delta
	}
	return r, nil
}

const samplePipeline = `{
  "start_station": "intake",
  "stations": [
    {"id": "intake", "name": "Intake & Completeness", "agency": "permits"},
    {"id": "zoning", "name": "Zoning Review", "agency": "planning"},
    {"id": "fire", "name": "Fire Marshal Review", "agency": "fire", "interagency_handoff": true},
    {"id": "health", "name": "Health Department Review", "agency": "health", "interagency_handoff": true},
    {"id": "final", "name": "Final Decision", "agency": "permits"},
    {"id": "issued", "name": "Permit Issued", "agency": "permits"}
  ],
  "edges": [
    {"from": "intake", "to": "zoning"},
    {"from": "zoning", "to": "fire"},
    {"from": "zoning", "to": "health"},
    {"from": "fire", "to": "final"},
    {"from": "health", "to": "final"},
    {"from": "fire", "to": "zoning"},
    {"from": "health", "to": "zoning"},
    {"from": "final", "to": "issued"}
  ],
  "cost_table": {
    "new_construction": {"accrual_per_hour": 120.0, "rework_cost": 45000.0, "multiplier": 1.5},
    "renovation": {"accrual_per_hour": 40.0, "rework_cost": 9000.0, "multiplier": 1.0},
    "change_of_use": {"accrual_per_hour": 25.0, "rework_cost": 4000.0, "multiplier": 1.0}
  },
  "actions": [
    {"code": "handoff_escalation", "description": "Escalate to the receiving agency's intake liaison", "stations": ["fire", "health"], "handoff": true, "severity_weight": 3.0},
    {"code": "handoff_packet_check", "description": "Verify the transfer packet is complete before escalating", "stations": ["fire", "health"], "handoff": true, "severity_weight": 2.0},
    {"code": "expedite_review", "description": "Request expedited review from the station's supervising planner", "severity_weight": 2.5},
    {"code": "resubmit_corrections", "description": "Confirm outstanding correction items were resubmitted", "severity_weight": 2.0},
    {"code": "schedule_hearing", "description": "Ask for the next available hearing slot", "stations": ["final"], "severity_weight": 1.5},
    {"code": "monitor", "description": "No intervention; dwell is within range", "severity_weight": 0.5}
  ]
}
`
