package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"deribit-probe/config"
	"deribit-probe/internal/model"
	"deribit-probe/internal/probe"
	"deribit-probe/internal/repo"
	"deribit-probe/internal/trace"
)

const (
	exitMatch = iota
	exitMismatch
	exitCancelled
	exitConnection
	exitProtocol
	exitError
)

func run(ctx context.Context, args []string, dialer probe.Dialer, out io.Writer) int {
	// 1. Config
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitMatch
	}
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitError
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	// 2. History
	var history repo.Repository
	if cfg.HistoryDB != "" {
		log.Debug().Str("path", cfg.HistoryDB).Msg("Opening probe history")
		r, err := repo.NewSQLiteRepo(cfg.HistoryDB)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open probe history")
			return exitError
		}
		defer r.Close()
		history = r
	}

	if cfg.HistoryLimit > 0 {
		return printHistory(ctx, history, cfg.HistoryLimit, out)
	}

	// 3. Probe
	var sink trace.Sink = trace.Nop{}
	if cfg.Trace {
		sink = trace.NewLogSink(log.Logger)
	}
	p := probe.New(
		probe.WithTraceSink(sink),
		probe.WithLogger(log.Logger.With().Str("component", "probe").Logger()),
		probe.WithMaxMessageSize(cfg.MaxMessageSize),
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	res, err := probeOnce(ctx, p, dialer, cfg.ExpectedVersion)

	record := &model.ProbeRun{
		StartedAt:       started.UTC(),
		Duration:        time.Since(started),
		Endpoint:        p.Endpoint(),
		ExpectedVersion: cfg.ExpectedVersion,
		ReportedVersion: res.Version,
		Outcome:         outcomeOf(res, err),
	}
	if err != nil {
		record.Error = err.Error()
	}

	if history != nil {
		// the probe context may already be spent
		if _, serr := history.SaveRun(context.Background(), record); serr != nil {
			log.Error().Err(serr).Msg("Failed to record probe run")
		}
	}

	switch record.Outcome {
	case model.OutcomeMatch:
		log.Info().Str("version", res.Version).Msg("API version matches")
	case model.OutcomeMismatch:
		log.Warn().Str("version", res.Version).Str("expected", cfg.ExpectedVersion).Msg("API version mismatch")
	default:
		log.Error().Err(err).Str("outcome", string(record.Outcome)).Msg("Probe failed")
	}
	fmt.Fprintln(out, record.Outcome)

	return exitCode(record.Outcome)
}

// probeOnce connects, runs the probe and always attempts a disconnect.
func probeOnce(ctx context.Context, p *probe.Probe, dialer probe.Dialer, expected string) (probe.Result, error) {
	sock, err := p.Connect(ctx, dialer)
	if err != nil {
		return probe.Result{}, err
	}

	res, err := p.Check(ctx, sock, expected)

	closeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
	}
	// a failed disconnect does not change the outcome of the exchange
	if derr := p.Disconnect(closeCtx, sock); derr != nil {
		log.Warn().Err(derr).Msg("Disconnect failed")
	}
	return res, err
}

func outcomeOf(res probe.Result, err error) model.Outcome {
	var (
		protoErr *probe.ProtocolError
		connErr  *probe.ConnectionError
	)
	switch {
	case err == nil && res.Match:
		return model.OutcomeMatch
	case err == nil:
		return model.OutcomeMismatch
	case errors.Is(err, probe.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return model.OutcomeCancelled
	case errors.As(err, &protoErr):
		return model.OutcomeProtocolError
	case errors.As(err, &connErr):
		return model.OutcomeConnectionError
	default:
		return model.OutcomeError
	}
}

func exitCode(o model.Outcome) int {
	switch o {
	case model.OutcomeMatch:
		return exitMatch
	case model.OutcomeMismatch:
		return exitMismatch
	case model.OutcomeCancelled:
		return exitCancelled
	case model.OutcomeConnectionError:
		return exitConnection
	case model.OutcomeProtocolError:
		return exitProtocol
	default:
		return exitError
	}
}

func printHistory(ctx context.Context, history repo.Repository, limit int, out io.Writer) int {
	runs, err := history.ListRuns(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list probe history")
		return exitError
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Format(time.RFC3339),
			r.Duration.Round(time.Millisecond),
			r.Outcome,
			r.ExpectedVersion,
			r.ReportedVersion,
		)
	}
	return exitMatch
}
