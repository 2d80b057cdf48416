package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"genflow/internal/bootstrap"
	"genflow/internal/infra"
)

var errNeedsPostgres = errors.New("this command requires STORE_DRIVER=postgres")

// session is the per-invocation wiring shared by every subcommand.
type session struct {
	cfg     *infra.Config
	backend *bootstrap.Backend
	core    *bootstrap.Core
}

func (s *session) Close() {
	if s != nil {
		s.backend.Close()
	}
}

type opener func(ctx context.Context) (*session, error)

func openSession(ctx context.Context) (*session, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	// stdout carries command output; logs go to stderr.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	core, err := bootstrap.NewCore(ctx, cfg, backend.Store, backend.CredentialRepository(), logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &session{cfg: cfg, backend: backend, core: core}, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "genctl",
		Short:        "Operate the generation task core",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCmd(open),
		newProviderKeyCmd(open),
		newCreditsCmd(open),
		newTaskCmd(open),
		newSweepCmd(open),
	)
	return root
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, open opener, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readSecret(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 4096))
	if err != nil {
		return "", fmt.Errorf("read key from stdin: %w", err)
	}
	return string(raw), nil
}
