package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/attachments"
	"github.com/roach88/snowcrash/internal/config"
	"github.com/roach88/snowcrash/internal/containers"
	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/store"
)

// project is an opened workspace: configuration, database, attachment area
// and the container factory wired together.
type project struct {
	cfg         config.Config
	logger      *slog.Logger
	store       *store.Store
	attachments *attachments.Store
	containers  *containers.Factory
	actor       string
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openProject loads the config, applies flag overrides and opens the
// database. Failures are reported through f and returned as command errors.
func openProject(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*project, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, commandError(f, ErrCodeConfig, err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Attachments != "" {
		cfg.AttachmentsDir = opts.Attachments
	}

	level, err := cfg.Level()
	if err != nil {
		return nil, commandError(f, ErrCodeConfig, err)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	files := attachments.New(cfg.AttachmentsDir, attachments.WithLogger(logger))
	st, err := store.Open(cfg.Database, store.WithLogger(logger), store.WithAttachments(files))
	if err != nil {
		return nil, commandError(f, ErrCodeDatabase, err)
	}

	factory, err := containers.New(st, containers.Labels{
		PluginParent:  cfg.PluginParentNode,
		PluginUploads: cfg.PluginUploadsNode,
	})
	if err != nil {
		st.Close()
		return nil, commandError(f, ErrCodeConfig, err)
	}

	actor := opts.Actor
	if actor == "" {
		actor = os.Getenv("USER")
	}

	f.VerboseLog("Opened %s", cfg.Database)
	return &project{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		attachments: files,
		containers:  factory,
		actor:       actor,
	}, nil
}

func (p *project) Close() {
	if err := p.store.Close(); err != nil {
		p.logger.Error("error closing database", "error", err)
	}
}

// record logs an activity for a mutation that already succeeded. A failure
// here does not undo the mutation, so it is logged rather than returned.
func (p *project) record(ctx context.Context, ref model.TrackableRef, action string) {
	_, err := p.store.RecordActivity(ctx, model.Activity{Trackable: ref, Action: action, ActorRef: p.actor})
	if err != nil {
		p.logger.Warn("failed to record activity", "trackable", ref.String(), "action", action, "error", err)
	}
}

// withProject opens the project, runs fn and closes it. Errors from fn are
// classified by Fail.
func withProject(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, p *project) (any, error)) error {
	f := newFormatter(opts, cmd)
	p, err := openProject(opts, cmd, f)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := fn(ctx, p)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(result)
}

// commandError reports a setup failure and returns it as an ExitError.
func commandError(f *OutputFormatter, code string, err error) error {
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}

// argError marks a malformed positional argument or flag value.
type argError struct {
	name  string
	value string
}

func (e *argError) Error() string {
	return fmt.Sprintf("%s %q is not a valid id", e.name, e.value)
}

func parseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, &argError{name: name, value: value}
	}
	return id, nil
}
