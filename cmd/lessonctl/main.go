// Command lessonctl inspects the subscriber store and runs delivery passes
// by hand. It reads the same environment as the bot.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/alem-hub/daily-lessons/config"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

var version = "dev"

// Global carries shared state into every command.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer

	// LoadConfig reads the environment; commands that talk to Telegram validate it.
	LoadConfig func() (*config.Config, error)
}

// CLI definition & global flags.
type CLI struct {
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Tick         TickCmd         `cmd:"" help:"Run one delivery pass now"`
	Status       StatusCmd       `cmd:"" help:"Show one subscriber and what today's pass would do"`
	List         ListCmd         `cmd:"" help:"List all subscribers"`
	Migrate      MigrateCmd      `cmd:"" help:"Apply pending postgres migrations"`
	AdvanceCheck AdvanceCheckCmd `cmd:"" name:"advance-check" help:"Print the decision for every subscriber on a date, without sending"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("lessonctl"),
		kong.Description("Admin tool for the daily lessons bot"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	if cli.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := logger.New(opts)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(&Global{
		Logger:     log,
		Out:        os.Stdout,
		LoadConfig: config.LoadUnvalidated,
	})
	kctx.FatalIfErrorf(err)
}
