package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/consts"
)

var initHwd = &InitRunner{}

type InitRunner struct {
	scanner *bufio.Scanner
}

func (r *InitRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Interactive setup wizard that writes the config file",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "defaults",
				Usage: "Write a default sqlite config without prompting",
			},
		},
		Action: r.run,
	}
}

// ── style helpers ──────────────────────────────────────────────────

var (
	cBanner  = color.New(color.FgCyan, color.Bold)
	cStep    = color.New(color.FgCyan, color.Bold)
	cWarn    = color.New(color.FgYellow)
	cSuccess = color.New(color.FgGreen)
	cError   = color.New(color.FgRed)
	cPrompt  = color.New(color.FgWhite, color.Bold)
	cDim     = color.New(color.FgHiBlack)
)

// ── channel metadata ───────────────────────────────────────────────

type channelPrompt struct {
	Key      string
	Label    string
	Default  string
	Required bool
}

type channelMeta struct {
	Type    string
	Prompts []channelPrompt
}

var channelOptions = []channelMeta{
	{
		Type: "telegram",
		Prompts: []channelPrompt{
			{Key: "token", Label: "Telegram Bot Token", Required: true},
		},
	},
	{
		Type: "email",
		Prompts: []channelPrompt{
			{Key: "host", Label: "SMTP host", Required: true},
			{Key: "port", Label: "SMTP port", Default: "587"},
			{Key: "tls", Label: "TLS mode (starttls, ssl, none)", Default: "starttls"},
			{Key: "username", Label: "SMTP username"},
			{Key: "password", Label: "SMTP password"},
			{Key: "from", Label: "From address", Required: true},
		},
	},
	{
		Type: "whatsapp",
		Prompts: []channelPrompt{
			{Key: "api_url", Label: "WAHA API URL", Default: "http://localhost:3000"},
			{Key: "api_key", Label: "WAHA API key"},
			{Key: "session", Label: "WAHA session", Default: "default"},
		},
	},
}

// ── main flow ──────────────────────────────────────────────────────

func (r *InitRunner) run(ctx context.Context, cmd *cli.Command) error {
	r.scanner = bufio.NewScanner(os.Stdin)
	cfgPath := configPath(cmd)

	if cmd.Bool("defaults") {
		return r.write(cfgPath, defaultConfig())
	}

	if _, err := os.Stat(cfgPath); err == nil {
		cWarn.Printf("  Config already exists at %s\n", cfgPath)
		if !r.confirm("  Overwrite existing config?", false) {
			fmt.Println("  Aborted.")
			return nil
		}
		fmt.Println()
	}

	r.stepWelcome()

	cfg := defaultConfig()
	r.stepStore(cfg)
	r.stepScheduler(cfg)
	r.stepChannels(cfg)

	return r.stepConfirm(cfgPath, cfg)
}

func defaultConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			File:       consts.DefaultLogFile(),
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     7,
		},
		Scheduler: config.SchedulerConfig{
			MaxConcurrentRuns: 1,
			DailySummary:      true,
			DefaultChannels:   []string{"telegram"},
		},
		Store: config.StoreConfig{
			Driver: "sqlite",
			Path:   consts.DefaultDatabasePath(),
		},
		Channels: map[string]config.ChannelConfig{},
	}
}

// ── step 1: welcome ────────────────────────────────────────────────

func (r *InitRunner) stepWelcome() {
	fmt.Println()
	cBanner.Println("  ╔╦╗╔═╗╔═╗╦╔═╔═╗╦╦  ╔═╗╔╦╗")
	cBanner.Println("   ║ ╠═╣╚═╗╠╩╗╠═╝║║  ║ ║ ║ ")
	cBanner.Println("   ╩ ╩ ╩╚═╝╩ ╩╩  ╩╩═╝╚═╝ ╩ ")
	cDim.Println("  Reminders and scripts, delivered on time.")
	fmt.Println()
	cWarn.Println("  ⚠  Scripts run with the permissions of the taskpilot process,")
	cWarn.Println("     locally or on the SSH servers you register.")
	fmt.Println()
}

// ── step 2: store ──────────────────────────────────────────────────

func (r *InitRunner) stepStore(cfg *config.Config) {
	r.printStepHeader("Step 1", "Store")

	cDim.Println("  Select a database:")
	fmt.Println("    [1] sqlite (single file, recommended)")
	fmt.Println("    [2] postgres")
	fmt.Println()

	if r.promptChoice("  Database", 1, 2) == 2 {
		cfg.Store.Driver = "postgres"
		cfg.Store.Path = ""
		cfg.Store.DSN = r.promptRequired("  Postgres DSN")
	} else {
		cfg.Store.Path = r.promptDefault("  Database file", cfg.Store.Path)
	}
	fmt.Println()
	cSuccess.Printf("  ✓ Store: %s\n\n", cfg.Store.Driver)
}

// ── step 3: scheduler ──────────────────────────────────────────────

func (r *InitRunner) stepScheduler(cfg *config.Config) {
	r.printStepHeader("Step 2", "Scheduler")

	for {
		tz := r.promptDefault("  Time zone (IANA name, empty for system local)", "")
		if tz == "" {
			break
		}
		if _, err := time.LoadLocation(tz); err != nil {
			cError.Printf("  Unknown time zone %q.\n", tz)
			continue
		}
		cfg.Scheduler.Timezone = tz
		break
	}
	cfg.Scheduler.DailySummary = r.confirm("  Send a morning summary at 08:00?", true)
	fmt.Println()
	cSuccess.Println("  ✓ Scheduler configured")
	fmt.Println()
}

// ── step 4: channels ───────────────────────────────────────────────

func (r *InitRunner) stepChannels(cfg *config.Config) {
	r.printStepHeader("Step 3", "Notification Channels")

	var defaults []string
	for _, cm := range channelOptions {
		if !r.confirm(fmt.Sprintf("  Configure %s?", cm.Type), cm.Type == "telegram") {
			continue
		}
		values := make(map[string]any, len(cm.Prompts))
		for _, p := range cm.Prompts {
			var val string
			switch {
			case p.Required:
				val = r.promptRequired("    " + p.Label)
			default:
				val = r.promptDefault("    "+p.Label, p.Default)
			}
			if val == "" {
				continue
			}
			if n, err := strconv.Atoi(val); err == nil && p.Key == "port" {
				values[p.Key] = n
				continue
			}
			values[p.Key] = val
		}
		cfg.Channels[cm.Type] = config.ChannelConfig{Type: cm.Type, Enabled: true, Config: values}
		defaults = append(defaults, cm.Type)
		cSuccess.Printf("  ✓ Channel: %s\n", cm.Type)
	}
	if len(defaults) > 0 {
		cfg.Scheduler.DefaultChannels = defaults[:1]
	}
	fmt.Println()
}

// ── step 5: confirm & write ────────────────────────────────────────

func (r *InitRunner) stepConfirm(cfgPath string, cfg *config.Config) error {
	r.printStepHeader("Step 4", "Review")

	cDim.Printf("  Config file:  %s\n", cfgPath)
	cDim.Printf("  Store:        %s\n", cfg.Store.Driver)
	cDim.Printf("  Time zone:    %s\n", orLocal(cfg.Scheduler.Timezone))
	cDim.Printf("  Summary:      %v\n", cfg.Scheduler.DailySummary)
	names := make([]string, 0, len(cfg.Channels))
	for id := range cfg.Channels {
		names = append(names, id)
	}
	cDim.Printf("  Channels:     %s\n", strings.Join(names, ", "))
	fmt.Println()

	if !r.confirm("  Write config?", true) {
		fmt.Println("  Aborted.")
		return nil
	}
	fmt.Println()
	return r.write(cfgPath, cfg)
}

func (r *InitRunner) write(cfgPath string, cfg *config.Config) error {
	if err := config.Bootstrap(cfgPath, cfg); err != nil {
		cError.Printf("  ✗ Failed to write config: %v\n", err)
		return err
	}
	cSuccess.Printf("  ✓ Created %s\n", cfgPath)
	cDim.Println("  Secrets can also live in a .env file next to the config (TASKPILOT_TELEGRAM_TOKEN, ...).")
	fmt.Println()
	cSuccess.Println("  All set! Run \"taskpilot serve\" to start.")
	fmt.Println()
	return nil
}

func orLocal(tz string) string {
	if tz == "" {
		return "local"
	}
	return tz
}

// ── input helpers ──────────────────────────────────────────────────

func (r *InitRunner) prompt(label string) string {
	cPrompt.Printf("%s > ", label)
	if r.scanner.Scan() {
		return strings.TrimSpace(r.scanner.Text())
	}
	return ""
}

func (r *InitRunner) promptDefault(label string, defaultVal string) string {
	if defaultVal != "" {
		cPrompt.Printf("%s ", label)
		cDim.Printf("[%s]", defaultVal)
		cPrompt.Print(" > ")
	} else {
		cPrompt.Printf("%s > ", label)
	}

	if r.scanner.Scan() {
		val := strings.TrimSpace(r.scanner.Text())
		if val != "" {
			return val
		}
	}
	return defaultVal
}

func (r *InitRunner) promptRequired(label string) string {
	for {
		val := r.prompt(label)
		if val != "" {
			return val
		}
		cError.Println("  This field is required.")
	}
}

func (r *InitRunner) promptChoice(label string, min, max int) int {
	for {
		val := r.promptDefault(label, strconv.Itoa(min))
		n, err := strconv.Atoi(val)
		if err == nil && n >= min && n <= max {
			return n
		}
		cError.Printf("  Please enter a number between %d and %d.\n", min, max)
	}
}

func (r *InitRunner) confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	cPrompt.Printf("%s %s > ", label, hint)
	if r.scanner.Scan() {
		val := strings.ToLower(strings.TrimSpace(r.scanner.Text()))
		if val == "" {
			return defaultYes
		}
		return val == "y" || val == "yes"
	}
	return defaultYes
}

func (r *InitRunner) printStepHeader(step string, title string) {
	cStep.Printf("═══ %s: %s ═══\n\n", step, title)
}
