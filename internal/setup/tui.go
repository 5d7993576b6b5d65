package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/config"
	"gopkg.in/yaml.v3"
)

// ConfigFile where the wizard writes the generated configuration.
const ConfigFile = "config.gen.yaml"

const title = "RULETRADER CONFIG WIZARD"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers raw wizard input.
type Answers struct {
	Mode             string
	StrategyFile     string
	PollInterval     string
	WebAddr          string
	SimulatedBalance string
	NtfyTopic        string
}

// DefaultAnswers pre-fills the wizard from base.
func DefaultAnswers(base config.Config) Answers {
	return Answers{
		Mode:             string(base.Mode),
		StrategyFile:     base.StrategyFile,
		PollInterval:     base.PollInterval.String(),
		WebAddr:          base.WebAddr,
		SimulatedBalance: base.SimulatedQuoteBalance.String(),
		NtfyTopic:        base.Ntfy.Topic,
	}
}

// Apply overlays the answers onto base.
func (a Answers) Apply(base config.Config) (config.Config, error) {
	cfg := base

	cfg.Mode = config.Mode(strings.ToLower(strings.TrimSpace(a.Mode)))
	if !cfg.Mode.IsValid() {
		return base, errors.Errorf("unknown mode %q", a.Mode)
	}
	if err := validateStrategyFile(a.StrategyFile); err != nil {
		return base, err
	}
	cfg.StrategyFile = strings.TrimSpace(a.StrategyFile)

	if err := validateDuration(a.PollInterval); err != nil {
		return base, errors.Wrap(err, "poll interval")
	}
	cfg.PollInterval, _ = time.ParseDuration(strings.TrimSpace(a.PollInterval))

	cfg.WebAddr = strings.TrimSpace(a.WebAddr)
	cfg.Ntfy.Topic = strings.TrimSpace(a.NtfyTopic)

	if cfg.Mode == config.ModeSimulate {
		if err := validateBalance(a.SimulatedBalance); err != nil {
			return base, errors.Wrap(err, "simulated balance")
		}
		cfg.SimulatedQuoteBalance = decimal.RequireFromString(strings.TrimSpace(a.SimulatedBalance))
	}

	return cfg, nil
}

// WriteConfig saves cfg as YAML. Secrets are left in the environment.
func WriteConfig(path string, cfg config.Config) error {
	data, err := yaml.Marshal(cfg.ToTmp())
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

// RunTUI launches the terminal configuration wizard and returns the path of the saved config.
func RunTUI(base config.Config) (string, error) {
	answers := DefaultAnswers(base)
	var confirm bool

	// step 1: welcome
	newScreen()
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your strategy trading.\n"))

	fmt.Println(stepStyle.Render("STEP 1: MODE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should orders go?").
				Options(
					huh.NewOption("Binance testnet (mainnet market data)", string(config.ModeTestnet)),
					huh.NewOption("Binance live", string(config.ModeLive)),
					huh.NewOption("Simulation (paper wallet)", string(config.ModeSimulate)),
				).
				Value(&answers.Mode),
		),
	).Run()
	if err != nil {
		return "", err
	}

	newScreen()
	fmt.Println(stepStyle.Render("STEP 2: STRATEGY"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Strategy file").
				Description("JSON or YAML artifact with the strategy and performance sections").
				Value(&answers.StrategyFile).
				Validate(validateStrategyFile),
		),
	).Run()
	if err != nil {
		return "", err
	}

	newScreen()
	fmt.Println(stepStyle.Render("STEP 3: TIMING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Poll Interval").
				Description("Duration string (e.g. 30s, 1m, 5m)").
				Value(&answers.PollInterval).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if answers.Mode == string(config.ModeSimulate) {
		newScreen()
		fmt.Println(stepStyle.Render("STEP 4: PAPER WALLET"))
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Starting quote balance").
					Description("Used only when no saved simulation state exists").
					Value(&answers.SimulatedBalance).
					Validate(validateBalance),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	newScreen()
	fmt.Println(stepStyle.Render("STEP 5: EXTRAS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Dashboard address").
				Description("e.g. :8080, leave empty to disable").
				Value(&answers.WebAddr),
			huh.NewInput().
				Title("ntfy topic").
				Description("Push notifications for executed orders, leave empty to disable").
				Value(&answers.NtfyTopic),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// confirmation
	newScreen()
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Mode: %s\nStrategy: %s\nInterval: %s\nDashboard: %s\nNotifications: %s\n",
		answers.Mode, answers.StrategyFile, answers.PollInterval,
		orDisabled(answers.WebAddr), orDisabled(answers.NtfyTopic),
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", errors.New("setup cancelled by user")
	}

	cfg, err := answers.Apply(base)
	if err != nil {
		return "", err
	}
	if err := WriteConfig(ConfigFile, cfg); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bot...", ConfigFile)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return ConfigFile, nil
}

func newScreen() {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
}

func validateStrategyFile(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("strategy file cannot be empty")
	}
	switch strings.ToLower(s[strings.LastIndex(s, ".")+1:]) {
	case "json", "yaml", "yml":
		return nil
	}
	return errors.New("strategy file must be .json, .yaml or .yml")
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a duration such as 30s")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func validateBalance(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

func orDisabled(s string) string {
	if strings.TrimSpace(s) == "" {
		return "disabled"
	}
	return s
}
