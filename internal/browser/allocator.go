package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/tjbishop07/autoteller/internal/config"
)

// launchFlag is one Chrome command-line switch. Bool true renders as a bare
// switch, any other value as --name=value.
type launchFlag struct {
	Name  string
	Value any
}

// launchFlags computes the effective Chrome switch set for the configured
// browser. Defaults favor stability in containers; the config's args slice is
// layered on top so operators can override anything.
func launchFlags(cfg config.BrowserConfig) []launchFlag {
	flags := []launchFlag{
		{Name: "no-sandbox", Value: true},
		{Name: "disable-gpu", Value: true},
		{Name: "no-first-run", Value: true},
		{Name: "no-default-browser-check", Value: true},
		{Name: "disable-dev-shm-usage", Value: true},
		{Name: "enable-automation", Value: true},
	}

	if cfg.Headless {
		flags = append(flags, launchFlag{Name: "headless", Value: true})
	}

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		flags = append(flags, launchFlag{
			Name:  "window-size",
			Value: fmt.Sprintf("%d,%d", cfg.ViewportWidth, cfg.ViewportHeight),
		})
	}

	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			launchFlag{Name: "ignore-certificate-errors", Value: true},
			launchFlag{Name: "allow-insecure-localhost", Value: true},
		)
	}

	for _, arg := range cfg.Args {
		// Both "--key=value" and bare "--key" forms are accepted.
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags = append(flags, launchFlag{Name: key, Value: value})
		} else {
			flags = append(flags, launchFlag{Name: key, Value: true})
		}
	}
	return flags
}

// DefaultAllocatorOptions builds the chromedp launch options for the
// configured browser.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := launchFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}

// describeOptions renders a loggable summary of the launch configuration.
func describeOptions(cfg config.BrowserConfig) string {
	mode := "headful"
	if cfg.Headless {
		mode = "headless"
	}
	return fmt.Sprintf("%s %dx%d (+%d custom args)", mode, cfg.ViewportWidth, cfg.ViewportHeight, len(cfg.Args))
}
