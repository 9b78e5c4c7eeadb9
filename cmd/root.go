/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/blacktop/xpostd/internal/xpost/bluesky"
	"github.com/blacktop/xpostd/internal/xpost/facebook"
	"github.com/blacktop/xpostd/internal/xpost/mastodon"
	"github.com/blacktop/xpostd/internal/xpost/twitter"
)

var (
	verbose   bool
	logLevel  string
	logFormat string
)

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xpostd",
		Short: "Priority-aware, rate-limited publishing to social networks",
		Long: "xpostd queues posts per destination account, paces them under each platform's publish limit, " +
			"retries transient failures and reports every request's lifecycle. Run it as an HTTP service " +
			"with serve, or publish once from the shell with post.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: configureLogging,
		Example: `  xpostd serve
  xpostd post "Ship it!" --target twitter --target mastodon
  echo "Release shipped" | xpostd post --target all --dry-run
  xpostd validate --target facebook --id 1234567890 --force`,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json, logfmt); defaults to text on a terminal")

	cmd.AddCommand(
		newServeCommand(),
		newPostCommand(),
		newValidateCommand(),
		newCompletionCommand(),
	)

	return cmd
}

func configureLogging(cmd *cobra.Command, args []string) error {
	format := logFormat
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	if err := logutil.SetFormat(format); err != nil {
		return err
	}
	if logLevel != "" {
		if err := logutil.SetLevel(logLevel); err != nil {
			return err
		}
	}
	if verbose {
		logutil.SetVerbose(true)
	}
	return nil
}

// platformFactories maps lower-case platform names to adapter constructors.
func platformFactories() map[string]xpost.Factory {
	return map[string]xpost.Factory{
		"bluesky":  bluesky.New,
		"facebook": facebook.New,
		"mastodon": mastodon.New,
		"twitter":  twitter.New,
		"x":        twitter.New,
	}
}

func supportedPlatforms() []string {
	names := make([]string, 0, len(platformFactories()))
	for name := range platformFactories() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func platformList() string {
	return strings.Join(supportedPlatforms(), ", ")
}
