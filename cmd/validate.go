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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blacktop/xpostd/internal/config"
	"github.com/blacktop/xpostd/internal/publish"
	"github.com/blacktop/xpostd/internal/status"
	"github.com/blacktop/xpostd/internal/xpost"
)

var (
	validateTargets []string
	validateID      string
	validateToken   string
	validateForce   bool
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check platform credentials",
		Long: "validate checks that each target's credentials are well formed. With --force it also " +
			"asks the platform who the credentials belong to.",
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
	cmd.Flags().StringSliceVar(&validateTargets, "target", defaultTargets, "Targets to validate ("+platformList()+", or all)")
	cmd.Flags().StringVar(&validateID, "id", "", "Account id on the target")
	cmd.Flags().StringVar(&validateToken, "token", "", "Credential to validate instead of the environment")
	cmd.Flags().BoolVar(&validateForce, "force", false, "Contact the platform")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	targets, err := normalizeTargets(validateTargets)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	registry := publish.NewRegistry(cfg.PublishConfig(), platformFactories(), status.Discard)
	defer registry.Close()

	destID := validateID
	if destID == "" {
		destID = cliDestination
	}

	var errs []error
	for _, target := range targets {
		svc, err := registry.Get(ctx, xpost.Destination{Platform: target, ID: destID, Credential: validateToken})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		id := svc.Validate(ctx, validateForce)
		if !id.Valid {
			errs = append(errs, fmt.Errorf("%s: %s", target, id.Reason))
			continue
		}
		fmt.Fprintf(out, "%s: ok (%s)\n", target, id.Name)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
