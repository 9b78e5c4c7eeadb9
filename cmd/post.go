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
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blacktop/xpostd/internal/config"
	"github.com/blacktop/xpostd/internal/publish"
	"github.com/blacktop/xpostd/internal/status"
	"github.com/blacktop/xpostd/internal/xpost"
)

const (
	defaultAltText = "Image attached via xpostd"
	cliDestination = "default"
)

var defaultTargets = []string{"bluesky", "mastodon", "twitter"}

var (
	messageFlag    string
	imagePaths     []string
	videoPaths     []string
	mediaAlt       string
	targetsFlag    []string
	destIDFlag     string
	dryRun         bool
	toStory        bool
	skipFeed       bool
	priorityFlag   string
	minCaptionFlag int
)

func newPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post [message]",
		Short: "Publish one message to one or more platforms",
		Long: "post publishes the same update to each target through the same queue, pacing and retry " +
			"policy the service uses. Provide the message as an argument, with --message, or on stdin. " +
			"Credentials are read from each platform's XPOST_* environment variables.",
		RunE: runPost,
		Example: `  xpostd post --message "hello world" --image ./shot.png
  xpostd post "Ship it!" --target twitter --target mastodon
  echo "Release shipped" | xpostd post --target all`,
	}

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringSliceVar(&imagePaths, "image", nil, "Path to an image to attach (repeatable)")
	cmd.Flags().StringSliceVar(&videoPaths, "video", nil, "Path to a video to attach (repeatable)")
	cmd.Flags().StringVar(&mediaAlt, "alt-text", "", "Alternative text to describe the media")
	cmd.Flags().StringSliceVar(&targetsFlag, "target", defaultTargets, "Targets to post to ("+platformList()+", or all)")
	cmd.Flags().StringVar(&destIDFlag, "id", "", "Account id on the target (page id for facebook, handle for bluesky)")
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", "normal", "Priority (low, normal, high)")
	cmd.Flags().BoolVar(&toStory, "story", false, "Also publish the first media item as a story")
	cmd.Flags().BoolVar(&skipFeed, "no-feed", false, "Do not publish to the feed")
	cmd.Flags().IntVar(&minCaptionFlag, "min-caption", 0, "Replace captions shorter than this many characters with the advisory (0 disables)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate without contacting any platform")
	cmd.Flags().SortFlags = false

	return cmd
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	message, err := resolveMessage(cmd, args)
	if err != nil {
		return err
	}
	targets, err := normalizeTargets(targetsFlag)
	if err != nil {
		return err
	}
	pri, err := xpost.ParsePriority(priorityFlag)
	if err != nil {
		return err
	}
	media, err := loadMedia(imagePaths, videoPaths, strings.TrimSpace(mediaAlt))
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pcfg := cfg.PublishConfig()
	pcfg.CaptionMinLength = minCaptionFlag

	registry := publish.NewRegistry(pcfg, platformFactories(), status.LogSink{})
	defer registry.Close()

	req := xpost.Request{
		Caption:  message,
		Media:    media,
		Priority: pri,
		Options: xpost.Options{
			PublishToFeed:  !skipFeed,
			PublishToStory: toStory,
			DryRun:         dryRun,
		},
	}

	destID := destIDFlag
	if destID == "" {
		destID = cliDestination
	}

	var errs []error
	for _, target := range targets {
		svc, err := registry.Get(ctx, xpost.Destination{Platform: target, ID: destID})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}

		fmt.Fprintf(out, "posting to %s...\n", target)
		res, err := svc.Publish(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		if !res.Success {
			errs = append(errs, fmt.Errorf("%s: %s: %s", target, res.Error.Code, res.Error.Message))
			continue
		}
		if publish.IsDryRunID(res.PostID) {
			fmt.Fprintf(out, "[dry-run] would post to %s: %q (%d media)\n", target, req.Caption, len(media))
			continue
		}
		fmt.Fprintf(out, "posted to %s: %s\n", target, res.PostID)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return "", errors.New("message is required")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	message = strings.TrimSpace(string(data))

	if message == "" {
		return "", errors.New("message is required")
	}

	return message, nil
}

func normalizeTargets(values []string) ([]string, error) {
	if len(values) == 0 {
		return sortedTargets(defaultTargets), nil
	}

	factories := platformFactories()
	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return sortedTargets(defaultTargets), nil
		}
		if raw == "x" {
			raw = "twitter"
		}
		if _, ok := factories[raw]; !ok {
			return nil, fmt.Errorf("unsupported target %q", raw)
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		result = append(result, raw)
	}

	if len(result) == 0 {
		return nil, errors.New("no targets selected")
	}

	return sortedTargets(result), nil
}

func sortedTargets(targets []string) []string {
	out := append([]string(nil), targets...)
	sort.Strings(out)
	return out
}

func loadMedia(images, videos []string, alt string) ([]xpost.MediaAsset, error) {
	var assets []xpost.MediaAsset
	add := func(path string, kind xpost.MediaKind) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", kind, err)
		}
		asset := xpost.MediaAsset{
			Data:     data,
			Kind:     kind,
			MimeType: http.DetectContentType(data),
			AltText:  alt,
		}
		if asset.AltText == "" && kind == xpost.MediaImage {
			asset.AltText = defaultAltText
		}
		if asset.MimeType == "application/octet-stream" {
			asset.MimeType = ""
		}
		assets = append(assets, asset)
		return nil
	}
	for _, p := range images {
		if err := add(p, xpost.MediaImage); err != nil {
			return nil, err
		}
	}
	for _, p := range videos {
		if err := add(p, xpost.MediaVideo); err != nil {
			return nil, err
		}
	}
	return assets, nil
}
