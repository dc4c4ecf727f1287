// Copyright 2024 Shop Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/shop-assistant/internal/logging"
	"github.com/your-org/shop-assistant/internal/pipeline"
	"github.com/your-org/shop-assistant/internal/session"
	"github.com/your-org/shop-assistant/internal/streaming"
	"github.com/your-org/shop-assistant/internal/synth"
)

const chatHelp = `Commands:
  /history  show this session's transcript
  /clear    forget this session's history
  /quit     leave`

type chatOptions struct {
	userID    int64
	sessionID string
	verbose   bool
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: `Talk to the assistant from the terminal, using the same pipeline as the server.

Examples:
  shopbot chat
  shopbot chat --user 7 --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(true)
			if err != nil {
				return err
			}
			// keep the console readable unless asked otherwise
			if !opts.verbose && cfg.Logging.Output != "file" {
				cfg.Logging.Level = "error"
			}
			logger, err := logging.New(cfg.Logging, "shopbot")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return runChat(ctx, a.pipeline, a.sessions, opts, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().Int64Var(&opts.userID, "user", 0, "customer id to chat as (0 is anonymous)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id to resume (default: a new session)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print pipeline progress")
	return cmd
}

// runChat is the read-eval-print loop
func runChat(ctx context.Context, p *pipeline.Pipeline, sessions *session.Store, opts *chatOptions, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}

	fmt.Fprintf(out, "Session %s. Type /help for commands.\n", sessionID)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/clear":
			msg, err := p.Clear(ctx, sessionID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, msg)
			continue
		case "/history":
			history, err := sessions.History(ctx, sessionID)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if len(history) == 0 {
				fmt.Fprintln(out, "(empty)")
				continue
			}
			fmt.Fprintln(out, session.FormatTranscript(history))
			continue
		}

		var events *streaming.EventStream
		if opts.verbose {
			events = streaming.NewEventStream(sessionID)
			events.Subscribe(func(e streaming.Event) {
				fmt.Fprintf(out, "  [%s] %s\n", e.Stage, e.Message)
			})
		}

		turn, err := p.Run(ctx, pipeline.Request{SessionID: sessionID, Question: line, UserID: opts.userID}, events)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Turn failed", zap.Error(err))
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		printAnswer(out, turn.FinalAnswer)
	}
}

// printAnswer renders an order-form marker as a hint instead of raw text
func printAnswer(out io.Writer, answer string) {
	requestID, product, ok := synth.ParseMarker(answer)
	if !ok {
		fmt.Fprintf(out, "bot> %s\n", answer)
		return
	}

	fmt.Fprintf(out, "bot> %s\n", synth.StripMarkers(answer))
	fmt.Fprintf(out, "     [order form] request %s", requestID)
	if product != "" {
		fmt.Fprintf(out, ", product %q", product)
	}
	fmt.Fprintln(out, ". Submit with POST /v1/orders.")
}
