package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pandora-cas/goclient/pkg/account"
	"github.com/pandora-cas/goclient/pkg/events"
)

var (
	watchJSON   bool
	watchRecord string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail the event stream",
	Long: `Subscribe to both downstream topics (pandora_cas_event and
pandora_cas_command) and print every payload as it arrives. Runs until
interrupted.

With --record, every payload is additionally appended to a JSON-lines log
for later inspection.

Examples:
  pandoractl watch
  pandoractl watch --json | jq .
  pandoractl watch --record /var/log/pandora/events.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, acct *account.Account) error {
			if watchRecord != "" {
				sink, err := events.NewFileSink(watchRecord, events.RotationConfig{
					MaxSize:    10 * 1024 * 1024,
					MaxBackups: 5,
				})
				if err != nil {
					return err
				}
				acct.SetEventSink(sink)
			}

			eventHandle, eventCh := acct.Events(events.TopicEvent)
			defer acct.UnsubscribeEvents(events.TopicEvent, eventHandle)
			cmdHandle, cmdCh := acct.Events(events.TopicCommand)
			defer acct.UnsubscribeEvents(events.TopicCommand, cmdHandle)

			fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", app.cfg.Username)

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case <-ctx.Done():
					return nil
				case payload, ok := <-eventCh:
					if !ok {
						return nil
					}
					printPayload(enc, events.TopicEvent, payload)
				case payload, ok := <-cmdCh:
					if !ok {
						return nil
					}
					printPayload(enc, events.TopicCommand, payload)
				}
			}
		})
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "One JSON object per line")
	watchCmd.Flags().StringVar(&watchRecord, "record", "", "Append every payload to a JSON-lines log at this path")
}

func printPayload(enc *json.Encoder, topic events.Topic, payload interface{}) {
	if watchJSON {
		enc.Encode(map[string]interface{}{
			"topic":   topic,
			"payload": payload,
		})
		return
	}

	stamp := time.Now().Format("15:04:05")
	switch p := payload.(type) {
	case events.EventPayload:
		title := p.TitlePrimary
		if p.TitleSecondary != "" {
			title += "/" + p.TitleSecondary
		}
		fmt.Printf("%s %s device=%d type=%s codes=%d/%d %s\n",
			stamp, bold("event"), p.DeviceID, p.EventType,
			p.EventIDPrimary, p.EventIDSecondary, title)
	case events.CommandPayload:
		verdict := green("ok")
		if p.Result != 0 {
			verdict = red(fmt.Sprintf("result=%d reply=%d", p.Result, p.Reply))
		}
		fmt.Printf("%s %s device=%d command=%d %s\n",
			stamp, bold("command"), p.DeviceID, p.CommandID, verdict)
	default:
		fmt.Printf("%s %s %v\n", stamp, topic, payload)
	}
}
