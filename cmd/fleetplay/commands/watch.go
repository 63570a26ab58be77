package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fleetplay/fleetplay/pkg/config"
	"github.com/fleetplay/fleetplay/pkg/playbook"
)

// watchDebounce coalesces the event bursts editors produce on save.
const watchDebounce = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <playbook>",
		Short: "Re-validate a playbook whenever it changes",
		Long: `Watch a playbook document and re-validate it on every change.

Useful while authoring: each save reports schema or structural errors
immediately. The watch runs until interrupted.`,
		Example: `  fleetplay watch deploy.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			checkDocument(path)

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			// Watch the directory: editors that write-and-rename replace
			// the file, which drops a watch on the file itself.
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}

			var timer *time.Timer
			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(event.Name) != filepath.Clean(path) {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDebounce, func() {
						checkDocument(path)
					})

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("watch error")

				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	return cmd
}

// checkDocument validates one document and prints the outcome.
func checkDocument(path string) {
	doc, err := config.LoadDocument(path)
	if err == nil {
		p := playbook.New(playbook.Options{Logger: zerolog.Nop()})
		err = p.FromMap(doc)
	}

	stamp := time.Now().Format("15:04:05")
	if err != nil {
		fmt.Printf("[%s] %s: INVALID: %v\n", stamp, path, err)
		return
	}
	fmt.Printf("[%s] %s: valid\n", stamp, path)
}
