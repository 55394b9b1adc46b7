package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"leadpilot/internal/campaign"
	"leadpilot/internal/store"
)

// seedFile is the YAML bootstrap format: a list of campaign
// definitions imported on startup. Campaign names are the identity
// key; an existing name is never overwritten.
type seedFile struct {
	Campaigns []seedCampaign `yaml:"campaigns"`
}

type seedCampaign struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	ProjectID   string         `yaml:"projectId"`
	// Config uses the same shape as the API payload. It is decoded
	// loosely here and round-tripped through JSON so the YAML keys
	// match the wire keys exactly.
	Config map[string]any `yaml:"config"`
}

// ImportSeed creates every campaign in the seed file that does not
// already exist by name. Invalid entries are logged and skipped.
func (o *Orchestrator) ImportSeed(path string) error {
	if o.store == nil {
		return ErrUnavailable
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	existing, err := o.store.ListCampaigns(store.CampaignFilter{})
	if err != nil {
		return fmt.Errorf("list campaigns: %w", err)
	}
	byName := make(map[string]bool, len(existing))
	for _, c := range existing {
		byName[c.Name] = true
	}

	created := 0
	for _, sc := range seed.Campaigns {
		if byName[sc.Name] {
			continue
		}
		cfg, err := decodeSeedConfig(sc.Config)
		if err != nil {
			o.logger.Error("seed campaign has invalid config",
				zap.String("campaign", sc.Name), zap.Error(err))
			continue
		}
		if _, err := o.Create(CreateRequest{
			Name:        sc.Name,
			Description: sc.Description,
			ProjectID:   sc.ProjectID,
			Config:      cfg,
		}); err != nil {
			o.logger.Error("seed campaign rejected",
				zap.String("campaign", sc.Name), zap.Error(err))
			continue
		}
		byName[sc.Name] = true
		created++
	}
	o.logger.Info("seed import done",
		zap.String("file", path),
		zap.Int("defined", len(seed.Campaigns)),
		zap.Int("created", created))
	return nil
}

// decodeSeedConfig round-trips the loosely decoded YAML through JSON so
// the config's json tags apply.
func decodeSeedConfig(m map[string]any) (campaign.Config, error) {
	var cfg campaign.Config
	b, err := json.Marshal(m)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// watchSeed re-imports the seed file when it changes. Editors rewrite
// files with remove-then-create, so the watch is on the directory and
// events are filtered by name and debounced.
func (o *Orchestrator) watchSeed(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					o.logger.Info("seed file changed, re-importing",
						zap.String("file", path))
					if err := o.ImportSeed(path); err != nil {
						o.logger.Error("seed re-import failed", zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				o.logger.Warn("seed watcher error", zap.Error(err))
			}
		}
	}()

	o.logger.Info("watching seed file", zap.String("file", path))
	return nil
}
