package server

import (
	"log/slog"
	"strings"

	"github.com/txn2/room-engine/pkg/config"
	"github.com/txn2/room-engine/pkg/plugin"
	adminplugin "github.com/txn2/room-engine/pkg/plugins/admin"
	"github.com/txn2/room-engine/pkg/plugins/mines"
	"github.com/txn2/room-engine/pkg/plugins/stats"
	"github.com/txn2/room-engine/pkg/plugins/top"
)

// builtins returns the bundled handlers minus the disabled ones. Disabled
// entries match with or without the leading "!".
func builtins(cfg config.PluginsConfig) []plugin.Handler {
	admins := adminplugin.NewAdmins(cfg.Admins)
	all := []plugin.Handler{
		mines.New(),
		top.New(0),
		stats.New(),
		adminplugin.NewJoin(admins),
		adminplugin.NewLeave(admins),
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, d := range cfg.Disabled {
		disabled[bareTrigger(d)] = true
	}

	out := make([]plugin.Handler, 0, len(all))
	for _, h := range all {
		if disabled[bareTrigger(h.Trigger())] {
			slog.Info("plugin disabled", "plugin", h.Trigger())
			continue
		}
		out = append(out, h)
	}
	return out
}

func bareTrigger(s string) string {
	return strings.TrimPrefix(plugin.NormalizeTrigger(s), "!")
}
